package handler

import (
	"log/slog"
	"net/http"

	"github.com/iconidentify/postgrabba/internal/monitor"
)

// MonitorController controls the periodic feed fetch.
type MonitorController interface {
	Status() monitor.Status
	Pause()
	Resume()
	CheckNow() bool
}

// MonitorHandler exposes the feed monitor.
type MonitorHandler struct {
	monitor MonitorController
	logger  *slog.Logger
}

// NewMonitorHandler creates a new monitor handler.
func NewMonitorHandler(m MonitorController, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{monitor: m, logger: logger}
}

// Status handles GET /api/v1/monitor
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

// Pause handles POST /api/v1/monitor/pause
func (h *MonitorHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.monitor.Pause()
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

// Resume handles POST /api/v1/monitor/resume
func (h *MonitorHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.monitor.Resume()
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

// CheckNow handles POST /api/v1/monitor/check
func (h *MonitorHandler) CheckNow(w http.ResponseWriter, r *http.Request) {
	if !h.monitor.CheckNow() {
		writeError(w, http.StatusConflict, "monitor is not running")
		return
	}
	writeJSON(w, http.StatusAccepted, h.monitor.Status())
}
