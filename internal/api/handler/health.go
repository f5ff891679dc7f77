package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/postgrabba/internal/media"
	"github.com/iconidentify/postgrabba/internal/repository"
)

var startTime = time.Now()

// PostStatter reports post store statistics.
type PostStatter interface {
	Stats(ctx context.Context) (*repository.PostStats, error)
}

// StorageStatter reports media store statistics.
type StorageStatter interface {
	Stats() (media.StorageStats, error)
	Root() string
}

// HealthHandler handles health check and statistics endpoints.
type HealthHandler struct {
	jobRepo repository.JobRepository
	posts   PostStatter
	storage StorageStatter
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler. storage may be nil when
// media localization is not configured.
func NewHealthHandler(jobRepo repository.JobRepository, posts PostStatter, storage StorageStatter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		jobRepo: jobRepo,
		posts:   posts,
		storage: storage,
		logger:  logger,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Error     string                 `json:"error,omitempty"`
	Queue     *repository.QueueStats `json:"queue,omitempty"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe. The post store and job queue
// must both answer.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)

	if _, err := h.posts.Stats(ctx); err != nil {
		h.logger.Warn("readiness check failed", "component", "posts", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "error", Timestamp: now, Error: "post store unavailable"})
		return
	}

	stats, err := h.jobRepo.Stats(ctx)
	if err != nil {
		h.logger.Warn("readiness check failed", "component", "jobs", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "error", Timestamp: now, Error: "job queue unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: now, Queue: stats})
}

// SystemStats contains process and disk statistics.
type SystemStats struct {
	Uptime         int64   `json:"uptime_seconds"`
	UptimeHuman    string  `json:"uptime_human"`
	MemAllocMB     int64   `json:"mem_alloc_mb"`
	MemSysMB       int64   `json:"mem_sys_mb"`
	NumGoroutines  int     `json:"num_goroutines"`
	NumCPU         int     `json:"num_cpu"`
	CPUPercent     float64 `json:"cpu_percent"`
	DiskTotalBytes int64   `json:"disk_total_bytes"`
	DiskFreeBytes  int64   `json:"disk_free_bytes"`
	DiskFreeHuman  string  `json:"disk_free_human"`
	DiskUsedPct    float64 `json:"disk_used_pct"`
	StoragePath    string  `json:"storage_path,omitempty"`
}

// MediaStats contains media store statistics.
type MediaStats struct {
	media.StorageStats
	BytesHuman string `json:"bytes_human"`
}

// StatsResponse is the JSON response for GET /api/v1/stats.
type StatsResponse struct {
	Posts  *repository.PostStats  `json:"posts"`
	Queue  *repository.QueueStats `json:"queue"`
	Media  *MediaStats            `json:"media,omitempty"`
	System SystemStats            `json:"system"`
}

// Stats handles GET /api/v1/stats.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.Stats(r.Context())
	if err != nil {
		h.logger.Error("post stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute post statistics")
		return
	}
	queue, err := h.jobRepo.Stats(r.Context())
	if err != nil {
		h.logger.Error("queue stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute queue statistics")
		return
	}

	resp := StatsResponse{Posts: posts, Queue: queue, System: systemStats()}

	if h.storage != nil {
		storage, err := h.storage.Stats()
		if err != nil {
			h.logger.Warn("media stats incomplete", "error", err)
		}
		resp.Media = &MediaStats{StorageStats: storage, BytesHuman: humanize.IBytes(uint64(storage.Bytes))}

		root := h.storage.Root()
		total, free := getDiskStats(root)
		resp.System.StoragePath = root
		resp.System.DiskTotalBytes = total
		resp.System.DiskFreeBytes = free
		resp.System.DiskFreeHuman = humanize.IBytes(uint64(max(free, 0)))
		if total > 0 {
			resp.System.DiskUsedPct = float64(total-free) / float64(total) * 100
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func systemStats() SystemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)
	return SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAllocMB:    int64(m.Alloc / 1024 / 1024),
		MemSysMB:      int64(m.Sys / 1024 / 1024),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		CPUPercent:    getCPUUsage(),
	}
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
