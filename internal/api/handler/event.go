package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/internal/service"
)

// sseKeepalive is how often an idle stream gets a comment line.
const sseKeepalive = 30 * time.Second

// EventHandler serves the activity log.
type EventHandler struct {
	eventSvc *service.EventService
	logger   *slog.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(eventSvc *service.EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		eventSvc: eventSvc,
		logger:   logger,
	}
}

// EventListResponse contains a page of events.
type EventListResponse struct {
	Events  []domain.Event `json:"events"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
}

// EventStatsResponse summarizes the activity log.
type EventStatsResponse struct {
	Total          int            `json:"total"`
	BySeverity     map[string]int `json:"by_severity"`
	ByCategory     map[string]int `json:"by_category"`
	SSESubscribers int            `json:"sse_subscribers"`
}

// List handles GET /api/v1/events
// Query parameters:
//   - severity: info, warning, error or success
//   - category: fetch, import, comments, media or system
//   - run_id: events of one fetch or import run
//   - search: substring of the message
//   - limit (default 50, max 200), offset
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query domain.EventQuery
	query.Limit, query.Offset = parsePagination(r)

	if sev := q.Get("severity"); sev != "" {
		severity := domain.EventSeverity(sev)
		query.Filter.Severity = &severity
	}
	if cat := q.Get("category"); cat != "" {
		category := domain.EventCategory(cat)
		query.Filter.Category = &category
	}
	query.Filter.RunID = q.Get("run_id")
	query.Filter.SearchText = q.Get("search")

	result := h.eventSvc.Query(query)
	writeJSON(w, http.StatusOK, EventListResponse{
		Events:  result.Events,
		Total:   result.Total,
		Limit:   query.Limit,
		Offset:  query.Offset,
		HasMore: result.HasMore,
	})
}

// Recent handles GET /api/v1/events/recent
func (h *EventHandler) Recent(w http.ResponseWriter, r *http.Request) {
	n := defaultPageLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxPageLimit {
			n = parsed
		}
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Event{"events": h.eventSvc.GetRecent(n)})
}

// Stats handles GET /api/v1/events/stats
func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := EventStatsResponse{
		Total:          h.eventSvc.Query(domain.EventQuery{Limit: 1}).Total,
		BySeverity:     map[string]int{},
		ByCategory:     map[string]int{},
		SSESubscribers: h.eventSvc.SubscriberCount(),
	}
	for _, sev := range []domain.EventSeverity{
		domain.EventSeverityInfo, domain.EventSeverityWarning, domain.EventSeverityError, domain.EventSeveritySuccess,
	} {
		resp.BySeverity[string(sev)] = h.eventSvc.Query(domain.EventQuery{Filter: domain.EventFilter{Severity: &sev}, Limit: 1}).Total
	}
	for _, cat := range eventCategories {
		resp.ByCategory[string(cat)] = h.eventSvc.Query(domain.EventQuery{Filter: domain.EventFilter{Category: &cat}, Limit: 1}).Total
	}
	writeJSON(w, http.StatusOK, resp)
}

var eventCategories = []domain.EventCategory{
	domain.EventCategoryFetch,
	domain.EventCategoryImport,
	domain.EventCategoryComments,
	domain.EventCategoryMedia,
	domain.EventCategorySystem,
}

// Categories handles GET /api/v1/events/categories
func (h *EventHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories := make([]string, 0, len(eventCategories))
	for _, c := range eventCategories {
		categories = append(categories, string(c))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": categories})
}

// Stream handles GET /api/v1/events/stream
// Server-Sent Events endpoint for real-time event streaming.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, eventCh := h.eventSvc.Subscribe()
	defer h.eventSvc.Unsubscribe(subID)

	h.logger.Info("SSE client connected", "subscriber_id", subID, "remote_addr", r.RemoteAddr)

	fmt.Fprintf(w, "event: connected\ndata: {\"subscriber_id\": %d}\n\n", subID)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "subscriber_id", subID)
			return

		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn("failed to serialize event", "event_id", event.ID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: event\ndata: %s\n\n", data)
			flusher.Flush()

		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
