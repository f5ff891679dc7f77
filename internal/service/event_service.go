package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iconidentify/postgrabba/internal/domain"
)

// DefaultEventBufferSize is the number of events kept in memory.
const DefaultEventBufferSize = 1000

// EventService is the activity log: an in-memory ring buffer of events
// with live subscribers for streaming.
type EventService struct {
	size   int
	logger *slog.Logger

	mu       sync.RWMutex
	events   []domain.Event
	head     int    // next write position
	count    int    // events in buffer
	eventSeq uint64 // monotonic sequence for event IDs

	subMu       sync.RWMutex
	subscribers map[uint64]chan domain.Event
	subSeq      uint64
}

// NewEventService creates an activity log holding up to size events.
func NewEventService(size int, logger *slog.Logger) *EventService {
	if size <= 0 {
		size = DefaultEventBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventService{
		size:        size,
		logger:      logger,
		events:      make([]domain.Event, size),
		subscribers: make(map[uint64]chan domain.Event),
	}
}

// Emit records an event.
func (s *EventService) Emit(event domain.Event) {
	if event.ID == "" {
		seq := atomic.AddUint64(&s.eventSeq, 1)
		event.ID = domain.EventID(fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), seq))
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.events[s.head] = event
	s.head = (s.head + 1) % s.size
	if s.count < s.size {
		s.count++
	}
	s.mu.Unlock()

	s.notifySubscribers(event)

	level := slog.LevelDebug
	switch event.Severity {
	case domain.EventSeverityWarning:
		level = slog.LevelWarn
	case domain.EventSeverityError:
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "event emitted",
		"event_id", event.ID,
		"category", event.Category,
		"severity", event.Severity,
		"run_id", event.RunID,
		"message", event.Message,
	)
}

// Query returns events matching the filter, newest first.
func (s *EventService) Query(query domain.EventQuery) *domain.EventQueryResult {
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}

	s.mu.RLock()
	matched := make([]domain.Event, 0, s.count)
	for i := 0; i < s.count; i++ {
		event := s.events[(s.head-1-i+s.size)%s.size]
		if matchesFilter(event, query.Filter) {
			matched = append(matched, event)
		}
	}
	s.mu.RUnlock()

	total := len(matched)
	start := query.Offset
	if start < 0 {
		start = 0
	}
	if start >= total {
		return &domain.EventQueryResult{Events: []domain.Event{}, Total: total}
	}
	end := start + query.Limit
	if end > total {
		end = total
	}
	return &domain.EventQueryResult{
		Events:  matched[start:end],
		Total:   total,
		HasMore: end < total,
	}
}

// GetRecent returns the most recent n events.
func (s *EventService) GetRecent(n int) []domain.Event {
	return s.Query(domain.EventQuery{Limit: n}).Events
}

func matchesFilter(event domain.Event, filter domain.EventFilter) bool {
	if filter.Severity != nil && event.Severity != *filter.Severity {
		return false
	}
	if filter.Category != nil && event.Category != *filter.Category {
		return false
	}
	if filter.RunID != "" && event.RunID != filter.RunID {
		return false
	}
	if filter.SearchText != "" && !strings.Contains(strings.ToLower(event.Message), strings.ToLower(filter.SearchText)) {
		return false
	}
	return true
}

// Subscribe registers a live subscriber. The caller must call Unsubscribe.
func (s *EventService) Subscribe() (uint64, <-chan domain.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.subSeq++
	id := s.subSeq
	ch := make(chan domain.Event, 100)
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *EventService) Unsubscribe(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *EventService) notifySubscribers(event domain.Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			s.logger.Warn("event subscriber buffer full, dropping event", "subscriber_id", id, "event_id", event.ID)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (s *EventService) SubscriberCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscribers)
}

// runEvents emits events for one run. A nil emitter drops them.
type runEvents struct {
	emitter  domain.EventEmitter
	category domain.EventCategory
	runID    string
}

func (r runEvents) emit(severity domain.EventSeverity, message string, meta domain.EventMetadata) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(domain.Event{
		Severity: severity,
		Category: r.category,
		RunID:    r.runID,
		Message:  message,
		Metadata: meta.ToJSON(),
	})
}

func (r runEvents) started(message string) {
	r.emit(domain.EventSeverityInfo, message, nil)
}

func (r runEvents) failed(message string, err error) {
	r.emit(domain.EventSeverityError, message, domain.EventMetadata{"error": err.Error()})
}

func (r runEvents) finished(summary *domain.RunSummary) {
	severity := domain.EventSeveritySuccess
	if len(summary.Errors) > 0 {
		severity = domain.EventSeverityWarning
	}
	r.emit(severity, fmt.Sprintf("%s run finished: %d imported, %d updated, %d skipped, %d errors",
		summary.Source, summary.PostsImported, summary.PostsUpdated, summary.PostsSkipped, len(summary.Errors)),
		domain.EventMetadata{
			"posts_seen":        summary.PostsSeen,
			"comments_imported": summary.CommentsImported,
			"media_skipped":     summary.MediaSkipped,
			"media_failed":      summary.MediaFailed,
			"duration_ms":       summary.Duration().Milliseconds(),
		})
}
