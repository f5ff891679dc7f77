package domain

import (
	"encoding/json"
	"time"
)

// EventID is a unique identifier for an activity event.
type EventID string

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	EventSeverityInfo    EventSeverity = "info"
	EventSeverityWarning EventSeverity = "warning"
	EventSeverityError   EventSeverity = "error"
	EventSeveritySuccess EventSeverity = "success"
)

// EventCategory groups events for filtering.
type EventCategory string

const (
	EventCategoryFetch    EventCategory = "fetch"
	EventCategoryImport   EventCategory = "import"
	EventCategoryComments EventCategory = "comments"
	EventCategoryMedia    EventCategory = "media"
	EventCategorySystem   EventCategory = "system"
)

// Event is one entry of the activity log: run boundaries, per-post outcomes
// worth surfacing, and errors.
type Event struct {
	ID        EventID         `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Severity  EventSeverity   `json:"severity"`
	Category  EventCategory   `json:"category"`
	Message   string          `json:"message"`
	RunID     string          `json:"run_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// EventMetadata is a helper type for building event metadata.
type EventMetadata map[string]any

// ToJSON converts metadata to JSON.
func (m EventMetadata) ToJSON() json.RawMessage {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

// EventEmitter is implemented by the activity log. Orchestrators accept a
// nil emitter.
type EventEmitter interface {
	Emit(event Event)
}

// EventFilter specifies criteria for querying events.
type EventFilter struct {
	Severity   *EventSeverity `json:"severity,omitempty"`
	Category   *EventCategory `json:"category,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	SearchText string         `json:"search_text,omitempty"`
}

// EventQuery is a filtered, paginated event query.
type EventQuery struct {
	Filter EventFilter `json:"filter"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// EventQueryResult contains the result of an event query.
type EventQueryResult struct {
	Events  []Event `json:"events"`
	Total   int     `json:"total"`
	HasMore bool    `json:"has_more"`
}
