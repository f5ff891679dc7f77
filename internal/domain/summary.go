package domain

import (
	"fmt"
	"time"
)

// RunSummary is what every fetch or import run reports instead of failing
// on partial errors.
type RunSummary struct {
	RunID            string     `json:"run_id"`
	Source           Provenance `json:"source"`
	PostsSeen        int        `json:"posts_seen"`
	PostsImported    int        `json:"posts_imported"`
	PostsUpdated     int        `json:"posts_updated"`
	PostsSkipped     int        `json:"posts_skipped"`
	CommentsImported int        `json:"comments_imported"`
	MediaSkipped     int        `json:"media_skipped"`
	MediaFailed      int        `json:"media_failed"`
	PagesFetched     int        `json:"pages_fetched"`
	RateLimited      bool       `json:"rate_limited,omitempty"`
	Errors           []string   `json:"errors"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at"`
}

// NewRunSummary starts a summary for a run.
func NewRunSummary(runID string, source Provenance) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		Source:    source,
		Errors:    []string{},
		StartedAt: time.Now().UTC(),
	}
}

// AddError records a human-readable error.
func (s *RunSummary) AddError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// Finish stamps the end of the run.
func (s *RunSummary) Finish() *RunSummary {
	s.FinishedAt = time.Now().UTC()
	return s
}

// Duration returns how long the run took.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
