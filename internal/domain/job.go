package domain

import (
	"time"
)

// JobID is a unique identifier for a job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobKind names the operation a job runs.
type JobKind string

const (
	JobKindFetch           JobKind = "fetch"
	JobKindImport          JobKind = "import"
	JobKindRefreshComments JobKind = "refresh_comments"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// FetchRequest parameterizes a live-feed run.
type FetchRequest struct {
	Since        time.Time `json:"since,omitempty"`
	Until        time.Time `json:"until,omitempty"`
	PostType     string    `json:"post_type,omitempty"`
	MaxPages     int       `json:"max_pages,omitempty"`
	Localize     bool      `json:"localize"`
	Quality      string    `json:"quality,omitempty"`
	WithComments bool      `json:"with_comments"`
}

// HasFilters reports whether the caller narrowed the feed at all.
func (r FetchRequest) HasFilters() bool {
	return !r.Since.IsZero() || !r.Until.IsZero() || r.PostType != ""
}

// ImportRequest parameterizes a bulk-archive run.
type ImportRequest struct {
	// Path is the extracted archive root, absolute or relative to the
	// configured import directory.
	Path string `json:"path"`
	// Thumbnails enables frame extraction for archive videos lacking one.
	Thumbnails bool `json:"thumbnails"`
}

// Job is a queued fetch, import or comment-refresh run.
type Job struct {
	ID            JobID          `json:"id"`
	Kind          JobKind        `json:"kind"`
	Status        JobStatus      `json:"status"`
	Attempts      int            `json:"attempts"`
	MaxRetries    int            `json:"max_retries"`
	LastError     string         `json:"last_error,omitempty"`
	Fetch         *FetchRequest  `json:"fetch,omitempty"`
	Import        *ImportRequest `json:"import,omitempty"`
	CommentPostID string         `json:"comment_post_id,omitempty"`
	Summary       *RunSummary    `json:"summary,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewJob creates a new queued job.
func NewJob(id JobID, kind JobKind, maxRetries int) *Job {
	now := time.Now()
	return &Job{
		ID:         id,
		Kind:       kind,
		Status:     JobStatusQueued,
		Attempts:   0,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CanRetry returns true if the job can be retried.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxRetries
}

// MarkProcessing updates the job status to processing.
func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.UpdatedAt = time.Now()
}

// MarkCompleted updates the job status to completed.
func (j *Job) MarkCompleted() {
	j.Status = JobStatusCompleted
	j.UpdatedAt = time.Now()
}

// MarkFailed updates the job status to failed with an error message.
func (j *Job) MarkFailed(err string) {
	j.Attempts++
	j.LastError = err
	j.UpdatedAt = time.Now()

	if j.CanRetry() {
		j.Status = JobStatusRetrying
	} else {
		j.Status = JobStatusFailed
	}
}

// IsTerminal reports whether the job will not run again.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
