package repository

import (
	"context"

	"github.com/iconidentify/postgrabba/internal/domain"
)

// PostRepository handles post persistence.
type PostRepository interface {
	// Insert stores a new post together with its comments in one
	// transaction. Returns domain.ErrDuplicatePost when the upstream
	// identifier is already stored.
	Insert(ctx context.Context, post *domain.StoredPost) error

	// Update overwrites the mutable fields of a stored post.
	Update(ctx context.Context, post *domain.StoredPost) error

	// GetBySourceID retrieves a post by upstream identifier.
	GetBySourceID(ctx context.Context, sourcePostID string) (*domain.StoredPost, error)

	// ExistsBySourceID reports whether a post with this upstream identifier is stored.
	ExistsBySourceID(ctx context.Context, sourcePostID string) (bool, error)

	// ListByDateRange returns posts whose created_time date lies in [from, to].
	ListByDateRange(ctx context.Context, from, to string) ([]*domain.StoredPost, error)

	// Query returns one page of posts matching the filter, newest first,
	// plus the total number of matches.
	Query(ctx context.Context, filter PostFilter) ([]*domain.StoredPost, int, error)

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*PostStats, error)
}

// CommentRepository handles comment persistence.
type CommentRepository interface {
	// InsertComment stores one comment. Returns domain.ErrDuplicateComment
	// when the ID exists and domain.ErrPostNotFound when the owning post
	// does not.
	InsertComment(ctx context.Context, comment *domain.Comment) error

	// CommentExists reports whether a comment ID is stored.
	CommentExists(ctx context.Context, id string) (bool, error)

	// ReplaceComments swaps the full comment set of a post.
	ReplaceComments(ctx context.Context, sourcePostID string, comments []domain.Comment) error

	// ListComments returns a post's comments, oldest first.
	ListComments(ctx context.Context, sourcePostID string) ([]domain.Comment, error)
}

// JobRepository manages the job queue.
type JobRepository interface {
	// Enqueue adds a job to the queue.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Dequeue retrieves the next pending job (FIFO).
	Dequeue(ctx context.Context) (*domain.Job, error)

	// Update modifies job state.
	Update(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)

	// List returns the most recent jobs, newest first.
	List(ctx context.Context, limit int) ([]*domain.Job, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)
}

// PostFilter narrows a timeline query. Nil tri-state fields are ignored.
type PostFilter struct {
	From       string // inclusive, YYYY-MM-DD
	To         string // inclusive, YYYY-MM-DD
	Keyword    string // case-insensitive substring of the message
	HasPhoto   *bool
	HasVideo   *bool
	HasLinks   *bool
	HasTags    *bool // message mentions someone with "@"
	MinLength  int
	MaxLength  int
	Provenance domain.Provenance
	Limit      int
	Offset     int
}

// PostStats summarizes the post store.
type PostStats struct {
	Total        int                       `json:"total"`
	ByProvenance map[domain.Provenance]int `json:"by_provenance"`
	WithPhotos   int                       `json:"with_photos"`
	WithVideos   int                       `json:"with_videos"`
	WithLinks    int                       `json:"with_links"`
	Comments     int                       `json:"comments"`
	Oldest       string                    `json:"oldest,omitempty"`
	Newest       string                    `json:"newest,omitempty"`
}

// QueueStats contains job queue statistics.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Retrying   int `json:"retrying"`
}
