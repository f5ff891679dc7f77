package domain

import "errors"

// Domain errors.
var (
	// ErrPostNotFound is returned when a post cannot be found.
	ErrPostNotFound = errors.New("post not found")

	// ErrDuplicatePost is returned when a post with the same upstream ID is already stored.
	ErrDuplicatePost = errors.New("post already stored")

	// ErrDuplicateComment is returned when a comment with the same ID is already stored.
	ErrDuplicateComment = errors.New("comment already stored")

	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobs is returned when there are no jobs to process.
	ErrNoJobs = errors.New("no jobs available")

	// ErrUnknownJobKind is returned when a job names an operation nobody runs.
	ErrUnknownJobKind = errors.New("unknown job kind")

	// ErrInvalidTimestamp is returned when a created_time cannot be parsed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrInvalidQuality is returned for an unknown quality tier name.
	ErrInvalidQuality = errors.New("invalid quality tier")

	// ErrDownloadFailed is returned when a media download fails.
	ErrDownloadFailed = errors.New("media download failed")

	// ErrURLExpired is returned when the media URL has expired.
	ErrURLExpired = errors.New("media URL has expired")

	// ErrRateLimited is returned when rate limited by external services.
	ErrRateLimited = errors.New("rate limited")

	// ErrStorageFull is returned when there is insufficient storage space.
	ErrStorageFull = errors.New("insufficient storage space")

	// ErrUnsupportedMedia is returned when downloaded bytes cannot be decoded as an image.
	ErrUnsupportedMedia = errors.New("unsupported media format")

	// ErrEmptyMediaURL is returned when asked to download nothing.
	ErrEmptyMediaURL = errors.New("empty media URL")

	// ErrThumbnailUnavailable is returned when no frame-extraction tool is configured.
	ErrThumbnailUnavailable = errors.New("thumbnail extraction unavailable")

	// ErrArchiveNotFound is returned when an export archive has no posts directory.
	ErrArchiveNotFound = errors.New("no posts directory found in data export")

	// ErrTooMuchData is returned when the upstream refuses a request as too large.
	ErrTooMuchData = errors.New("too much data requested, narrow the date range")

	// ErrNoUpstreamID is returned when a post has only a synthetic identifier.
	ErrNoUpstreamID = errors.New("post has no upstream identifier")

	// ErrMissingAccessToken is returned when the upstream feed is used without a token.
	ErrMissingAccessToken = errors.New("missing upstream access token")
)

// PostError wraps an error with post context.
type PostError struct {
	PostID string
	Op     string
	Err    error
}

func (e *PostError) Error() string {
	if e.PostID != "" {
		return e.Op + " [" + e.PostID + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *PostError) Unwrap() error {
	return e.Err
}

// NewPostError creates a new PostError.
func NewPostError(postID, op string, err error) *PostError {
	return &PostError{
		PostID: postID,
		Op:     op,
		Err:    err,
	}
}
