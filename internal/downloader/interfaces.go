package downloader

import (
	"context"
	"io"
)

// Downloader fetches remote media bytes.
type Downloader interface {
	// Fetch reads a small resource (photo, poster image) fully into memory.
	// The request is bounded by the photo timeout.
	Fetch(ctx context.Context, url string) ([]byte, error)

	// Download opens a streaming body for large resources such as video.
	// Caller is responsible for closing the reader.
	Download(ctx context.Context, url string) (io.ReadCloser, int64, error)
}
