package downloader

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iconidentify/postgrabba/internal/config"
	"github.com/iconidentify/postgrabba/internal/domain"
)

// retry calls fn up to cfg.MaxAttempts times, doubling the delay between
// attempts up to cfg.MaxRetryDelay. Errors rejected by isRetryableError end
// the loop at once.
func retry[T any](ctx context.Context, cfg config.DownloadConfig, logger *slog.Logger, url string, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)
	delay := cfg.RetryDelay

	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if attempt >= attempts || !isRetryableError(err) {
			return zero, err
		}

		logger.Debug("media download failed, retrying",
			"url", url,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if cfg.MaxRetryDelay > 0 && delay > cfg.MaxRetryDelay {
			delay = cfg.MaxRetryDelay
		}
	}
}

// isRetryableError reports whether a failed media request may succeed on a
// later attempt. Expired CDN URLs and client errors never do.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrURLExpired) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}
