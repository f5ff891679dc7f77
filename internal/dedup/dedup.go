// Package dedup decides whether a candidate post is already stored, using
// the upstream identifier when it is stable and a coarse content fingerprint
// otherwise.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iconidentify/postgrabba/internal/domain"
)

// Store is the read side of post persistence the engine consults.
type Store interface {
	ExistsBySourceID(ctx context.Context, sourcePostID string) (bool, error)
	// ListByDateRange returns posts whose created_time date component lies in
	// [from, to], both formatted as domain.DateLayout.
	ListByDateRange(ctx context.Context, from, to string) ([]*domain.StoredPost, error)
}

// Fingerprint identifies semantically identical posts across sources.
type Fingerprint struct {
	Message string
	Photos  int
	Videos  int
}

// FingerprintOf computes the fingerprint of a candidate.
func FingerprintOf(c *domain.CandidatePost) Fingerprint {
	return Fingerprint{
		Message: NormalizeMessage(c.Message),
		Photos:  len(c.Photos),
		Videos:  len(c.Videos),
	}
}

// NormalizeMessage collapses whitespace runs to single spaces and trims the
// ends. Case and punctuation are kept.
func NormalizeMessage(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Reason names why a candidate was rejected.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonSameID      Reason = "same_id"
	ReasonFingerprint Reason = "fingerprint"
)

// Verdict is the outcome of a duplicate check.
type Verdict struct {
	Duplicate bool
	Reason    Reason
	// Match is the stored post that matched by fingerprint, if any.
	Match *domain.StoredPost
}

// Engine runs duplicate checks against a Store.
type Engine struct {
	store      Store
	windowDays int
	logger     *slog.Logger
}

// NewEngine creates an engine comparing candidates against stored posts up
// to windowDays days before or after the candidate's date.
func NewEngine(store Store, windowDays int, logger *slog.Logger) *Engine {
	if windowDays < 0 {
		windowDays = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, windowDays: windowDays, logger: logger}
}

// KnownID reports whether a post with this upstream identifier is stored.
func (e *Engine) KnownID(ctx context.Context, sourcePostID string) (bool, error) {
	if sourcePostID == "" {
		return false, nil
	}
	ok, err := e.store.ExistsBySourceID(ctx, sourcePostID)
	if err != nil {
		return false, fmt.Errorf("lookup source id: %w", err)
	}
	return ok, nil
}

// IsDuplicate reports whether a stored post within the window around
// createdAt has the candidate's fingerprint.
func (e *Engine) IsDuplicate(ctx context.Context, c *domain.CandidatePost, createdAt time.Time) (bool, error) {
	match, err := e.findFingerprint(ctx, c, createdAt)
	if err != nil {
		return false, err
	}
	return match != nil, nil
}

// Check runs the identifier short-circuit for stable identifiers, then the
// fingerprint comparison.
func (e *Engine) Check(ctx context.Context, c *domain.CandidatePost) (Verdict, error) {
	if c.HasStableID() {
		known, err := e.KnownID(ctx, c.SourcePostID)
		if err != nil {
			return Verdict{}, err
		}
		if known {
			return Verdict{Duplicate: true, Reason: ReasonSameID}, nil
		}
	}

	createdAt, err := c.CreatedAt()
	if err != nil {
		e.logger.Debug("candidate has no usable timestamp, skipping fingerprint check",
			"post_id", c.SourcePostID, "created_time", c.CreatedTime)
		return Verdict{}, nil
	}

	match, err := e.findFingerprint(ctx, c, createdAt)
	if err != nil {
		return Verdict{}, err
	}
	if match != nil {
		return Verdict{Duplicate: true, Reason: ReasonFingerprint, Match: match}, nil
	}
	return Verdict{}, nil
}

func (e *Engine) findFingerprint(ctx context.Context, c *domain.CandidatePost, createdAt time.Time) (*domain.StoredPost, error) {
	from, to := Window(createdAt, e.windowDays)
	stored, err := e.store.ListByDateRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list posts in window: %w", err)
	}

	want := FingerprintOf(c)
	for _, p := range stored {
		if FingerprintOf(&p.CandidatePost) == want {
			return p, nil
		}
	}
	return nil, nil
}

// Window returns the inclusive date bounds of the dedup window around t.
// Only the date component of t matters.
func Window(t time.Time, days int) (string, string) {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -days).Format(domain.DateLayout), day.AddDate(0, 0, days).Format(domain.DateLayout)
}
