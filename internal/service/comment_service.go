package service

import (
	"context"
	"log/slog"

	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/internal/repository"
)

// CommentSource fetches the current comments of an upstream post.
type CommentSource interface {
	FetchComments(ctx context.Context, postID string) ([]domain.Comment, error)
}

// CommentService refreshes stored comment sets from the upstream.
type CommentService struct {
	source   CommentSource
	posts    repository.PostRepository
	comments repository.CommentRepository
	events   domain.EventEmitter
	logger   *slog.Logger
}

// NewCommentService creates a comment refresher.
func NewCommentService(source CommentSource, posts repository.PostRepository, comments repository.CommentRepository, events domain.EventEmitter, logger *slog.Logger) *CommentService {
	return &CommentService{
		source:   source,
		posts:    posts,
		comments: comments,
		events:   events,
		logger:   logger,
	}
}

// Refresh replaces the comment set of a stored post with the upstream's
// current one and returns how many comments were stored. Posts known only
// by a synthetic identifier cannot be refreshed.
func (s *CommentService) Refresh(ctx context.Context, sourcePostID string) (int, error) {
	if domain.IsSyntheticID(sourcePostID) {
		return 0, domain.NewPostError(sourcePostID, "refresh comments", domain.ErrNoUpstreamID)
	}
	if _, err := s.posts.GetBySourceID(ctx, sourcePostID); err != nil {
		return 0, err
	}

	comments, err := s.source.FetchComments(ctx, sourcePostID)
	if err != nil {
		s.emit(domain.EventSeverityError, sourcePostID, "comment refresh failed", domain.EventMetadata{"error": err.Error()})
		return 0, domain.NewPostError(sourcePostID, "fetch comments", err)
	}

	if err := s.comments.ReplaceComments(ctx, sourcePostID, comments); err != nil {
		return 0, err
	}

	s.logger.Info("comments refreshed", "post_id", sourcePostID, "count", len(comments))
	s.emit(domain.EventSeverityInfo, sourcePostID, "comments refreshed", domain.EventMetadata{"count": len(comments)})
	return len(comments), nil
}

func (s *CommentService) emit(severity domain.EventSeverity, postID, message string, meta domain.EventMetadata) {
	if s.events == nil {
		return
	}
	if meta == nil {
		meta = domain.EventMetadata{}
	}
	meta["post_id"] = postID
	s.events.Emit(domain.Event{
		Severity: severity,
		Category: domain.EventCategoryComments,
		Message:  message,
		Metadata: meta.ToJSON(),
	})
}
