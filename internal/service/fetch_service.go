package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/iconidentify/postgrabba/internal/config"
	"github.com/iconidentify/postgrabba/internal/dedup"
	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/internal/normalize"
	"github.com/iconidentify/postgrabba/internal/repository"
	"github.com/iconidentify/postgrabba/pkg/graph"
)

// FeedClient is the upstream surface the live fetch needs.
type FeedClient interface {
	FetchFeedPage(ctx context.Context, q graph.FeedQuery, next string) (*graph.FeedPage, error)
	FetchComments(ctx context.Context, postID string) ([]domain.Comment, error)
}

// FetchService pulls the authenticated user's feed into the post store.
type FetchService struct {
	feed       FeedClient
	posts      repository.PostRepository
	normalizer *normalize.Normalizer
	dedup      *dedup.Engine
	media      normalize.MediaStore
	graphCfg   config.GraphConfig
	mediaCfg   config.MediaConfig
	events     domain.EventEmitter
	logger     *slog.Logger
}

// NewFetchService creates a fetch orchestrator. media may be nil, in which
// case localization requests are ignored with a warning. events may be nil.
func NewFetchService(
	feed FeedClient,
	posts repository.PostRepository,
	normalizer *normalize.Normalizer,
	engine *dedup.Engine,
	media normalize.MediaStore,
	graphCfg config.GraphConfig,
	mediaCfg config.MediaConfig,
	events domain.EventEmitter,
	logger *slog.Logger,
) *FetchService {
	return &FetchService{
		feed:       feed,
		posts:      posts,
		normalizer: normalizer,
		dedup:      engine,
		media:      media,
		graphCfg:   graphCfg,
		mediaCfg:   mediaCfg,
		events:     events,
		logger:     logger,
	}
}

// Run fetches up to req.MaxPages feed pages and stores every new post.
// Per-post and per-page failures are recorded in the summary; the run
// itself never fails.
func (s *FetchService) Run(ctx context.Context, req domain.FetchRequest) *domain.RunSummary {
	summary := domain.NewRunSummary(uuid.New().String(), domain.ProvenanceAPI)
	ev := runEvents{emitter: s.events, category: domain.EventCategoryFetch, runID: summary.RunID}
	logger := s.logger.With("run_id", summary.RunID)

	tier, err := s.tier(req)
	if err != nil {
		summary.AddError("%v", err)
		ev.failed("fetch run rejected", err)
		return summary.Finish()
	}

	var loc *normalize.Localize
	if req.Localize {
		if s.media == nil {
			logger.Warn("media localization requested but no media store configured")
		} else {
			loc = &normalize.Localize{Store: s.media, Tier: tier}
		}
	}

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = s.graphCfg.MaxFeedPages
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	query := graph.FeedQuery{Since: req.Since, Until: req.Until, PostType: req.PostType}
	logger.Info("starting feed fetch",
		"since", req.Since,
		"until", req.Until,
		"post_type", req.PostType,
		"max_pages", maxPages,
		"localize", loc != nil,
		"quality", tier.Name,
	)
	ev.started("fetch run started")

	next := ""
	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			summary.AddError("fetch cancelled: %v", err)
			break
		}

		feedPage, err := s.feed.FetchFeedPage(ctx, query, next)
		if err != nil {
			if errors.Is(err, domain.ErrTooMuchData) {
				err = domain.ErrTooMuchData
			}
			summary.RateLimited = errors.Is(err, domain.ErrRateLimited)
			summary.AddError("feed page %d: %v", page, err)
			ev.failed(fmt.Sprintf("feed page %d failed", page), err)
			logger.Warn("feed page fetch failed", "page", page, "error", err)
			break
		}

		for i := range feedPage.Data {
			s.processPost(ctx, &feedPage.Data[i], req, loc, tier, summary, logger)
		}

		next = feedPage.Next()
		if next == "" {
			break
		}
	}

	summary.Finish()
	logger.Info("feed fetch finished",
		"seen", summary.PostsSeen,
		"imported", summary.PostsImported,
		"skipped", summary.PostsSkipped,
		"errors", len(summary.Errors),
		"duration", summary.Duration(),
	)
	ev.finished(summary)
	return summary
}

func (s *FetchService) tier(req domain.FetchRequest) (domain.QualityTier, error) {
	if req.Quality != "" {
		return domain.ParseQualityTier(req.Quality)
	}
	return s.mediaCfg.QualityTier(), nil
}

// processPost runs the per-post pipeline: identifier check, preview
// normalization, fingerprint check, localization, then insert.
func (s *FetchService) processPost(
	ctx context.Context,
	post *domain.FeedPost,
	req domain.FetchRequest,
	loc *normalize.Localize,
	tier domain.QualityTier,
	summary *domain.RunSummary,
	logger *slog.Logger,
) {
	summary.PostsSeen++
	logger = logger.With("post_id", post.ID)

	if post.ID != "" {
		known, err := s.dedup.KnownID(ctx, post.ID)
		if err != nil {
			summary.AddError("post %s: %v", post.ID, err)
			return
		}
		if known {
			summary.PostsSkipped++
			logger.Debug("post already stored")
			return
		}
	}

	// Preview without downloads so duplicates cost no media traffic.
	res := s.normalizer.Normalize(ctx, post, nil)
	summary.PagesFetched += res.PagesFetched
	candidate := normalize.Candidate(post, res)

	createdAt, err := candidate.CreatedAt()
	if err == nil {
		dup, err := s.dedup.IsDuplicate(ctx, candidate, createdAt)
		if err != nil {
			summary.AddError("post %s: %v", post.ID, err)
			return
		}
		if dup {
			summary.PostsSkipped++
			logger.Debug("post matches a stored fingerprint")
			return
		}
	}

	stored := &domain.StoredPost{CandidatePost: *candidate}
	if loc != nil {
		s.normalizer.Localize(ctx, res, createdAt, loc)
		res.Apply(&stored.CandidatePost)
		summary.MediaFailed += res.MediaFailed
		stored.MediaQuality = tier.Name
	}

	if req.WithComments && post.ID != "" {
		comments, err := s.feed.FetchComments(ctx, post.ID)
		if err != nil {
			summary.AddError("comments of %s: %v", post.ID, err)
			logger.Warn("comment fetch failed", "error", err)
		} else {
			stored.Comments = comments
		}
	}

	if err := s.posts.Insert(ctx, stored); err != nil {
		if errors.Is(err, domain.ErrDuplicatePost) {
			summary.PostsSkipped++
			return
		}
		summary.AddError("store post %s: %v", post.ID, err)
		logger.Error("failed to store post", "error", err)
		return
	}

	summary.PostsImported++
	summary.CommentsImported += len(stored.Comments)
	logger.Info("post stored",
		"photos", len(stored.Photos),
		"videos", len(stored.Videos),
		"links", len(stored.Links),
	)
}
