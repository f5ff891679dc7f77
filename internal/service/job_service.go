package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/internal/repository"
)

// FetchRunner runs a live fetch.
type FetchRunner interface {
	Run(ctx context.Context, req domain.FetchRequest) *domain.RunSummary
}

// ImportRunner runs an archive import.
type ImportRunner interface {
	Run(ctx context.Context, req domain.ImportRequest) *domain.RunSummary
}

// CommentRefresher replaces a post's comment set.
type CommentRefresher interface {
	Refresh(ctx context.Context, sourcePostID string) (int, error)
}

// JobService queues runs and executes them for the worker pool.
type JobService struct {
	jobs       repository.JobRepository
	fetch      FetchRunner
	imports    ImportRunner
	comments   CommentRefresher
	maxRetries int
	notify     func()
	logger     *slog.Logger
}

// NewJobService creates a job service. Any runner may be nil, in which case
// jobs of that kind fail.
func NewJobService(jobs repository.JobRepository, fetch FetchRunner, imports ImportRunner, comments CommentRefresher, maxRetries int, logger *slog.Logger) *JobService {
	return &JobService{
		jobs:       jobs,
		fetch:      fetch,
		imports:    imports,
		comments:   comments,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// NotifyOnEnqueue registers fn to be called after every queued job, so a
// waiting worker can start it immediately.
func (s *JobService) NotifyOnEnqueue(fn func()) {
	s.notify = fn
}

// SubmitFetch queues a live fetch.
func (s *JobService) SubmitFetch(ctx context.Context, req domain.FetchRequest) (*domain.Job, error) {
	job := s.newJob(domain.JobKindFetch)
	job.Fetch = &req
	return job, s.enqueue(ctx, job)
}

// SubmitImport queues an archive import.
func (s *JobService) SubmitImport(ctx context.Context, req domain.ImportRequest) (*domain.Job, error) {
	job := s.newJob(domain.JobKindImport)
	job.Import = &req
	return job, s.enqueue(ctx, job)
}

// SubmitCommentRefresh queues a comment refresh for one post.
func (s *JobService) SubmitCommentRefresh(ctx context.Context, sourcePostID string) (*domain.Job, error) {
	if domain.IsSyntheticID(sourcePostID) {
		return nil, domain.NewPostError(sourcePostID, "refresh comments", domain.ErrNoUpstreamID)
	}
	job := s.newJob(domain.JobKindRefreshComments)
	job.CommentPostID = sourcePostID
	return job, s.enqueue(ctx, job)
}

// Get returns a job by ID.
func (s *JobService) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	return s.jobs.Get(ctx, id)
}

// List returns recent jobs, newest first.
func (s *JobService) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	return s.jobs.List(ctx, limit)
}

// Stats returns queue statistics.
func (s *JobService) Stats(ctx context.Context) (*repository.QueueStats, error) {
	return s.jobs.Stats(ctx)
}

func (s *JobService) newJob(kind domain.JobKind) *domain.Job {
	return domain.NewJob(domain.JobID("job_"+uuid.New().String()[:8]), kind, s.maxRetries)
}

func (s *JobService) enqueue(ctx context.Context, job *domain.Job) error {
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s job: %w", job.Kind, err)
	}
	s.logger.Info("job queued", "job_id", job.ID, "kind", job.Kind)
	if s.notify != nil {
		s.notify()
	}
	return nil
}

// Process executes a dequeued job and attaches its run summary. Fetch and
// import runs report problems in the summary and do not fail the job.
func (s *JobService) Process(ctx context.Context, job *domain.Job) error {
	switch job.Kind {
	case domain.JobKindFetch:
		if s.fetch == nil || job.Fetch == nil {
			return fmt.Errorf("%w: %s", domain.ErrUnknownJobKind, job.Kind)
		}
		job.Summary = s.fetch.Run(ctx, *job.Fetch)
		return nil

	case domain.JobKindImport:
		if s.imports == nil || job.Import == nil {
			return fmt.Errorf("%w: %s", domain.ErrUnknownJobKind, job.Kind)
		}
		job.Summary = s.imports.Run(ctx, *job.Import)
		return nil

	case domain.JobKindRefreshComments:
		if s.comments == nil {
			return fmt.Errorf("%w: %s", domain.ErrUnknownJobKind, job.Kind)
		}
		summary := domain.NewRunSummary(string(job.ID), domain.ProvenanceAPI)
		n, err := s.comments.Refresh(ctx, job.CommentPostID)
		if err != nil {
			summary.AddError("%v", err)
			job.Summary = summary.Finish()
			return err
		}
		summary.CommentsImported = n
		job.Summary = summary.Finish()
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrUnknownJobKind, job.Kind)
}
