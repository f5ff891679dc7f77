package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/internal/repository"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// Processor executes one job, filling in its summary.
type Processor interface {
	Process(ctx context.Context, job *domain.Job) error
}

// Config holds worker pool configuration.
type Config struct {
	Workers      int
	PollInterval time.Duration
}

// Pool runs queued fetch, import and comment refresh jobs. With the default
// single worker, runs never overlap.
type Pool struct {
	workers      int
	pollInterval time.Duration
	jobs         repository.JobRepository
	processor    Processor
	events       domain.EventEmitter
	logger       *slog.Logger

	wake   chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a worker pool. events may be nil.
func NewPool(cfg Config, jobs repository.JobRepository, processor Processor, events domain.EventEmitter, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		jobs:         jobs,
		processor:    processor,
		events:       events,
		logger:       logger,
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches all workers.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Wake asks an idle worker to look at the queue now instead of on its next
// tick. It never blocks.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stop cancels running jobs and waits for the workers to exit.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			logger.Debug("worker stopping")
			return
		case <-ticker.C:
		case <-p.wake:
		}
		p.drain(logger)
	}
}

// drain runs queued jobs back to back until the queue is empty or a job
// fails. A failed job is retried on a later tick.
func (p *Pool) drain(logger *slog.Logger) {
	for p.ctx.Err() == nil && p.runNext(logger) {
	}
}

// runNext runs one job and reports whether it completed.
func (p *Pool) runNext(logger *slog.Logger) bool {
	job, err := p.jobs.Dequeue(p.ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoJobs) {
			logger.Error("failed to dequeue job", "error", err)
		}
		return false
	}

	logger = logger.With("job_id", job.ID, "kind", job.Kind)

	job.MarkProcessing()
	if err := p.jobs.Update(p.ctx, job); err != nil {
		logger.Error("failed to mark job processing", "error", err)
		return false
	}
	logger.Info("running job", "previous_attempts", job.Attempts)

	if err := p.processor.Process(p.ctx, job); err != nil {
		p.fail(logger, job, err)
		return false
	}

	job.MarkCompleted()
	if err := p.jobs.Update(p.ctx, job); err != nil {
		logger.Error("failed to mark job completed", "error", err)
	}

	if s := job.Summary; s != nil {
		logger.Info("job completed",
			"imported", s.PostsImported,
			"updated", s.PostsUpdated,
			"skipped", s.PostsSkipped,
			"comments", s.CommentsImported,
			"errors", len(s.Errors),
		)
	} else {
		logger.Info("job completed")
	}
	return true
}

func (p *Pool) fail(logger *slog.Logger, job *domain.Job, err error) {
	job.MarkFailed(err.Error())

	if job.CanRetry() {
		logger.Warn("job failed, will retry",
			"error", err,
			"attempt", job.Attempts,
			"max_retries", job.MaxRetries,
		)
	} else {
		logger.Error("job failed permanently",
			"error", err,
			"attempts", job.Attempts,
		)
		p.emitFailure(job)
	}

	if updateErr := p.jobs.Update(p.ctx, job); updateErr != nil {
		logger.Error("failed to update job after failure", "error", updateErr)
	}
}

func (p *Pool) emitFailure(job *domain.Job) {
	if p.events == nil {
		return
	}
	p.events.Emit(domain.Event{
		Severity: domain.EventSeverityError,
		Category: jobCategory(job.Kind),
		Message:  "job failed: " + job.LastError,
		RunID:    string(job.ID),
		Metadata: domain.EventMetadata{"kind": job.Kind, "attempts": job.Attempts}.ToJSON(),
	})
}

func jobCategory(kind domain.JobKind) domain.EventCategory {
	switch kind {
	case domain.JobKindFetch:
		return domain.EventCategoryFetch
	case domain.JobKindImport:
		return domain.EventCategoryImport
	case domain.JobKindRefreshComments:
		return domain.EventCategoryComments
	}
	return domain.EventCategorySystem
}
