package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iconidentify/postgrabba/internal/config"
	"github.com/iconidentify/postgrabba/internal/domain"
)

type fakeJobs struct {
	mu        sync.Mutex
	submitted []domain.FetchRequest
	jobs      map[domain.JobID]*domain.Job
	submitErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[domain.JobID]*domain.Job)}
}

func (f *fakeJobs) SubmitFetch(ctx context.Context, req domain.FetchRequest) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	job := domain.NewJob(domain.JobID(fmt.Sprintf("job_%d", len(f.submitted))), domain.JobKindFetch, 0)
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		return job, nil
	}
	return nil, domain.ErrJobNotFound
}

func (f *fakeJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeEvents) Emit(e domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func testConfig() config.MonitorConfig {
	return config.MonitorConfig{
		Enabled:          true,
		PollInterval:     time.Hour,
		LookbackDays:     2,
		MaxPages:         3,
		WithComments:     true,
		RateLimitBackoff: 15 * time.Minute,
	}
}

func newTestMonitor(jobs FetchSubmitter, events domain.EventEmitter) *Monitor {
	m := New(testConfig(), jobs, true, events, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.startupDelay = func() time.Duration { return 0 }
	m.now = func() time.Time { return time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC) }
	return m
}

func TestMonitor_PollQueuesRecentWindow(t *testing.T) {
	jobs := newFakeJobs()
	events := &fakeEvents{}
	m := newTestMonitor(jobs, events)

	if extra := m.poll(context.Background()); extra != 0 {
		t.Errorf("extra delay = %v, want 0", extra)
	}

	if jobs.count() != 1 {
		t.Fatalf("submitted = %d, want 1", jobs.count())
	}
	req := jobs.submitted[0]
	if want := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC); !req.Since.Equal(want) {
		t.Errorf("Since = %v, want %v", req.Since, want)
	}
	if req.MaxPages != 3 || !req.Localize || !req.WithComments {
		t.Errorf("request = %+v", req)
	}
	if s := m.Status(); s.LastJobID != "job_1" || s.LastPoll == nil {
		t.Errorf("status = %+v", s)
	}
	if len(events.events) != 1 || events.events[0].Category != domain.EventCategoryFetch {
		t.Errorf("events = %+v", events.events)
	}
}

func TestMonitor_PollSkipsWhilePreviousPending(t *testing.T) {
	jobs := newFakeJobs()
	m := newTestMonitor(jobs, nil)

	m.poll(context.Background())
	m.poll(context.Background())
	if jobs.count() != 1 {
		t.Fatalf("submitted = %d, want 1 while the first job is queued", jobs.count())
	}

	jobs.jobs["job_1"].MarkCompleted()
	m.poll(context.Background())
	if jobs.count() != 2 {
		t.Errorf("submitted = %d, want 2 after completion", jobs.count())
	}
}

func TestMonitor_PollBacksOffAfterRateLimit(t *testing.T) {
	jobs := newFakeJobs()
	m := newTestMonitor(jobs, nil)

	m.poll(context.Background())
	prev := jobs.jobs["job_1"]
	prev.Summary = &domain.RunSummary{RateLimited: true}
	prev.MarkCompleted()

	if extra := m.poll(context.Background()); extra != 15*time.Minute {
		t.Errorf("extra delay = %v, want 15m", extra)
	}
	if jobs.count() != 1 {
		t.Errorf("submitted = %d, want no new job during backoff", jobs.count())
	}

	if extra := m.poll(context.Background()); extra != 0 {
		t.Errorf("extra delay after backoff = %v, want 0", extra)
	}
	if jobs.count() != 2 {
		t.Errorf("submitted = %d, want 2 after backoff", jobs.count())
	}
}

func TestMonitor_PollSubmitError(t *testing.T) {
	jobs := newFakeJobs()
	jobs.submitErr = errors.New("queue closed")
	m := newTestMonitor(jobs, nil)

	m.poll(context.Background())

	if s := m.Status(); s.LastError != "queue closed" || s.LastJobID != "" {
		t.Errorf("status = %+v", s)
	}
}

func TestMonitor_NoLookback(t *testing.T) {
	jobs := newFakeJobs()
	m := newTestMonitor(jobs, nil)
	m.cfg.LookbackDays = 0

	m.poll(context.Background())

	if !jobs.submitted[0].Since.IsZero() {
		t.Errorf("Since = %v, want zero", jobs.submitted[0].Since)
	}
}

func TestMonitor_DisabledDoesNotStart(t *testing.T) {
	jobs := newFakeJobs()
	m := newTestMonitor(jobs, nil)
	m.cfg.Enabled = false

	m.Start(context.Background())

	if m.State() != StateIdle || jobs.count() != 0 {
		t.Errorf("state = %q, submitted = %d", m.State(), jobs.count())
	}
}

func TestMonitor_StateManagement(t *testing.T) {
	jobs := newFakeJobs()
	m := newTestMonitor(jobs, nil)

	if m.State() != StateIdle {
		t.Errorf("initial state = %q, want idle", m.State())
	}
	if m.CheckNow() {
		t.Error("CheckNow should be refused while idle")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return jobs.count() == 1 })
	if m.State() != StateRunning {
		t.Errorf("state = %q, want running", m.State())
	}

	m.Pause()
	if m.State() != StatePaused {
		t.Errorf("state = %q, want paused", m.State())
	}
	m.Resume()
	if m.State() != StateRunning {
		t.Errorf("state = %q, want running", m.State())
	}

	jobs.jobs["job_1"].MarkCompleted()
	if !m.CheckNow() {
		t.Fatal("CheckNow should be accepted while running")
	}
	waitFor(t, func() bool { return jobs.count() == 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	if m.State() != StateIdle {
		t.Errorf("state after stop = %q, want idle", m.State())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
