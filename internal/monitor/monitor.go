// Package monitor periodically queues fetches of the recent feed window.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/iconidentify/postgrabba/internal/config"
	"github.com/iconidentify/postgrabba/internal/domain"
)

// FetchSubmitter queues fetch jobs and reports on them.
type FetchSubmitter interface {
	SubmitFetch(ctx context.Context, req domain.FetchRequest) (*domain.Job, error)
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)
}

// State represents the current state of the monitor.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Status is a snapshot of the monitor.
type Status struct {
	Enabled      bool         `json:"enabled"`
	State        State        `json:"state"`
	PollInterval string       `json:"poll_interval"`
	LastPoll     *time.Time   `json:"last_poll,omitempty"`
	NextPoll     *time.Time   `json:"next_poll,omitempty"`
	LastJobID    domain.JobID `json:"last_job_id,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
}

// Monitor queues a fetch of the last LookbackDays every PollInterval. A new
// fetch is not queued while the previous one is still pending, and a
// rate-limited run delays the next poll by RateLimitBackoff.
type Monitor struct {
	cfg      config.MonitorConfig
	jobs     FetchSubmitter
	localize bool
	events   domain.EventEmitter
	logger   *slog.Logger

	// startupDelay returns the wait before the first poll.
	startupDelay func() time.Duration
	now          func() time.Time

	mu        sync.RWMutex
	state     State
	checkNow  chan struct{}
	lastPoll  time.Time
	nextPoll  time.Time
	lastJobID domain.JobID
	lastError string
}

// New creates a monitor. localize is the media localization default for
// queued fetches. events may be nil.
func New(cfg config.MonitorConfig, jobs FetchSubmitter, localize bool, events domain.EventEmitter, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		jobs:     jobs,
		localize: localize,
		events:   events,
		logger:   logger,
		// 5-15 seconds of startup jitter
		startupDelay: func() time.Duration { return time.Duration(5+rand.Intn(10)) * time.Second },
		now:          time.Now,
		state:        StateIdle,
		checkNow:     make(chan struct{}, 1),
	}
}

// State returns the current monitor state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns a snapshot of the monitor.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		Enabled:      m.cfg.Enabled,
		State:        m.state,
		PollInterval: m.cfg.PollInterval.String(),
		LastJobID:    m.lastJobID,
		LastError:    m.lastError,
	}
	if !m.lastPoll.IsZero() {
		t := m.lastPoll
		s.LastPoll = &t
	}
	if !m.nextPoll.IsZero() && m.state == StateRunning {
		t := m.nextPoll
		s.NextPoll = &t
	}
	return s
}

// Pause stops polling until Resume.
func (m *Monitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning {
		m.state = StatePaused
		m.logger.Info("feed monitor paused")
	}
}

// Resume restarts polling after Pause.
func (m *Monitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StatePaused {
		m.state = StateRunning
		m.logger.Info("feed monitor resumed")
	}
}

// CheckNow triggers an immediate poll (non-blocking). It has no effect
// unless the monitor is running.
func (m *Monitor) CheckNow() bool {
	if m.State() != StateRunning {
		return false
	}
	select {
	case m.checkNow <- struct{}{}:
		m.logger.Info("check-now triggered")
	default:
		// poll already pending
	}
	return true
}

// Start polls until ctx is cancelled. It returns immediately when the
// monitor is disabled.
func (m *Monitor) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}

	m.mu.Lock()
	m.state = StateRunning
	m.mu.Unlock()

	m.logger.Info("starting feed monitor",
		"poll_interval", m.cfg.PollInterval.String(),
		"lookback_days", m.cfg.LookbackDays,
		"max_pages", m.cfg.MaxPages,
	)

	defer func() {
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
		m.logger.Info("feed monitor stopped")
	}()

	wait := m.startupDelay()
	for {
		m.setNextPoll(wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.checkNow:
			timer.Stop()
		case <-timer.C:
			if m.State() == StatePaused {
				wait = m.cfg.PollInterval
				continue
			}
		}
		wait = m.cfg.PollInterval + m.poll(ctx)
	}
}

// poll queues one fetch and returns any extra delay before the next poll.
func (m *Monitor) poll(ctx context.Context) time.Duration {
	now := m.now()

	m.mu.Lock()
	m.lastPoll = now
	lastJobID := m.lastJobID
	m.mu.Unlock()

	var backoff time.Duration
	if lastJobID != "" {
		prev, err := m.jobs.Get(ctx, lastJobID)
		switch {
		case err != nil:
			m.logger.Warn("previous monitor job unavailable", "job_id", lastJobID, "error", err)
		case !prev.IsTerminal():
			m.logger.Info("previous monitor fetch still pending, skipping poll", "job_id", lastJobID, "status", prev.Status)
			return 0
		case prev.Summary != nil && prev.Summary.RateLimited:
			backoff = m.cfg.RateLimitBackoff
		}
	}
	if backoff > 0 {
		m.logger.Warn("previous fetch was rate limited, backing off", "backoff", backoff.String())
		m.emit(domain.EventSeverityWarning, fmt.Sprintf("upstream rate limit hit, next poll delayed by %s", backoff), nil)
		// The job was already inspected; forget it so the backoff applies once.
		m.mu.Lock()
		m.lastJobID = ""
		m.mu.Unlock()
		return backoff
	}

	req := domain.FetchRequest{
		MaxPages:     m.cfg.MaxPages,
		Localize:     m.localize,
		WithComments: m.cfg.WithComments,
	}
	if m.cfg.LookbackDays > 0 {
		since := now.UTC().AddDate(0, 0, -m.cfg.LookbackDays)
		req.Since = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	}

	job, err := m.jobs.SubmitFetch(ctx, req)
	if err != nil {
		m.logger.Warn("failed to queue monitor fetch", "error", err)
		m.setLastError(err.Error())
		return 0
	}

	m.mu.Lock()
	m.lastJobID = job.ID
	m.lastError = ""
	m.mu.Unlock()

	m.logger.Info("monitor fetch queued", "job_id", job.ID, "since", req.Since)
	m.emit(domain.EventSeverityInfo, "scheduled fetch queued", domain.EventMetadata{"job_id": job.ID.String()})
	return 0
}

func (m *Monitor) setNextPoll(wait time.Duration) {
	m.mu.Lock()
	m.nextPoll = m.now().Add(wait)
	m.mu.Unlock()
}

func (m *Monitor) setLastError(err string) {
	m.mu.Lock()
	m.lastError = err
	m.mu.Unlock()
}

func (m *Monitor) emit(severity domain.EventSeverity, message string, metadata domain.EventMetadata) {
	if m.events == nil {
		return
	}
	m.events.Emit(domain.Event{
		Timestamp: m.now(),
		Severity:  severity,
		Category:  domain.EventCategoryFetch,
		Message:   message,
		Metadata:  metadata.ToJSON(),
	})
}
