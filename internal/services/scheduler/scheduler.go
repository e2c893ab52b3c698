// Package scheduler runs the worker's periodic jobs.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/OrderBox/internal/metrics"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type jobFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (j jobFunc) Name() string                  { return j.name }
func (j jobFunc) Run(ctx context.Context) error { return j.fn(ctx) }

// JobFunc adapts a function to Job.
func JobFunc(name string, fn func(ctx context.Context) error) Job {
	return jobFunc{name: name, fn: fn}
}

type entry struct {
	job      Job
	interval time.Duration

	mu        sync.Mutex
	nextRun   time.Time
	running   bool
	pending   bool
	failCount int32
	lastRun   time.Time
	lastError string
}

type Scheduler struct {
	jobs    []*entry
	planner *Planner
	metrics *metrics.Jobs
	now     func() time.Time

	tick        time.Duration
	concurrency int

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalRuns           atomic.Int64
	totalFailures       atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New() *Scheduler {
	return &Scheduler{
		planner:           DefaultPlanner(),
		now:               time.Now,
		tick:              5 * time.Second,
		concurrency:       2,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Scheduler) WithSettings(tick time.Duration, concurrency int) *Scheduler {
	if tick > 0 {
		s.tick = tick
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	return s
}

func (s *Scheduler) WithPlanner(cfg PlannerConfig) *Scheduler {
	s.planner = NewPlanner(cfg, nil)
	return s
}

func (s *Scheduler) WithMetrics(m *metrics.Jobs) *Scheduler {
	s.metrics = m
	return s
}

// Register adds a job that first runs on the next cycle and then every interval.
// A zero or negative interval disables the job.
func (s *Scheduler) Register(job Job, interval time.Duration) *Scheduler {
	if interval <= 0 {
		slog.Info("job disabled", "job", job.Name())
		return s
	}
	s.jobs = append(s.jobs, &entry{job: job, interval: interval})
	return s
}

// Trigger makes every job due and forces an immediate cycle (best-effort, non-blocking).
// A job that is running when triggered runs again right after it finishes.
func (s *Scheduler) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	for _, e := range s.jobs {
		e.mu.Lock()
		if e.running {
			e.pending = true
		}
		e.nextRun = time.Time{}
		e.mu.Unlock()
	}
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type JobStats struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	FailCount int32      `json:"failCount"`
	LastError string     `json:"lastError,omitempty"`
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalRuns     int64      `json:"totalRuns"`
	TotalFailures int64      `json:"totalFailures"`
	InFlight      int64      `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
	Jobs          []JobStats `json:"jobs"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalRuns:     s.totalRuns.Load(),
		TotalFailures: s.totalFailures.Load(),
		InFlight:      s.inFlight.Load(),
		Jobs:          make([]JobStats, 0, len(s.jobs)),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()

	for _, e := range s.jobs {
		e.mu.Lock()
		js := JobStats{
			Name:      e.job.Name(),
			Interval:  e.interval.String(),
			FailCount: e.failCount,
			LastError: e.lastError,
		}
		if !e.nextRun.IsZero() {
			t := e.nextRun.UTC()
			js.NextRunAt = &t
		}
		if !e.lastRun.IsZero() {
			t := e.lastRun.UTC()
			js.LastRunAt = &t
		}
		e.mu.Unlock()
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.tick)
	defer t.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) due(now time.Time) []*entry {
	var out []*entry
	for _, e := range s.jobs {
		e.mu.Lock()
		if !e.running && !now.Before(e.nextRun) {
			e.running = true
			out = append(out, e)
		}
		e.mu.Unlock()
	}
	return out
}

func (s *Scheduler) runOnce(ctx context.Context) {
	now := s.now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, e := range s.due(now) {
		sem <- struct{}{}
		wg.Add(1)
		s.inFlight.Add(1)
		go func() {
			defer func() {
				s.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			s.runJob(ctx, e)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, e *entry) {
	name := e.job.Name()
	log := slog.With("job", name)
	log.Info("job start")

	start := s.now()
	began := time.Now()
	err := e.job.Run(ctx)
	took := time.Since(began)
	s.metrics.Observe(name, took, err)
	s.totalRuns.Add(1)

	e.mu.Lock()
	e.lastRun = start
	if err != nil {
		e.failCount++
		e.lastError = err.Error()
	} else {
		e.failCount = 0
		e.lastError = ""
	}
	delay := s.planner.NextDelay(e.interval, e.failCount)
	e.nextRun = s.now().Add(delay)
	if e.pending {
		e.nextRun = time.Time{}
		e.pending = false
	}
	e.running = false
	e.mu.Unlock()

	if err != nil {
		s.totalFailures.Add(1)
		s.lastErrorMu.Lock()
		s.lastError = name + ": " + err.Error()
		s.lastErrorMu.Unlock()
		log.Error("job failed", "error", err.Error(), "duration_ms", took.Milliseconds(), "retry_in", delay.String())
		return
	}
	log.Info("job completed", "duration_ms", took.Milliseconds(), "next_in", delay.String())
}
