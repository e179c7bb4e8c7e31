// Package scheduler drives periodic and on-demand execution of the
// pipeline's background jobs off one declarative job table.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avoronov/gitpulse/internal/apperrors"
	"github.com/avoronov/gitpulse/pkg/logger/sl"
)

// Task is one executable unit of work. Errors are recorded on the job and
// never unregister it.
type Task func(ctx context.Context) error

// Job is one row of the job table. Interval is the only schedule
// specification; there is no cron expression support.
type Job struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Enabled   bool          `json:"enabled"`
	LastRun   time.Time     `json:"lastRun,omitzero"`
	NextRun   time.Time     `json:"nextRun,omitzero"`
	LastError string        `json:"lastError,omitempty"`
}

const (
	defaultTick  = time.Second
	restartDelay = 500 * time.Millisecond
)

// Scheduler owns the job table and one ticking loop. Due jobs run
// sequentially on the loop's goroutine; their own busy-guards decide
// whether overlapping work is rejected.
type Scheduler struct {
	log  *slog.Logger
	tick time.Duration

	mu      sync.Mutex
	jobs    map[string]*Job
	tasks   map[string]Task
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Scheduler)

// WithTick overrides the loop resolution. Used by tests.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

func New(log *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:   log,
		tick:  defaultTick,
		jobs:  make(map[string]*Job),
		tasks: make(map[string]Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job to the table. Registering an existing name replaces
// its task and schedule.
func (s *Scheduler) Register(name string, interval time.Duration, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[name] = &Job{
		Name:     name,
		Interval: interval,
		Enabled:  true,
		NextRun:  time.Now().Add(interval),
	}
	s.tasks[name] = task
}

// Start launches the ticking loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)

	s.log.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
}

// Stop suppresses future ticks and waits for the loop to exit. A job
// already executing completes; only its next scheduled run is suppressed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// Restart stops the loop and starts it again after a short delay.
func (s *Scheduler) Restart(ctx context.Context) {
	s.Stop()
	time.Sleep(restartDelay)
	s.Start(ctx)
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// UpdateJobSchedule replaces a job's interval while preserving its task.
// The next run is recomputed from now.
func (s *Scheduler) UpdateJobSchedule(name string, interval time.Duration) error {
	const op = "internal.scheduler.UpdateJobSchedule"

	if interval <= 0 {
		return fmt.Errorf("%s: %w: interval must be positive", op, apperrors.ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%s: %w: '%s'", op, apperrors.ErrJobNotFound, name)
	}

	job.Interval = interval
	job.NextRun = time.Now().Add(interval)

	s.log.Info("job schedule updated",
		slog.String("job", name), slog.Duration("interval", interval))

	return nil
}

// RunJob executes a job immediately, out of band from its schedule.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	const op = "internal.scheduler.RunJob"

	s.mu.Lock()
	job, ok := s.jobs[name]
	task := s.tasks[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w: '%s'", op, apperrors.ErrJobNotFound, name)
	}

	s.execute(ctx, job, task)

	s.mu.Lock()
	defer s.mu.Unlock()
	if job.LastError != "" {
		return fmt.Errorf("%s: job '%s' failed: %s", op, name, job.LastError)
	}
	return nil
}

// Jobs returns a snapshot of the table sorted by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue executes every due job sequentially. Sequential by design: the
// pipeline's jobs all contend for the same upstream quota.
func (s *Scheduler) runDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []string
	for name, job := range s.jobs {
		if job.Enabled && !job.NextRun.After(now) {
			due = append(due, name)
		}
	}
	sort.Strings(due)
	jobs := make([]*Job, len(due))
	tasks := make([]Task, len(due))
	for i, name := range due {
		jobs[i] = s.jobs[name]
		tasks[i] = s.tasks[name]
	}
	s.mu.Unlock()

	for i := range jobs {
		s.execute(ctx, jobs[i], tasks[i])
	}
}

// execute runs one job and records the outcome on its row. Panics are
// caught; a failing job stays registered and fires again next interval.
func (s *Scheduler) execute(ctx context.Context, job *Job, task Task) {
	started := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return task(ctx)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	job.LastRun = started
	job.NextRun = time.Now().Add(job.Interval)

	if err != nil {
		job.LastError = err.Error()
		s.log.Error("job failed", slog.String("job", job.Name), sl.Err(err))
		return
	}

	job.LastError = ""
	s.log.Info("job finished",
		slog.String("job", job.Name),
		slog.Duration("took", time.Since(started)))
}
