// Package scheduler runs pipeline jobs on CRON schedules.
// Each trigger starts one complete run; a trigger that fires while the
// previous run of the same job is still going is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stagepipe/stagepipe/internal/logger"
)

var (
	// ErrInvalidSchedule is returned for an empty or unparsable CRON expression.
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrDuplicateJob is returned when a job name is registered twice.
	ErrDuplicateJob = errors.New("job already registered")
	// ErrJobNotFound is returned for a name that was never registered.
	ErrJobNotFound = errors.New("job not found")
	// ErrNilJob is returned when Register is given no job function.
	ErrNilJob = errors.New("job function is nil")
	// ErrStopped is returned when registering on or starting a stopped scheduler.
	ErrStopped = errors.New("scheduler stopped")
)

// parser accepts standard 5-field expressions, an optional leading seconds
// field, and descriptors such as @daily or @every 1h.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// ValidateCronExpression reports whether expr can be scheduled.
func ValidateCronExpression(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return nil
}

// Scheduler manages scheduled pipeline executions.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	jobs    map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// New creates a scheduler. Jobs run with a context derived from the one
// passed to Start.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		jobs: make(map[string]cron.EntryID),
	}
}

// Register schedules job under name.
func (s *Scheduler) Register(name, expr string, job Job) error {
	if job == nil {
		return ErrNilJob
	}
	if err := ValidateCronExpression(expr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	id, err := s.cron.AddFunc(expr, func() { s.trigger(name, job) })
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	s.jobs[name] = id
	logger.Info("job scheduled", "job", name, "schedule", expr)
	return nil
}

// HasJob reports whether name is registered.
func (s *Scheduler) HasJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// JobNames returns the registered job names in sorted order.
func (s *Scheduler) JobNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextRun returns when name fires next. It is zero until the scheduler starts.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.cron.Entry(id).Next, nil
}

// IsRunning reports whether the scheduler has started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

// Unregister removes a job. Unknown names are ignored.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
}

// Start begins firing registered jobs. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts scheduling, cancels in-flight jobs and waits for them to return
// or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	if cancel != nil {
		cancel()
	}
	select {
	case <-done.Done():
		logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the scheduler and blocks until ctx is done, then stops it.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop(context.WithoutCancel(ctx))
}

func (s *Scheduler) trigger(name string, job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	logger.Info("scheduled run triggered", "job", name)
	if err := job(ctx); err != nil {
		logger.Error("scheduled run failed", "job", name, "error", err.Error())
		return
	}
	logger.Debug("scheduled run finished", "job", name)
}
