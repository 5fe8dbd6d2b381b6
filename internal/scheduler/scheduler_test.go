package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// countingJob counts its runs and optionally blocks for delay.
type countingJob struct {
	calls int32
	delay time.Duration
	err   error
}

func (j *countingJob) run(ctx context.Context) error {
	atomic.AddInt32(&j.calls, 1)
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func (j *countingJob) count() int {
	return int(atomic.LoadInt32(&j.calls))
}

func TestValidateCronExpression(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"every minute", "* * * * *", false},
		{"weekdays at 6 AM", "0 6 * * 1-5", false},
		{"every 5 minutes", "*/5 * * * *", false},
		{"with seconds", "*/30 * * * * *", false},
		{"descriptor", "@daily", false},
		{"interval", "@every 90s", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"not cron", "not a cron", true},
		{"too few fields", "* * *", true},
		{"out of range minute", "60 * * * *", true},
		{"out of range hour", "* 25 * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCronExpression(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateCronExpression(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("error %v does not wrap ErrInvalidSchedule", err)
			}
		})
	}
}

func TestScheduler_Register(t *testing.T) {
	s := New()
	defer func() { _ = s.Stop(context.Background()) }()
	job := &countingJob{}

	if err := s.Register("nightly", "0 2 * * *", job.run); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !s.HasJob("nightly") {
		t.Error("job was not stored")
	}

	tests := []struct {
		name    string
		jobName string
		expr    string
		fn      Job
		wantErr error
	}{
		{"duplicate", "nightly", "0 3 * * *", job.run, ErrDuplicateJob},
		{"invalid expression", "broken", "every night", job.run, ErrInvalidSchedule},
		{"empty expression", "empty", "", job.run, ErrInvalidSchedule},
		{"nil job", "nil", "0 3 * * *", nil, ErrNilJob},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Register(tt.jobName, tt.expr, tt.fn)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := s.JobNames(); len(got) != 1 || got[0] != "nightly" {
		t.Errorf("JobNames() = %v", got)
	}
}

func TestScheduler_NextRun(t *testing.T) {
	s := New()
	defer func() { _ = s.Stop(context.Background()) }()

	if _, err := s.NextRun("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("NextRun(missing) error = %v", err)
	}

	if err := s.Register("hourly", "0 * * * *", (&countingJob{}).run); err != nil {
		t.Fatal(err)
	}
	next, err := s.NextRun("hourly")
	if err != nil {
		t.Fatal(err)
	}
	if !next.IsZero() {
		t.Errorf("NextRun before Start = %v, want zero", next)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// The entry schedule is computed asynchronously once the cron loop starts.
	deadline := time.Now().Add(time.Second)
	for next.IsZero() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		next, _ = s.NextRun("hourly")
	}
	if next.IsZero() || next.Minute() != 0 {
		t.Errorf("NextRun after Start = %v", next)
	}
}

func TestScheduler_FiresJobs(t *testing.T) {
	s := New()
	job := &countingJob{}
	failing := &countingJob{err: errors.New("boom")}

	if err := s.Register("ok", "* * * * * *", job.run); err != nil {
		t.Fatal(err)
	}
	if err := s.Register("failing", "* * * * * *", failing.run); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	time.Sleep(1500 * time.Millisecond)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if job.count() < 1 {
		t.Error("job never ran")
	}
	// A failing run does not unschedule the job.
	if failing.count() < 1 {
		t.Error("failing job never ran")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := New()
	job := &countingJob{delay: 2500 * time.Millisecond}

	if err := s.Register("slow", "* * * * * *", job.run); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2200 * time.Millisecond)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := job.count(); got != 1 {
		t.Errorf("slow job ran %d times, want 1", got)
	}
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := New()
	job := &countingJob{delay: time.Minute}

	if err := s.Register("slow", "* * * * * *", job.run); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v, the running job was not canceled", elapsed)
	}
}

func TestScheduler_Stopped(t *testing.T) {
	s := New()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() before Start error = %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop error = %v", err)
	}
	if err := s.Register("late", "@daily", (&countingJob{}).run); !errors.Is(err, ErrStopped) {
		t.Errorf("Register() after Stop error = %v", err)
	}
}

func TestScheduler_Unregister(t *testing.T) {
	s := New()
	defer func() { _ = s.Stop(context.Background()) }()

	if err := s.Register("hourly", "@hourly", (&countingJob{}).run); err != nil {
		t.Fatal(err)
	}
	s.Unregister("hourly")
	s.Unregister("never-registered")
	if s.HasJob("hourly") {
		t.Error("job still registered")
	}
	if err := s.Register("hourly", "@hourly", (&countingJob{}).run); err != nil {
		t.Errorf("re-register after Unregister error = %v", err)
	}
}

func TestScheduler_Run(t *testing.T) {
	s := New()
	job := &countingJob{}
	if err := s.Register("ok", "* * * * * *", job.run); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if job.count() < 1 {
		t.Error("job never ran")
	}
}
