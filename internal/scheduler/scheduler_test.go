package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobRunsOnItsInterval(t *testing.T) {
	s := New()
	var ticks atomic.Int32
	s.RegisterJob("counter", 5*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(40 * time.Millisecond)
	cancel()
	s.Stop()

	if ticks.Load() == 0 {
		t.Fatal("job never ticked")
	}
}

func TestPauseResumeStopContract(t *testing.T) {
	s := New()
	s.RegisterJob("a", time.Hour, func(ctx context.Context) error { return nil })

	if !s.PauseJob("a") || !s.ResumeJob("a") || !s.StopJob("a") {
		t.Error("known job id must return true from pause/resume/stop")
	}
	if s.PauseJob("nope") || s.ResumeJob("nope") || s.StopJob("nope") {
		t.Error("unknown job id must return false")
	}
	// Stop keeps registration metadata.
	if got := s.Jobs(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Jobs() after stop = %v, want [a]", got)
	}
}

func TestPausedJobSkipsTicks(t *testing.T) {
	s := New()
	var ticks atomic.Int32
	s.RegisterJob("paused", 5*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})
	s.PauseJob("paused")

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	if n := ticks.Load(); n != 0 {
		t.Errorf("paused job ticked %d times", n)
	}

	s.ResumeJob("paused")
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if ticks.Load() == 0 {
		t.Error("resumed job never ticked")
	}
}

func TestFailingJobKeepsTicking(t *testing.T) {
	s := New()
	var ticks atomic.Int32
	s.RegisterJob("flaky", 5*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return errors.New("storage unreachable")
	})

	s.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	s.Stop()

	if n := ticks.Load(); n < 2 {
		t.Errorf("failing job ticked %d times, want it to keep running", n)
	}
}

func TestPanickingJobDoesNotKillScheduler(t *testing.T) {
	s := New()
	var healthy atomic.Int32
	s.RegisterJob("bomb", 5*time.Millisecond, func(ctx context.Context) error {
		panic("boom")
	})
	s.RegisterJob("steady", 5*time.Millisecond, func(ctx context.Context) error {
		healthy.Add(1)
		return nil
	})

	s.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	s.Stop()

	if healthy.Load() == 0 {
		t.Error("a panicking job starved an independent job")
	}
}
