package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestAddLoopValidation(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddLoop("fast", 10*time.Millisecond, func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for sub-second interval")
	}
	if err := s.AddLoop("nil", time.Second, nil); err == nil {
		t.Error("expected error for nil task")
	}
	if err := s.AddLoop("ok", time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	s.Start()
	if err := s.AddLoop("late", time.Minute, func(context.Context) error { return nil }); err == nil {
		t.Error("expected error when adding after start")
	}
	if got := s.Loops(); len(got) != 1 || got[0] != "ok" {
		t.Errorf("unexpected loops %v", got)
	}
}

func TestLoopRunsImmediately(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	if err := s.AddLoop("notifications", time.Hour, func(context.Context) error {
		runs.Add(1)
		return errors.New("upstream timeout")
	}); err != nil {
		t.Fatalf("AddLoop failed: %v", err)
	}
	s.Start()
	waitFor(t, func() bool { return runs.Load() == 1 }, 2*time.Second)
	s.Stop()
}

func TestOverlappingTickSkipped(t *testing.T) {
	s := NewScheduler()
	var runs, concurrent, maxConcurrent atomic.Int32
	release := make(chan struct{})
	if err := s.AddLoop("dm", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		if n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}); err != nil {
		t.Fatalf("AddLoop failed: %v", err)
	}
	s.Start()
	// Let at least two ticks fire while the first run is blocked.
	time.Sleep(2500 * time.Millisecond)
	close(release)
	s.Stop()

	if maxConcurrent.Load() != 1 {
		t.Errorf("expected no overlapping runs, max concurrency %d", maxConcurrent.Load())
	}
	if runs.Load() != 1 {
		t.Errorf("expected skipped ticks while the first run was in flight, got %d runs", runs.Load())
	}
}

func TestPanicRecovered(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	if err := s.AddLoop("search", time.Second, func(context.Context) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}); err != nil {
		t.Fatalf("AddLoop failed: %v", err)
	}
	s.Start()
	waitFor(t, func() bool { return runs.Load() >= 2 }, 3*time.Second)
	s.Stop()
}

func TestLoopKeepsTickingAfterPanic(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	if err := s.AddLoop("notifications", time.Second, func(context.Context) error {
		if runs.Add(1) == 1 {
			panic("first cycle failed")
		}
		return nil
	}); err != nil {
		t.Fatalf("AddLoop failed: %v", err)
	}
	s.Start()
	waitFor(t, func() bool { return runs.Load() >= 3 }, 5*time.Second)
	s.Stop()
}

func TestStopCancelsContext(t *testing.T) {
	s := NewScheduler()
	cancelled := make(chan struct{})
	started := make(chan struct{})
	if err := s.AddLoop("slow", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}); err != nil {
		t.Fatalf("AddLoop failed: %v", err)
	}
	s.Start()
	<-started
	s.Stop()
	select {
	case <-cancelled:
	default:
		t.Error("expected in-flight run to observe cancellation before Stop returned")
	}
}
