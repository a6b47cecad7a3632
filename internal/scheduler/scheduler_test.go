package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGuardedCycleSkipsOverlappingTicks(t *testing.T) {
	release := make(chan struct{})
	var executions int32

	g := &guardedCycle{
		name: "quick",
		ctx:  context.Background(),
		fn: func(ctx context.Context) error {
			atomic.AddInt32(&executions, 1)
			<-release
			return nil
		},
	}

	// First tick occupies the cycle.
	go g.Run()
	waitFor(t, func() bool { return atomic.LoadInt32(&executions) == 1 })

	// Second tick fires while the first is still running: must be skipped.
	g.Run()
	if got := atomic.LoadInt64(&g.skipped); got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&executions); got != 1 {
		t.Errorf("executions = %d, want 1", got)
	}

	close(release)
	waitFor(t, func() bool { return atomic.LoadInt32(&g.running) == 0 })

	// After completion the next tick runs again.
	g.Run()
	if got := atomic.LoadInt32(&executions); got != 2 {
		t.Errorf("executions after release = %d, want 2", got)
	}
	if got := atomic.LoadInt64(&g.ticks); got != 3 {
		t.Errorf("ticks = %d, want 3", got)
	}
}

func TestDifferentCyclesRunConcurrently(t *testing.T) {
	quickRunning := make(chan struct{})
	release := make(chan struct{})

	quick := &guardedCycle{name: "quick", ctx: context.Background(), fn: func(ctx context.Context) error {
		close(quickRunning)
		<-release
		return nil
	}}
	var fullRan int32
	full := &guardedCycle{name: "full", ctx: context.Background(), fn: func(ctx context.Context) error {
		atomic.AddInt32(&fullRan, 1)
		return nil
	}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		quick.Run()
	}()
	<-quickRunning

	// The full cycle is not blocked by the in-flight quick cycle.
	full.Run()
	if atomic.LoadInt32(&fullRan) != 1 {
		t.Error("full cycle should run while quick cycle is in flight")
	}

	close(release)
	wg.Wait()
}

func TestCycleErrorsDoNotPropagate(t *testing.T) {
	g := &guardedCycle{name: "quick", ctx: context.Background(), fn: func(ctx context.Context) error {
		return fmt.Errorf("scan blew up")
	}}
	g.Run() // must not panic

	g = &guardedCycle{name: "quick", ctx: context.Background(), fn: func(ctx context.Context) error {
		panic("worse")
	}}
	g.Run() // recovered, scheduler loop survives

	if atomic.LoadInt32(&g.running) != 0 {
		t.Error("cycle must be released after a panic")
	}
}

func TestAddCycleRejectsBadSpec(t *testing.T) {
	s := New()
	err := s.AddCycle(context.Background(), "quick", "not a cron spec", func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestAddCycleAcceptsDefaults(t *testing.T) {
	s := New()
	noop := func(ctx context.Context) error { return nil }
	if err := s.AddCycle(context.Background(), "quick", "*/30 * * * *", noop); err != nil {
		t.Fatalf("quick spec rejected: %v", err)
	}
	if err := s.AddCycle(context.Background(), "full", "0 */6 * * *", noop); err != nil {
		t.Fatalf("full spec rejected: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
