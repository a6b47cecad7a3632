// Package scheduler triggers the quick and full scan cycles on independent
// cron cadences. Ticks of the same cycle never overlap; the two cycle types
// run independently of each other.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// CycleFunc is one scan cycle invocation. Errors are logged, never fatal.
type CycleFunc func(ctx context.Context) error

// guardedCycle skips a tick while a previous tick of the same cycle is
// still running.
type guardedCycle struct {
	name    string
	fn      CycleFunc
	ctx     context.Context
	running int32

	ticks   int64 // fired ticks, including skipped ones
	skipped int64
}

func (g *guardedCycle) Run() {
	atomic.AddInt64(&g.ticks, 1)
	if !atomic.CompareAndSwapInt32(&g.running, 0, 1) {
		atomic.AddInt64(&g.skipped, 1)
		log.Printf("[scheduler] %s cycle still running; skipping tick", g.name)
		return
	}
	defer atomic.StoreInt32(&g.running, 0)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[scheduler] %s cycle panicked: %v", g.name, r)
		}
	}()

	if err := g.fn(g.ctx); err != nil {
		log.Printf("[scheduler] %s cycle failed: %v", g.name, err)
	}
}

type Scheduler struct {
	cron   *cron.Cron
	cycles []*guardedCycle
}

func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// AddCycle registers a cycle under a standard 5-field cron expression.
func (s *Scheduler) AddCycle(ctx context.Context, name, spec string, fn CycleFunc) error {
	g := &guardedCycle{name: name, fn: fn, ctx: ctx}
	if _, err := s.cron.AddJob(spec, g); err != nil {
		return fmt.Errorf("invalid cron spec %q for %s cycle: %w", spec, name, err)
	}
	s.cycles = append(s.cycles, g)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[scheduler] started with %d cycles", len(s.cycles))
}

// Stop halts new ticks and blocks until in-flight cycles complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Print("[scheduler] stopped")
}
