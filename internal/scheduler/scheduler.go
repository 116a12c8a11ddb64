// Package scheduler runs SkyRelay's polling loops on fixed intervals.
//
// Each loop runs once when the scheduler starts and then on every tick. A tick
// that arrives while the previous run of the same loop is still in flight is
// skipped, and a panicking run is recovered and logged.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is one polling cycle.
type Task func(ctx context.Context) error

// Scheduler provides interval-based loop scheduling on top of cron.
type Scheduler struct {
	cron   *cron.Cron
	logger cron.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	loops   []loop
	started bool
	wg      sync.WaitGroup
}

type loop struct {
	name     string
	interval time.Duration
	job      cron.Job
}

// NewScheduler creates a scheduler. Loops are added with AddLoop and begin on Start.
func NewScheduler() *Scheduler {
	logger := slogLogger{log: slog.Default().With("component", "scheduler")}
	c := cron.New(cron.WithLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: c, logger: logger, ctx: ctx, cancel: cancel}
}

// AddLoop registers task to run every interval. Intervals below one second are rejected.
func (s *Scheduler) AddLoop(name string, interval time.Duration, task Task) error {
	if interval < time.Second {
		return fmt.Errorf("loop %s: interval %s is below one second", name, interval)
	}
	if task == nil {
		return fmt.Errorf("loop %s: nil task", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("loop %s: scheduler already started", name)
	}

	// Recover must sit inside SkipIfStillRunning so a panic still releases the skip token.
	job := cron.NewChain(cron.SkipIfStillRunning(s.logger), cron.Recover(s.logger)).Then(cron.FuncJob(func() {
		s.run(name, task)
	}))
	s.cron.Schedule(cron.Every(interval), job)
	s.loops = append(s.loops, loop{name: name, interval: interval, job: job})
	slog.Debug("Scheduler.AddLoop: loop registered", "loop", name, "interval", interval)
	return nil
}

// Loops returns the registered loop names in order.
func (s *Scheduler) Loops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.loops))
	for _, l := range s.loops {
		names = append(names, l.name)
	}
	return names
}

// Start kicks off every loop immediately and begins ticking.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, l := range s.loops {
		s.wg.Add(1)
		go func(job cron.Job) {
			defer s.wg.Done()
			job.Run()
		}(l.job)
	}
	s.cron.Start()
	slog.Info("Scheduler.Start: loops started", "count", len(s.loops))
}

// Stop halts future ticks, cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	s.wg.Wait()
	slog.Info("Scheduler.Stop: loops stopped")
}

func (s *Scheduler) run(name string, task Task) {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := task(s.ctx); err != nil {
		slog.Error("Scheduler.run: cycle failed", "loop", name, "error", err, "duration", time.Since(start))
		return
	}
	slog.Debug("Scheduler.run: cycle finished", "loop", name, "duration", time.Since(start))
}

// slogLogger adapts slog to cron.Logger.
type slogLogger struct {
	log *slog.Logger
}

func (l slogLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info(msg, keysAndValues...)
}

func (l slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
