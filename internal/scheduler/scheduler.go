// Package scheduler runs named periodic ticks. Each tick type is
// single-flight: if a tick is still running when its timer fires again, the
// new invocation is skipped and counted, never queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"golang.org/x/sync/semaphore"
)

// DefaultShutdownTimeout bounds how long Stop waits for in-flight ticks.
const DefaultShutdownTimeout = 30 * time.Second

var (
	// ErrTickInProgress is returned by RunNow when the tick is already running.
	ErrTickInProgress = errors.New("tick already in progress")
	// ErrUnknownTask is returned for a task name that was never added.
	ErrUnknownTask = errors.New("unknown task")
	// ErrShutdownTimeout is returned by Stop when in-flight ticks were abandoned.
	ErrShutdownTimeout = errors.New("shutdown timed out; in-flight ticks abandoned")
	// ErrStarted is returned by Add after Start.
	ErrStarted = errors.New("scheduler already started")
	// ErrStopped is returned by RunNow after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

// TickFunc is one execution of a periodic task.
type TickFunc func(ctx context.Context) error

// Task is a named periodic tick
type Task struct {
	Name     string
	Interval time.Duration
	Run      TickFunc
}

// TaskStats reports what a task has done so far
type TaskStats struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Running      bool          `json:"running"`
	Runs         int64         `json:"runs"`
	Skipped      int64         `json:"skipped"`
	Failures     int64         `json:"failures"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

type task struct {
	Task
	flight *semaphore.Weighted

	mu    sync.Mutex
	stats TaskStats
}

// Observer is told about every finished or skipped tick.
type Observer interface {
	TickFinished(name string, d time.Duration, err error)
	TickSkipped(name string)
}

// Scheduler runs tasks on independent tickers
type Scheduler struct {
	clock           clock.Clock
	shutdownTimeout time.Duration
	observer        Observer

	mu        sync.Mutex
	tasks     map[string]*task
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	runCtx    context.Context
	runCancel context.CancelFunc

	loops    sync.WaitGroup
	inFlight sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock injects the clock that drives the tickers.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithShutdownTimeout bounds the graceful drain in Stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithObserver registers an observer for tick outcomes.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// New creates a scheduler with no tasks.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:           clock.New(),
		shutdownTimeout: DefaultShutdownTimeout,
		tasks:           make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	return s
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("task needs a name and a run func")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	if _, exists := s.tasks[t.Name]; exists {
		return fmt.Errorf("task %s already added", t.Name)
	}
	s.tasks[t.Name] = &task{
		Task:   t,
		flight: semaphore.NewWeighted(1),
		stats:  TaskStats{Name: t.Name, Interval: t.Interval},
	}
	return nil
}

// Start begins ticking every task. Ticks keep running until Stop; cancelling
// ctx stops scheduling new ticks as well.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, t := range s.tasks {
		// tickers are created here so a mock clock sees them before Start returns
		ticker := s.clock.Ticker(t.Interval)
		s.loops.Add(1)
		go s.loop(loopCtx, t, ticker)
		log.Printf("[Scheduler] Started %s tick every %s", t.Name, t.Interval)
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t *task, ticker *clock.Ticker) {
	defer s.loops.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(t)
		}
	}
}

// fire starts one tick in the background unless one is already running.
func (s *Scheduler) fire(t *task) {
	if !t.flight.TryAcquire(1) {
		s.skip(t)
		return
	}
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		defer t.flight.Release(1)
		s.execute(s.runCtx, t)
	}()
}

// RunNow runs the named tick synchronously, honoring the single-flight guard.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	case s.stopped:
		s.mu.Unlock()
		return ErrStopped
	case !t.flight.TryAcquire(1):
		s.mu.Unlock()
		s.skip(t)
		return ErrTickInProgress
	}
	s.inFlight.Add(1)
	s.mu.Unlock()
	defer s.inFlight.Done()
	defer t.flight.Release(1)
	return s.execute(ctx, t)
}

func (s *Scheduler) skip(t *task) {
	t.mu.Lock()
	t.stats.Skipped++
	t.mu.Unlock()
	log.Printf("[Scheduler] Skipped %s tick: previous tick still running", t.Name)
	if s.observer != nil {
		s.observer.TickSkipped(t.Name)
	}
}

// execute runs one tick, converting panics into errors. A failed tick is
// logged and the task simply runs again on its next schedule.
func (s *Scheduler) execute(ctx context.Context, t *task) (err error) {
	start := s.clock.Now()
	t.mu.Lock()
	t.stats.Running = true
	t.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick %s panicked: %v", t.Name, r)
			log.Printf("[Scheduler] %v\n%s", err, debug.Stack())
		}
		d := s.clock.Now().Sub(start)

		t.mu.Lock()
		t.stats.Running = false
		t.stats.Runs++
		t.stats.LastRun = start
		t.stats.LastDuration = d
		t.stats.LastError = ""
		if err != nil {
			t.stats.Failures++
			t.stats.LastError = err.Error()
		}
		t.mu.Unlock()

		if err != nil {
			log.Printf("[Scheduler] %s tick failed: %v", t.Name, err)
		}
		if s.observer != nil {
			s.observer.TickFinished(t.Name, d, err)
		}
	}()

	return t.Run(ctx)
}

// Stop halts future ticks and waits for in-flight ticks to finish, bounded
// by the shutdown timeout and ctx. Ticks still running after that are
// abandoned: their context is cancelled and ErrShutdownTimeout is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.loops.Wait()

	drained := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(drained)
	}()

	// the drain bound is wall time even when ticks run on an injected clock
	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-drained:
		s.runCancel()
		log.Printf("[Scheduler] Stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	s.runCancel()
	for _, st := range s.Stats() {
		if st.Running {
			log.Printf("[Scheduler] Abandoned in-flight %s tick after %s", st.Name, s.shutdownTimeout)
		}
	}
	return ErrShutdownTimeout
}

// Stats returns per-task statistics sorted by name.
func (s *Scheduler) Stats() []TaskStats {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	out := make([]TaskStats, 0, len(tasks))
	for _, t := range tasks {
		t.mu.Lock()
		out = append(out, t.stats)
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TaskStats returns statistics for one task.
func (s *Scheduler) TaskStats(name string) (TaskStats, bool) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return TaskStats{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats, true
}
