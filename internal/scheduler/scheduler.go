// Package scheduler runs named repeating tasks that can be stopped as a group.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned when scheduling on a stopped scheduler
var ErrStopped = errors.New("scheduler: stopped")

// Task is one tick of a repeating job
type Task func(ctx context.Context)

type task struct {
	name     string
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Scheduler owns a set of named repeating tasks
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool
}

// New creates an empty scheduler
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Every runs fn every interval until the task is cancelled.
// A tick in progress when the task is cancelled runs to completion.
func (s *Scheduler) Every(name string, interval time.Duration, fn Task) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: task %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("scheduler: task %s already scheduled", name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		name:     name,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.tasks[name] = t

	go s.run(ctx, t, fn)

	s.logger.Debug("task scheduled", zap.String("task", name), zap.Duration("interval", interval))
	return nil
}

func (s *Scheduler) run(ctx context.Context, t *task, fn Task) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(context.WithoutCancel(ctx), t, fn)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t *task, fn Task) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("task panicked", zap.String("task", t.name), zap.Any("panic", rec))
		}
	}()
	fn(ctx)
}

// Cancel stops one task and waits for its current tick
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	t.cancel()
	<-t.done
	return true
}

// Names lists the scheduled tasks
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StopAll cancels every task and waits for in-flight ticks, bounded by ctx
func (s *Scheduler) StopAll(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return fmt.Errorf("scheduler: task %s still running: %w", t.name, ctx.Err())
		}
	}
	return nil
}
