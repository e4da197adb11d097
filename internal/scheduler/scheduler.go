// Package scheduler runs a background job at a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Scheduler struct {
	name     string
	interval time.Duration
	tickFn   func(context.Context)
	log      *slog.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped scheduler. Each tick gets a context that is
// cancelled on Stop and bounded by interval.
func New(name string, interval time.Duration, tickFn func(context.Context), log *slog.Logger) (*Scheduler, error) {
	if name == "" {
		return nil, errors.New("name must not be empty")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		tickFn:   tickFn,
		log:      log.With("job", name),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the loop with an immediate first tick. It returns false if
// the scheduler is already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("scheduler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.log.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panic recovered", "panic", r)
		}
	}()

	tickCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	start := time.Now()
	s.tickFn(tickCtx)
	s.log.Debug("scheduler tick completed", "duration_ms", time.Since(start).Milliseconds())
}
