// Package scheduler drives the pipeline on a fixed cadence: one tick
// immediately at startup, then one per interval. Ticks run inline in
// the driver goroutine, so a slow tick delays the next instead of
// overlapping it.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner is one pipeline tick.
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler owns the tick loop.
type Scheduler struct {
	runner         Runner
	interval       time.Duration
	failureBackoff time.Duration
	deadlineSlack  time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New builds a scheduler with the given cadence.
func New(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:         runner,
		interval:       interval,
		failureBackoff: 10 * time.Second,
		deadlineSlack:  5 * time.Second,
		logger:         logger,
	}
}

// Start launches the loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.logger.Info("scheduler started", "interval", s.interval)
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
			// Drop ticks that queued up while the last run was busy;
			// the next one fires a full interval from now.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// tick runs the pipeline once. A failed tick backs off briefly so a
// persistently broken dependency does not spin the loop. A tick that
// runs up against the next scheduled one is logged, not killed.
func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := s.runner.Run(ctx)

	if elapsed := time.Since(start); s.interval > s.deadlineSlack && elapsed > s.interval-s.deadlineSlack {
		s.logger.Warn("tick approaching interval deadline",
			"elapsed", elapsed.Round(time.Millisecond), "interval", s.interval)
	}

	if err != nil {
		s.logger.Error("tick failed", "error", err)
		select {
		case <-time.After(s.failureBackoff):
		case <-ctx.Done():
		}
	}
}

// Stop cancels the loop and waits for an in-flight tick, giving up
// after the grace period. Stop is idempotent.
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("scheduler stop timed out", "grace", grace)
	}
}
