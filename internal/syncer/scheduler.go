package syncer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/metrics"
	"go.uber.org/zap"
)

// CycleRunner runs one full reconciliation.
type CycleRunner interface {
	RunAll(ctx context.Context, trigger Trigger) (RunStats, error)
}

// Scheduler runs a full reconciliation on a fixed interval after an
// initial delay.
type Scheduler struct {
	runner       CycleRunner
	notifier     Notifier
	logger       *zap.Logger
	interval     time.Duration
	initialDelay time.Duration
	cycleTimeout time.Duration
	inFlight     atomic.Bool
}

// NewScheduler creates a scheduler. cycleTimeout <= 0 disables the
// deadline alert.
func NewScheduler(runner CycleRunner, notifier Notifier, interval, initialDelay, cycleTimeout time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:       runner,
		notifier:     notifier,
		logger:       logger,
		interval:     interval,
		initialDelay: initialDelay,
		cycleTimeout: cycleTimeout,
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("sync scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("initial_delay", s.initialDelay),
		zap.Duration("cycle_timeout", s.cycleTimeout),
	)

	if s.initialDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.initialDelay):
		}
	}

	s.Cycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Cycle(ctx)
		}
	}
}

// Cycle runs one scheduled reconciliation and waits for it at most
// cycleTimeout. A run that overstays is left to finish in the background
// and ticks are skipped until it does.
func (s *Scheduler) Cycle(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("previous sync cycle still running, skipping tick")
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer s.inFlight.Store(false)
		if _, err := s.runner.RunAll(ctx, TriggerTimer); err != nil {
			s.logger.Error("scheduled sync failed", zap.Error(err))
		}
	}()

	if s.cycleTimeout <= 0 {
		<-done
		return
	}

	timer := time.NewTimer(s.cycleTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-ctx.Done():
	case <-timer.C:
		metrics.IncCycleTimeout()
		s.notifier.Alert(ctx, "sync cycle exceeded its deadline", zap.Duration("cycle_timeout", s.cycleTimeout))
	}
}
