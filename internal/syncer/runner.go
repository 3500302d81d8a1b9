package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/exchange"
	"github.com/ismaiel54/floating-order-sync/internal/metrics"
	"github.com/ismaiel54/floating-order-sync/internal/notify"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerLive   Trigger = "live"
	TriggerManual Trigger = "manual"
)

// SubscriptionSyncer recomputes the live subscription set from the store.
type SubscriptionSyncer interface {
	SyncSubscriptions(ctx context.Context) error
}

// RunStats aggregates one run over all affected accounts.
type RunStats struct {
	Accounts     int
	Skipped      int
	Failed       int
	Evaluated    int
	Repositions  int
	Settled      int
	Cancelled    int
	Placed       int
	CancelFailed int
	PlaceFailed  int
}

func (s *RunStats) add(o RunStats) {
	s.Accounts += o.Accounts
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.Evaluated += o.Evaluated
	s.Repositions += o.Repositions
	s.Settled += o.Settled
	s.Cancelled += o.Cancelled
	s.Placed += o.Placed
	s.CancelFailed += o.CancelFailed
	s.PlaceFailed += o.PlaceFailed
}

// Runner drives reconciliation across accounts. Accounts run in parallel
// up to a limit; work on a single account is serialized by the guard no
// matter which trigger started it.
type Runner struct {
	store       OrderStore
	factory     exchange.Factory
	engine      *Engine
	coordinator *Coordinator
	notifier    Notifier
	guard       *AccountGuard
	logger      *zap.Logger
	maxParallel int

	mu   sync.RWMutex
	subs SubscriptionSyncer
}

// NewRunner wires a runner. maxParallel <= 0 means one account at a time.
func NewRunner(store OrderStore, factory exchange.Factory, engine *Engine, coordinator *Coordinator,
	notifier Notifier, guard *AccountGuard, maxParallel int, logger *zap.Logger) *Runner {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if guard == nil {
		guard = NewAccountGuard()
	}
	return &Runner{
		store:       store,
		factory:     factory,
		engine:      engine,
		coordinator: coordinator,
		notifier:    notifier,
		guard:       guard,
		logger:      logger,
		maxParallel: maxParallel,
	}
}

// SetSubscriptionSyncer installs the hook called after runs that removed
// orders from the pending set.
func (r *Runner) SetSubscriptionSyncer(s SubscriptionSyncer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = s
}

// RunAll reconciles every account with pending orders.
func (r *Runner) RunAll(ctx context.Context, trigger Trigger) (RunStats, error) {
	return r.run(ctx, 0, trigger)
}

// RunMarket reconciles only orders on one market.
func (r *Runner) RunMarket(ctx context.Context, marketID int64, trigger Trigger) (RunStats, error) {
	if marketID <= 0 {
		return RunStats{}, fmt.Errorf("invalid market id %d", marketID)
	}
	return r.run(ctx, marketID, trigger)
}

// SyncMarket is the entry point for live price events.
func (r *Runner) SyncMarket(ctx context.Context, marketID int64) error {
	_, err := r.RunMarket(ctx, marketID, TriggerLive)
	return err
}

func (r *Runner) run(ctx context.Context, marketID int64, trigger Trigger) (RunStats, error) {
	start := time.Now()
	log := r.logger.With(zap.String("trigger", string(trigger)), zap.Int64("market_id", marketID))

	accounts, err := r.store.ListAccountsWithPending(ctx, marketID)
	if err != nil {
		err = fmt.Errorf("failed to list accounts: %w", err)
		metrics.ObserveSyncRun(string(trigger), time.Since(start).Seconds(), err)
		return RunStats{}, err
	}

	var (
		mu    sync.Mutex
		stats RunStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)

	for _, acct := range accounts {
		acct := acct
		g.Go(func() error {
			s := r.syncAccount(gctx, acct, marketID, log)
			mu.Lock()
			stats.add(s)
			mu.Unlock()
			// Account failures are contained; never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	if stats.Settled > 0 || stats.PlaceFailed > 0 {
		r.syncSubscriptions(ctx, log)
	}

	elapsed := time.Since(start)
	metrics.ObserveSyncRun(string(trigger), elapsed.Seconds(), nil)
	log.Info("sync run completed",
		zap.Int("accounts", stats.Accounts),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("evaluated", stats.Evaluated),
		zap.Int("repositions", stats.Repositions),
		zap.Int("settled", stats.Settled),
		zap.Int("placed", stats.Placed),
		zap.Int("cancel_failed", stats.CancelFailed),
		zap.Int("place_failed", stats.PlaceFailed),
		zap.Duration("elapsed", elapsed),
	)
	return stats, nil
}

func (r *Runner) syncAccount(ctx context.Context, acct orders.Account, marketID int64, log *zap.Logger) RunStats {
	stats := RunStats{Accounts: 1}
	log = log.With(zap.Int64("account_id", acct.ID))

	if !acct.Usable() {
		log.Info("skipping account with failed proxy")
		stats.Skipped = 1
		return stats
	}

	unlock, err := r.guard.Lock(ctx, acct.ID)
	if err != nil {
		log.Warn("gave up waiting for account", zap.Error(err))
		stats.Skipped = 1
		return stats
	}
	defer unlock()

	client, err := r.factory.ClientFor(ctx, acct)
	if err != nil {
		stats.Failed = 1
		r.notifier.Alert(ctx, "could not create exchange client", zap.Int64("account_id", acct.ID), zap.Error(err))
		return stats
	}

	plan, err := r.engine.Reconcile(ctx, acct, client, marketID)
	if err != nil {
		stats.Failed = 1
		log.Error("reconciliation failed", zap.Error(err))
		return stats
	}
	stats.Evaluated = len(plan.Evaluations)
	stats.Repositions = len(plan.Replacements)
	stats.Settled = len(plan.Settled)

	for _, pc := range plan.Evaluations {
		if pc.WillReposition {
			r.notifier.Notify(ctx, notify.PriceChanged(pc))
		}
	}

	out := r.coordinator.Execute(ctx, acct, client, plan)
	stats.Cancelled = out.Cancelled
	stats.Placed = out.Placed
	stats.CancelFailed = out.CancelFailed
	stats.PlaceFailed = out.PlaceFailed
	return stats
}

func (r *Runner) syncSubscriptions(ctx context.Context, log *zap.Logger) {
	r.mu.RLock()
	subs := r.subs
	r.mu.RUnlock()
	if subs == nil {
		return
	}
	if err := subs.SyncSubscriptions(ctx); err != nil {
		log.Warn("failed to refresh live subscriptions", zap.Error(err))
	}
}
