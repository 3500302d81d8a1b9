package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/exchange"
	"github.com/ismaiel54/floating-order-sync/internal/metrics"
	"github.com/ismaiel54/floating-order-sync/internal/notify"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"go.uber.org/zap"
)

// ExpiryStore is the persistence used by the expirer.
type ExpiryStore interface {
	ListExpiredOrders(ctx context.Context, cutoff time.Time) ([]orders.RestingOrder, error)
	GetAccount(ctx context.Context, accountID int64) (orders.Account, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status orders.Status) error
}

// ExpiryStats summarizes one expiry pass.
type ExpiryStats struct {
	Checked int
	Expired int
	Failed  int
}

// Expirer cancels pending orders that have rested longer than maxAge.
type Expirer struct {
	store    ExpiryStore
	factory  exchange.Factory
	notifier Notifier
	guard    *AccountGuard
	logger   *zap.Logger
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time

	subs SubscriptionSyncer
}

func NewExpirer(store ExpiryStore, factory exchange.Factory, notifier Notifier, guard *AccountGuard,
	maxAge, interval time.Duration, subs SubscriptionSyncer, logger *zap.Logger) *Expirer {
	if guard == nil {
		guard = NewAccountGuard()
	}
	return &Expirer{
		store:    store,
		factory:  factory,
		notifier: notifier,
		guard:    guard,
		logger:   logger,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		subs:     subs,
	}
}

// Run expires orders every interval until ctx is done.
func (x *Expirer) Run(ctx context.Context) error {
	ticker := time.NewTicker(x.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := x.RunOnce(ctx); err != nil {
				x.logger.Error("order expiry failed", zap.Error(err))
			}
		}
	}
}

// RunOnce cancels every expired order, one batch per account.
func (x *Expirer) RunOnce(ctx context.Context) (ExpiryStats, error) {
	now := x.now()
	expired, err := x.store.ListExpiredOrders(ctx, now.Add(-x.maxAge))
	if err != nil {
		return ExpiryStats{}, fmt.Errorf("failed to list expired orders: %w", err)
	}

	stats := ExpiryStats{Checked: len(expired)}
	if len(expired) == 0 {
		return stats, nil
	}

	byAccount := make(map[int64][]orders.RestingOrder)
	var accountIDs []int64
	for _, o := range expired {
		if _, ok := byAccount[o.AccountID]; !ok {
			accountIDs = append(accountIDs, o.AccountID)
		}
		byAccount[o.AccountID] = append(byAccount[o.AccountID], o)
	}

	for _, accountID := range accountIDs {
		expiredN, failedN := x.expireAccount(ctx, accountID, byAccount[accountID], now)
		stats.Expired += expiredN
		stats.Failed += failedN
	}

	if stats.Expired > 0 && x.subs != nil {
		if err := x.subs.SyncSubscriptions(ctx); err != nil {
			x.logger.Warn("failed to refresh live subscriptions", zap.Error(err))
		}
	}

	x.logger.Info("order expiry completed",
		zap.Int("checked", stats.Checked),
		zap.Int("expired", stats.Expired),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

func (x *Expirer) expireAccount(ctx context.Context, accountID int64, batch []orders.RestingOrder, now time.Time) (int, int) {
	log := x.logger.With(zap.Int64("account_id", accountID))

	acct, err := x.store.GetAccount(ctx, accountID)
	if err != nil {
		log.Error("failed to load account for expiry", zap.Error(err))
		return 0, len(batch)
	}
	if !acct.Usable() {
		log.Info("skipping expiry for account with failed proxy")
		return 0, len(batch)
	}

	unlock, err := x.guard.Lock(ctx, accountID)
	if err != nil {
		return 0, len(batch)
	}
	defer unlock()

	client, err := x.factory.ClientFor(ctx, acct)
	if err != nil {
		log.Error("failed to create exchange client", zap.Error(err))
		return 0, len(batch)
	}

	ids := make([]string, len(batch))
	for i, o := range batch {
		ids[i] = o.OrderID
	}
	raw, err := client.CancelOrdersBatch(ctx, ids)
	if err != nil {
		log.Error("expiry cancel failed", zap.Strings("order_ids", ids), zap.Error(err))
		return 0, len(batch)
	}
	results := exchange.AlignCancelResults(ids, raw)

	expired, failed := 0, 0
	for i, res := range results {
		o := batch[i]
		if !res.OK() {
			failed++
			log.Warn("failed to cancel expired order",
				zap.String("order_id", o.OrderID),
				zap.Int("error_code", res.ErrorCode),
				zap.String("error_message", res.ErrorMessage),
			)
			continue
		}
		if err := x.store.UpdateOrderStatus(ctx, o.OrderID, orders.StatusCanceled); err != nil {
			log.Error("failed to record expired order", zap.String("order_id", o.OrderID), zap.Error(err))
		}
		expired++
		metrics.IncSettlement("expired")
		x.notifier.Notify(ctx, notify.OrderExpired(acct.OwnerID, o, now))
	}
	return expired, failed
}
