package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/exchange"
	"github.com/ismaiel54/floating-order-sync/internal/metrics"
	"github.com/ismaiel54/floating-order-sync/internal/notify"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"github.com/ismaiel54/floating-order-sync/internal/pricing"
	"go.uber.org/zap"
)

// OrderStore is the persistence used by reconciliation.
type OrderStore interface {
	ListPendingOrders(ctx context.Context, accountID, marketID int64) ([]orders.RestingOrder, error)
	ListAccountsWithPending(ctx context.Context, marketID int64) ([]orders.Account, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status orders.Status) error
	ReplaceOrderIdentity(ctx context.Context, oldOrderID, newOrderID string, newCurrentPrice, newTargetPrice float64) error
}

// Notifier delivers owner notifications and operator alerts without
// reporting failures back.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
	Alert(ctx context.Context, text string, fields ...zap.Field)
}

// Replacement pairs a pending order with the order that will take its
// place. The old order is cancelled before the new one is placed.
type Replacement struct {
	Order           orders.RestingOrder
	Request         exchange.PlaceRequest
	NewCurrentPrice float64
	NewTargetPrice  float64
}

// Settlement is an order the exchange reports as no longer live.
type Settlement struct {
	Order  orders.RestingOrder
	Status orders.Status
}

// Plan is the result of reconciling one account.
type Plan struct {
	Account      orders.Account
	Evaluations  []orders.PriceChange
	Settled      []Settlement
	Replacements []Replacement
}

// CancelIDs returns the ids to cancel, index-aligned with Replacements.
func (p Plan) CancelIDs() []string {
	ids := make([]string, len(p.Replacements))
	for i, r := range p.Replacements {
		ids[i] = r.Order.OrderID
	}
	return ids
}

// Engine decides, per pending order, whether it has to move.
type Engine struct {
	store         OrderStore
	notifier      Notifier
	logger        *zap.Logger
	lookupTimeout time.Duration
}

// NewEngine creates a reconciliation engine. lookupTimeout bounds each
// exchange lookup; zero means no per-call bound.
func NewEngine(store OrderStore, notifier Notifier, lookupTimeout time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		store:         store,
		notifier:      notifier,
		logger:        logger,
		lookupTimeout: lookupTimeout,
	}
}

// Reconcile evaluates the account's pending orders, optionally restricted
// to one market (marketID 0 means all). Orders the exchange reports as
// finished or canceled are settled in the store as a side effect; every
// other per-order problem only skips that order.
func (e *Engine) Reconcile(ctx context.Context, acct orders.Account, client exchange.Client, marketID int64) (Plan, error) {
	plan := Plan{Account: acct}

	pending, err := e.store.ListPendingOrders(ctx, acct.ID, marketID)
	if err != nil {
		return plan, fmt.Errorf("failed to list pending orders: %w", err)
	}
	if len(pending) == 0 {
		return plan, nil
	}

	books := make(map[string]exchange.OrderBook)

	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return plan, err
		}

		log := e.logger.With(
			zap.Int64("account_id", acct.ID),
			zap.String("order_id", o.OrderID),
			zap.Int64("market_id", o.MarketID),
		)

		if o.OrderID == "" || o.TokenID == "" || !o.Side.Valid() {
			log.Warn("skipping order with incomplete identity",
				zap.String("token_id", o.TokenID),
				zap.String("side", string(o.Side)),
			)
			continue
		}
		if !o.ThresholdReachable() {
			log.Warn("reposition threshold is not below the offset distance",
				zap.Float64("threshold_cents", o.RepositionThresholdCents),
				zap.Float64("offset_cents", o.OffsetCents()),
			)
		}

		if settled, ok := e.checkSettled(ctx, acct, client, o, log); ok {
			plan.Settled = append(plan.Settled, settled)
			continue
		}

		book, cached := books[o.TokenID]
		if !cached {
			book, err = e.orderBook(ctx, client, o.TokenID)
			if err != nil {
				log.Warn("order book unavailable", zap.String("token_id", o.TokenID), zap.Error(err))
				continue
			}
			books[o.TokenID] = book
		}

		current, ok := pricing.BestPrice(book, o.Side)
		if !ok {
			log.Debug("no usable best price", zap.String("token_id", o.TokenID), zap.String("side", string(o.Side)))
			continue
		}

		tick := o.TickSize
		if tick <= 0 {
			tick = pricing.DefaultTickSize
		}
		target, ok := pricing.TargetPrice(current, o.Side, o.OffsetTicks, tick)
		if !ok {
			log.Warn("could not compute target price", zap.Float64("current_price", current))
			continue
		}

		change := pricing.ChangeCents(target, o.TargetPrice)
		move := pricing.ShouldReposition(change, o.RepositionThresholdCents)
		metrics.IncOrdersEvaluated()
		metrics.IncRepositionDecision(move)

		plan.Evaluations = append(plan.Evaluations, orders.PriceChange{
			AccountID:       acct.ID,
			OwnerID:         acct.OwnerID,
			OrderID:         o.OrderID,
			MarketID:        o.MarketID,
			MarketTitle:     o.MarketTitle,
			TokenName:       o.TokenName,
			Side:            o.Side,
			OldCurrentPrice: o.CurrentPrice,
			NewCurrentPrice: current,
			OldTargetPrice:  o.TargetPrice,
			NewTargetPrice:  target,
			ChangeCents:     change,
			ThresholdCents:  o.RepositionThresholdCents,
			OffsetTicks:     o.OffsetTicks,
			OffsetCents:     o.OffsetCents(),
			WillReposition:  move,
		})

		log.Debug("order evaluated",
			zap.Float64("current_price", current),
			zap.Float64("target_price", target),
			zap.Float64("stored_target", o.TargetPrice),
			zap.Float64("change_cents", change),
			zap.Bool("reposition", move),
		)

		if !move {
			continue
		}
		plan.Replacements = append(plan.Replacements, Replacement{
			Order: o,
			Request: exchange.PlaceRequest{
				MarketID: o.MarketID,
				TokenID:  o.TokenID,
				Side:     o.Side,
				Price:    target,
				Amount:   o.Amount,
			},
			NewCurrentPrice: current,
			NewTargetPrice:  target,
		})
	}

	return plan, nil
}

// checkSettled asks the exchange whether the order is still live. Lookup
// failures are not fatal: the order is treated as still pending.
func (e *Engine) checkSettled(ctx context.Context, acct orders.Account, client exchange.Client, o orders.RestingOrder, log *zap.Logger) (Settlement, bool) {
	lookupCtx, cancel := e.withLookupTimeout(ctx)
	info, err := client.GetOrderStatus(lookupCtx, o.OrderID)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("order status lookup timed out, continuing", zap.Error(err))
		} else {
			log.Warn("order status lookup failed, continuing", zap.Error(err))
		}
		return Settlement{}, false
	}
	if !info.Status.Terminal() {
		return Settlement{}, false
	}

	if err := e.store.UpdateOrderStatus(ctx, o.OrderID, info.Status); err != nil {
		log.Error("failed to record settled order", zap.String("status", string(info.Status)), zap.Error(err))
	}
	metrics.IncSettlement(string(info.Status))
	log.Info("order settled on exchange", zap.String("status", string(info.Status)))

	if info.Status == orders.StatusFinished {
		e.notifier.Notify(ctx, notify.OrderFilled(acct.OwnerID, o, info))
	}
	return Settlement{Order: o, Status: info.Status}, true
}

func (e *Engine) orderBook(ctx context.Context, client exchange.Client, tokenID string) (exchange.OrderBook, error) {
	lookupCtx, cancel := e.withLookupTimeout(ctx)
	defer cancel()
	return client.GetOrderBook(lookupCtx, tokenID)
}

func (e *Engine) withLookupTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.lookupTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.lookupTimeout)
}
