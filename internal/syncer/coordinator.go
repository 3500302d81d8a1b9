package syncer

import (
	"context"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/exchange"
	"github.com/ismaiel54/floating-order-sync/internal/metrics"
	"github.com/ismaiel54/floating-order-sync/internal/notify"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"go.uber.org/zap"
)

// Outcome summarizes one executed plan.
type Outcome struct {
	Cancelled    int
	Placed       int
	CancelFailed int
	PlaceFailed  int
	// Aborted is set when a cancel failure stopped the batch before any
	// placement was attempted.
	Aborted bool
	// Orphaned lists old order ids that were cancelled but not replaced.
	Orphaned []string
}

// Coordinator applies a plan with cancel-then-place semantics: one batch
// cancel, and only if every cancel succeeded, one batch placement.
type Coordinator struct {
	store       OrderStore
	notifier    Notifier
	logger      *zap.Logger
	callTimeout time.Duration
}

// NewCoordinator creates a batch execution coordinator. callTimeout bounds
// each batch call; zero means no per-call bound.
func NewCoordinator(store OrderStore, notifier Notifier, callTimeout time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:       store,
		notifier:    notifier,
		logger:      logger,
		callTimeout: callTimeout,
	}
}

// Execute runs the plan's replacements for one account.
func (c *Coordinator) Execute(ctx context.Context, acct orders.Account, client exchange.Client, plan Plan) Outcome {
	var out Outcome
	if len(plan.Replacements) == 0 {
		return out
	}

	log := c.logger.With(zap.Int64("account_id", acct.ID))
	cancelIDs := plan.CancelIDs()

	callCtx, cancel := c.withCallTimeout(ctx)
	raw, err := client.CancelOrdersBatch(callCtx, cancelIDs)
	cancel()

	var results []exchange.CancelResult
	if err != nil {
		log.Error("batch cancel failed", zap.Strings("order_ids", cancelIDs), zap.Error(err))
		results = make([]exchange.CancelResult, len(cancelIDs))
		for i, id := range cancelIDs {
			results[i] = exchange.CancelResult{OrderID: id, ErrorCode: exchange.CodeTransport, ErrorMessage: err.Error()}
		}
	} else {
		results = exchange.AlignCancelResults(cancelIDs, raw)
	}

	for _, r := range results {
		if r.OK() {
			out.Cancelled++
		} else {
			out.CancelFailed++
		}
	}
	metrics.AddCancels(out.Cancelled, out.CancelFailed)

	if out.CancelFailed > 0 {
		// Nothing is placed and nothing is written: orders still live keep
		// their rows, and any that did cancel are settled by the status
		// check on the next run.
		out.Aborted = true
		log.Error("cancel barrier failed, skipping placement",
			zap.Int("cancelled", out.Cancelled),
			zap.Int("failed", out.CancelFailed),
		)
		c.notifier.Notify(ctx, notify.CancelFailed(acct.OwnerID, acct.ID, results))
		return out
	}

	reqs := make([]exchange.PlaceRequest, len(plan.Replacements))
	for i, rep := range plan.Replacements {
		reqs[i] = rep.Request
	}

	callCtx, cancel = c.withCallTimeout(ctx)
	rawPlaced, err := client.PlaceOrdersBatch(callCtx, reqs)
	cancel()

	var placed []exchange.PlaceResult
	if err != nil {
		log.Error("batch placement failed", zap.Int("orders", len(reqs)), zap.Error(err))
		placed = make([]exchange.PlaceResult, len(reqs))
		for i := range placed {
			placed[i] = exchange.PlaceResult{ErrorCode: exchange.CodeTransport, ErrorMessage: err.Error()}
		}
	} else {
		placed = exchange.AlignPlaceResults(len(reqs), rawPlaced)
	}

	balance := -1.0
	balanceFetched := false

	for i, rep := range plan.Replacements {
		res := placed[i]
		oldID := rep.Order.OrderID

		if !res.OK() {
			out.PlaceFailed++
			out.Orphaned = append(out.Orphaned, oldID)
			log.Error("replacement placement failed",
				zap.String("order_id", oldID),
				zap.Int("error_code", res.ErrorCode),
				zap.String("error_message", res.ErrorMessage),
			)
			// The old order is gone from the book; the row follows it.
			if err := c.store.UpdateOrderStatus(ctx, oldID, orders.StatusCanceled); err != nil {
				log.Error("failed to mark orphaned order canceled", zap.String("order_id", oldID), zap.Error(err))
			}
			if !balanceFetched {
				balance = c.balance(ctx, client, log)
				balanceFetched = true
			}
			c.notifier.Notify(ctx, notify.PlacementFailed(acct.OwnerID, rep.Order, rep.Request, res, balance))
			continue
		}

		out.Placed++
		if err := c.store.ReplaceOrderIdentity(ctx, oldID, res.OrderID, rep.NewCurrentPrice, rep.NewTargetPrice); err != nil {
			// The exchange is already moved; only the row is stale.
			log.Error("failed to record replacement order",
				zap.String("order_id", oldID),
				zap.String("new_order_id", res.OrderID),
				zap.Error(err),
			)
			c.notifier.Alert(ctx, "replacement order placed but not recorded",
				zap.Int64("account_id", acct.ID),
				zap.String("order_id", oldID),
				zap.String("new_order_id", res.OrderID),
			)
			continue
		}

		log.Info("order repositioned",
			zap.String("order_id", oldID),
			zap.String("new_order_id", res.OrderID),
			zap.Float64("target_price", rep.NewTargetPrice),
		)
		c.notifier.Notify(ctx, notify.OrderUpdated(acct.OwnerID, rep.Order, res.OrderID, rep.NewCurrentPrice, rep.NewTargetPrice))
	}
	metrics.AddPlacements(out.Placed, out.PlaceFailed)

	return out
}

func (c *Coordinator) balance(ctx context.Context, client exchange.Client, log *zap.Logger) float64 {
	callCtx, cancel := c.withCallTimeout(ctx)
	defer cancel()
	b, err := client.GetBalance(callCtx)
	if err != nil {
		log.Warn("balance lookup failed", zap.Error(err))
		return -1
	}
	return b
}

func (c *Coordinator) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}
