package chaos

import (
	"context"
	"errors"
	"fmt"

	"github.com/ismaiel54/floating-order-sync/internal/exchange"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
)

// ErrInjected is returned by lookups the chaos layer decided to drop.
var ErrInjected = errors.New("chaos: injected failure")

// CodeInjected is the error code reported for dropped batch entries.
const CodeInjected = 59999

// WrapFactory decorates every client produced by f with failure injection.
func WrapFactory(f exchange.Factory, c *Chaos) exchange.Factory {
	return exchange.FactoryFunc(func(ctx context.Context, acct orders.Account) (exchange.Client, error) {
		inner, err := f.ClientFor(ctx, acct)
		if err != nil {
			return nil, err
		}
		return &client{inner: inner, chaos: c, accountID: acct.ID}, nil
	})
}

type client struct {
	inner     exchange.Client
	chaos     *Chaos
	accountID int64
}

func (c *client) GetOrderBook(ctx context.Context, tokenID string) (exchange.OrderBook, error) {
	if err := c.before(ctx, "get_order_book"); err != nil {
		return exchange.OrderBook{}, err
	}
	return c.inner.GetOrderBook(ctx, tokenID)
}

func (c *client) GetOrderStatus(ctx context.Context, orderID string) (exchange.OrderInfo, error) {
	if err := c.before(ctx, "get_order_status"); err != nil {
		return exchange.OrderInfo{}, err
	}
	return c.inner.GetOrderStatus(ctx, orderID)
}

func (c *client) GetBalance(ctx context.Context) (float64, error) {
	if err := c.before(ctx, "get_balance"); err != nil {
		return 0, err
	}
	return c.inner.GetBalance(ctx)
}

// CancelOrdersBatch forwards only the entries that survive the drop roll;
// dropped entries come back as failures and stay live on the exchange.
func (c *client) CancelOrdersBatch(ctx context.Context, orderIDs []string) ([]exchange.CancelResult, error) {
	if err := c.chaos.Delay(ctx, c.accountID, "cancel_orders_batch"); err != nil {
		return nil, err
	}

	var forward []string
	dropped := make(map[string]bool)
	for _, id := range orderIDs {
		if c.chaos.Drop(c.accountID, ClassCancel, "cancel_order") {
			dropped[id] = true
			continue
		}
		forward = append(forward, id)
	}

	var inner []exchange.CancelResult
	if len(forward) > 0 {
		var err error
		inner, err = c.inner.CancelOrdersBatch(ctx, forward)
		if err != nil {
			return nil, err
		}
	}
	aligned := exchange.AlignCancelResults(forward, inner)

	results := make([]exchange.CancelResult, 0, len(orderIDs))
	next := 0
	for _, id := range orderIDs {
		if dropped[id] {
			results = append(results, exchange.CancelResult{
				OrderID:      id,
				ErrorCode:    CodeInjected,
				ErrorMessage: ErrInjected.Error(),
			})
			continue
		}
		results = append(results, aligned[next])
		next++
	}
	return results, nil
}

func (c *client) PlaceOrdersBatch(ctx context.Context, reqs []exchange.PlaceRequest) ([]exchange.PlaceResult, error) {
	if err := c.chaos.Delay(ctx, c.accountID, "place_orders_batch"); err != nil {
		return nil, err
	}

	var forward []exchange.PlaceRequest
	dropped := make([]bool, len(reqs))
	for i, req := range reqs {
		if c.chaos.Drop(c.accountID, ClassPlace, "place_order") {
			dropped[i] = true
			continue
		}
		forward = append(forward, req)
	}

	var inner []exchange.PlaceResult
	if len(forward) > 0 {
		var err error
		inner, err = c.inner.PlaceOrdersBatch(ctx, forward)
		if err != nil {
			return nil, err
		}
	}
	aligned := exchange.AlignPlaceResults(len(forward), inner)

	results := make([]exchange.PlaceResult, 0, len(reqs))
	next := 0
	for i := range reqs {
		if dropped[i] {
			results = append(results, exchange.PlaceResult{ErrorCode: CodeInjected, ErrorMessage: ErrInjected.Error()})
			continue
		}
		results = append(results, aligned[next])
		next++
	}
	return results, nil
}

func (c *client) before(ctx context.Context, op string) error {
	if err := c.chaos.Delay(ctx, c.accountID, op); err != nil {
		return err
	}
	if c.chaos.Drop(c.accountID, ClassLookup, op) {
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}
