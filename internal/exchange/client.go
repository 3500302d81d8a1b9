package exchange

import (
	"context"
	"errors"

	"github.com/ismaiel54/floating-order-sync/internal/orders"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrUnknownToken  = errors.New("unknown token")
)

// Error codes reported in batch results when the exchange itself did not
// supply one.
const (
	CodeOK            = 0
	CodeTransport     = -1 // the whole batch call failed
	CodeMissingResult = -2 // the exchange returned fewer results than requested
	CodeOrderNotFound = 10207
	CodeRejected      = 10400
)

// Level is one price level of an order book. Values arrive as strings and
// may be malformed.
type Level struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderBook is a snapshot for one outcome token.
type OrderBook struct {
	TokenID string  `json:"token_id"`
	Bids    []Level `json:"bids"`
	Asks    []Level `json:"asks"`
}

// OrderInfo is the exchange's view of a single order.
type OrderInfo struct {
	OrderID      string
	Status       orders.Status
	MarketID     int64
	MarketTitle  string
	Outcome      string
	Side         orders.Side
	Price        float64
	OrderAmount  float64
	FilledAmount float64
}

// CancelResult is the per-entry outcome of a batch cancel.
type CancelResult struct {
	OrderID      string
	Success      bool
	ErrorCode    int
	ErrorMessage string
}

// OK is true only when the exchange reported success without an error code.
func (r CancelResult) OK() bool {
	return r.Success && r.ErrorCode == CodeOK
}

// PlaceRequest is one entry of a batch placement.
type PlaceRequest struct {
	MarketID int64
	TokenID  string
	Side     orders.Side
	Price    float64
	Amount   float64
}

// PlaceResult is the per-entry outcome of a batch placement.
type PlaceResult struct {
	OrderID      string
	Success      bool
	ErrorCode    int
	ErrorMessage string
}

// OK requires success, no error code and a new order id.
func (r PlaceResult) OK() bool {
	return r.Success && r.ErrorCode == CodeOK && r.OrderID != ""
}

// Client is the per-account exchange session used by reconciliation.
// Implementations must be safe for use by one goroutine at a time.
type Client interface {
	GetOrderBook(ctx context.Context, tokenID string) (OrderBook, error)
	GetOrderStatus(ctx context.Context, orderID string) (OrderInfo, error)
	CancelOrdersBatch(ctx context.Context, orderIDs []string) ([]CancelResult, error)
	PlaceOrdersBatch(ctx context.Context, reqs []PlaceRequest) ([]PlaceResult, error)
	GetBalance(ctx context.Context) (float64, error)
}

// Factory builds a Client bound to an account's credentials and proxy.
type Factory interface {
	ClientFor(ctx context.Context, acct orders.Account) (Client, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, acct orders.Account) (Client, error)

func (f FactoryFunc) ClientFor(ctx context.Context, acct orders.Account) (Client, error) {
	return f(ctx, acct)
}

// AlignCancelResults returns one result per requested id, in request order.
// Results are matched by order id when the exchange echoes it and by
// position otherwise; anything left unmatched is reported as a failure.
func AlignCancelResults(orderIDs []string, results []CancelResult) []CancelResult {
	byID := make(map[string]CancelResult, len(results))
	for _, r := range results {
		if r.OrderID != "" {
			byID[r.OrderID] = r
		}
	}

	aligned := make([]CancelResult, len(orderIDs))
	for i, id := range orderIDs {
		if r, ok := byID[id]; ok {
			aligned[i] = r
			continue
		}
		if i < len(results) && results[i].OrderID == "" {
			r := results[i]
			r.OrderID = id
			aligned[i] = r
			continue
		}
		aligned[i] = CancelResult{
			OrderID:      id,
			ErrorCode:    CodeMissingResult,
			ErrorMessage: "no result returned for order",
		}
	}
	return aligned
}

// AlignPlaceResults pads or truncates placement results to the request
// length; missing entries are failures.
func AlignPlaceResults(n int, results []PlaceResult) []PlaceResult {
	aligned := make([]PlaceResult, n)
	for i := range aligned {
		if i < len(results) {
			aligned[i] = results[i]
			continue
		}
		aligned[i] = PlaceResult{ErrorCode: CodeMissingResult, ErrorMessage: "no result returned for order"}
	}
	return aligned
}
