package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
)

// Paper is an in-memory exchange shared by all accounts. Each account gets
// its own Client view; order books are global per token.
type Paper struct {
	mu              sync.Mutex
	books           map[string]OrderBook
	orders          map[string]*paperOrder
	balances        map[int64]float64
	startingBalance float64
}

type paperOrder struct {
	accountID int64
	tokenID   string
	info      OrderInfo
}

// NewPaper creates a paper exchange where each account starts with the
// given quote balance.
func NewPaper(startingBalance float64) *Paper {
	return &Paper{
		books:           make(map[string]OrderBook),
		orders:          make(map[string]*paperOrder),
		balances:        make(map[int64]float64),
		startingBalance: startingBalance,
	}
}

// SetBook replaces the book for a token.
func (p *Paper) SetBook(tokenID string, bids, asks []Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.books[tokenID] = OrderBook{TokenID: tokenID, Bids: bids, Asks: asks}
}

// SetTopOfBook installs a single-level book. A zero price leaves that side empty.
func (p *Paper) SetTopOfBook(tokenID string, bestBid, bestAsk float64) {
	var bids, asks []Level
	if bestBid > 0 {
		bids = []Level{{Price: formatPrice(bestBid), Size: "100"}}
	}
	if bestAsk > 0 {
		asks = []Level{{Price: formatPrice(bestAsk), Size: "100"}}
	}
	p.SetBook(tokenID, bids, asks)
}

// Adopt registers an order that already rests on the exchange, e.g. one
// loaded from the store at start-up.
func (p *Paper) Adopt(o orders.RestingOrder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[o.OrderID] = &paperOrder{
		accountID: o.AccountID,
		tokenID:   o.TokenID,
		info: OrderInfo{
			OrderID:     o.OrderID,
			Status:      orders.StatusPending,
			MarketID:    o.MarketID,
			MarketTitle: o.MarketTitle,
			Outcome:     o.TokenName,
			Side:        o.Side,
			Price:       o.TargetPrice,
			OrderAmount: o.Amount,
		},
	}
}

// Seed adopts o unless the exchange already knows it, and installs a
// one-tick book around its current price if the token has no book yet.
// It reports whether the order was new.
func (p *Paper) Seed(o orders.RestingOrder, tick float64) bool {
	p.mu.Lock()
	_, known := p.orders[o.OrderID]
	_, hasBook := p.books[o.TokenID]
	p.mu.Unlock()

	if !hasBook && o.CurrentPrice > 0 {
		bid, ask := o.CurrentPrice, o.CurrentPrice+tick
		if o.Side == orders.SideSell {
			bid, ask = o.CurrentPrice-tick, o.CurrentPrice
		}
		p.SetTopOfBook(o.TokenID, bid, ask)
	}
	if known {
		return false
	}
	p.Adopt(o)
	return true
}

// Fill marks an order fully filled.
func (p *Paper) Fill(orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	po, ok := p.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	po.info.Status = orders.StatusFinished
	po.info.FilledAmount = po.info.OrderAmount
	return nil
}

// Order returns the exchange view of an order.
func (p *Paper) Order(orderID string) (OrderInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	po, ok := p.orders[orderID]
	if !ok {
		return OrderInfo{}, false
	}
	return po.info, true
}

// Walk moves every book's top of book by up to maxTicks ticks in either
// direction, keeping bid below ask and both inside the tradable range.
func (p *Paper) Walk(rng *rand.Rand, tick float64, maxTicks int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for tokenID, book := range p.books {
		if len(book.Bids) == 0 || len(book.Asks) == 0 {
			continue
		}
		bid, err1 := strconv.ParseFloat(book.Bids[0].Price, 64)
		ask, err2 := strconv.ParseFloat(book.Asks[0].Price, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		shift := float64(rng.Intn(2*maxTicks+1)-maxTicks) * tick
		bid = math.Max(tick, math.Min(1-2*tick, bid+shift))
		ask = math.Max(bid+tick, math.Min(1-tick, ask+shift))
		book.Bids = []Level{{Price: formatPrice(bid), Size: book.Bids[0].Size}}
		book.Asks = []Level{{Price: formatPrice(ask), Size: book.Asks[0].Size}}
		p.books[tokenID] = book
	}
}

// ClientFor implements Factory.
func (p *Paper) ClientFor(_ context.Context, acct orders.Account) (Client, error) {
	p.mu.Lock()
	if _, ok := p.balances[acct.ID]; !ok {
		p.balances[acct.ID] = p.startingBalance
	}
	p.mu.Unlock()
	return &paperClient{exchange: p, accountID: acct.ID}, nil
}

type paperClient struct {
	exchange  *Paper
	accountID int64
}

func (c *paperClient) GetOrderBook(ctx context.Context, tokenID string) (OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return OrderBook{}, err
	}
	p := c.exchange
	p.mu.Lock()
	defer p.mu.Unlock()
	book, ok := p.books[tokenID]
	if !ok {
		return OrderBook{}, fmt.Errorf("%w: %s", ErrUnknownToken, tokenID)
	}
	return OrderBook{
		TokenID: book.TokenID,
		Bids:    append([]Level(nil), book.Bids...),
		Asks:    append([]Level(nil), book.Asks...),
	}, nil
}

func (c *paperClient) GetOrderStatus(ctx context.Context, orderID string) (OrderInfo, error) {
	if err := ctx.Err(); err != nil {
		return OrderInfo{}, err
	}
	p := c.exchange
	p.mu.Lock()
	defer p.mu.Unlock()
	po, ok := p.orders[orderID]
	if !ok || po.accountID != c.accountID {
		return OrderInfo{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return po.info, nil
}

func (c *paperClient) CancelOrdersBatch(ctx context.Context, orderIDs []string) ([]CancelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := c.exchange
	p.mu.Lock()
	defer p.mu.Unlock()

	results := make([]CancelResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		po, ok := p.orders[id]
		if !ok || po.accountID != c.accountID || po.info.Status != orders.StatusPending {
			results = append(results, CancelResult{
				OrderID:      id,
				ErrorCode:    CodeOrderNotFound,
				ErrorMessage: "Order not found",
			})
			continue
		}
		po.info.Status = orders.StatusCanceled
		if po.info.Side == orders.SideBuy {
			p.balances[c.accountID] += po.info.Price * po.info.OrderAmount
		}
		results = append(results, CancelResult{OrderID: id, Success: true})
	}
	return results, nil
}

func (c *paperClient) PlaceOrdersBatch(ctx context.Context, reqs []PlaceRequest) ([]PlaceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := c.exchange
	p.mu.Lock()
	defer p.mu.Unlock()

	results := make([]PlaceResult, 0, len(reqs))
	for _, req := range reqs {
		if req.Price <= 0 || req.Price >= 1 || req.Amount <= 0 || !req.Side.Valid() {
			results = append(results, PlaceResult{ErrorCode: CodeRejected, ErrorMessage: "invalid order parameters"})
			continue
		}
		cost := req.Price * req.Amount
		if req.Side == orders.SideBuy {
			if p.balances[c.accountID] < cost {
				results = append(results, PlaceResult{ErrorCode: CodeRejected, ErrorMessage: "insufficient balance"})
				continue
			}
			p.balances[c.accountID] -= cost
		}

		id := uuid.New().String()
		p.orders[id] = &paperOrder{
			accountID: c.accountID,
			tokenID:   req.TokenID,
			info: OrderInfo{
				OrderID:     id,
				Status:      orders.StatusPending,
				MarketID:    req.MarketID,
				Side:        req.Side,
				Price:       req.Price,
				OrderAmount: req.Amount,
			},
		}
		results = append(results, PlaceResult{OrderID: id, Success: true})
	}
	return results, nil
}

func (c *paperClient) GetBalance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p := c.exchange
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[c.accountID], nil
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
