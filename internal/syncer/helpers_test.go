package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/exchange"
	"github.com/ismaiel54/floating-order-sync/internal/notify"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"github.com/ismaiel54/floating-order-sync/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "syncer_test_*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	st, err := store.Open(filepath.Join(tmpDir, "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedAccount(t *testing.T, st *store.Store, id int64, proxy orders.ProxyStatus) orders.Account {
	t.Helper()
	acct := orders.Account{ID: id, OwnerID: id * 100, APIKey: fmt.Sprintf("key-%d", id), ProxyStatus: proxy}
	require.NoError(t, st.UpsertAccount(context.Background(), acct))
	return acct
}

func seedOrder(t *testing.T, st *store.Store, o orders.RestingOrder) orders.RestingOrder {
	t.Helper()
	if o.TokenID == "" {
		o.TokenID = "tok-" + o.OrderID
	}
	if o.TokenName == "" {
		o.TokenName = "YES"
	}
	if o.Side == "" {
		o.Side = orders.SideBuy
	}
	if o.MarketID == 0 {
		o.MarketID = 10
	}
	if o.OffsetTicks == 0 {
		o.OffsetTicks = 10
	}
	if o.TickSize == 0 {
		o.TickSize = 0.001
	}
	if o.Amount == 0 {
		o.Amount = 10
	}
	if o.RepositionThresholdCents == 0 {
		o.RepositionThresholdCents = 0.5
	}
	_, err := st.InsertOrder(context.Background(), o)
	require.NoError(t, err)
	return o
}

func bidBook(tokenID, bid string) exchange.OrderBook {
	return exchange.OrderBook{TokenID: tokenID, Bids: []exchange.Level{{Price: bid, Size: "100"}}}
}

func askBook(tokenID, ask string) exchange.OrderBook {
	return exchange.OrderBook{TokenID: tokenID, Asks: []exchange.Level{{Price: ask, Size: "100"}}}
}

// fakeClient is a scriptable exchange.Client.
type fakeClient struct {
	mu        sync.Mutex
	books     map[string]exchange.OrderBook
	statuses  map[string]exchange.OrderInfo
	statusErr map[string]error
	cancelFn  func(ids []string) ([]exchange.CancelResult, error)
	placeFn   func(reqs []exchange.PlaceRequest) ([]exchange.PlaceResult, error)
	balance   float64
	delay     time.Duration
	idPrefix  string

	cancelCalls [][]string
	placeCalls  [][]exchange.PlaceRequest
	nextID      int

	active    int32
	maxActive int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		books:     make(map[string]exchange.OrderBook),
		statuses:  make(map[string]exchange.OrderInfo),
		statusErr: make(map[string]error),
		balance:   50,
	}
}

func (f *fakeClient) enter() func() {
	n := atomic.AddInt32(&f.active, 1)
	for {
		max := atomic.LoadInt32(&f.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxActive, max, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { atomic.AddInt32(&f.active, -1) }
}

func (f *fakeClient) GetOrderBook(_ context.Context, tokenID string) (exchange.OrderBook, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	book, ok := f.books[tokenID]
	if !ok {
		return exchange.OrderBook{}, exchange.ErrUnknownToken
	}
	return book, nil
}

func (f *fakeClient) GetOrderStatus(_ context.Context, orderID string) (exchange.OrderInfo, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[orderID]; err != nil {
		return exchange.OrderInfo{}, err
	}
	if info, ok := f.statuses[orderID]; ok {
		return info, nil
	}
	return exchange.OrderInfo{OrderID: orderID, Status: orders.StatusPending}, nil
}

func (f *fakeClient) CancelOrdersBatch(_ context.Context, ids []string) ([]exchange.CancelResult, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, append([]string(nil), ids...))
	if f.cancelFn != nil {
		return f.cancelFn(ids)
	}
	results := make([]exchange.CancelResult, len(ids))
	for i, id := range ids {
		results[i] = exchange.CancelResult{OrderID: id, Success: true}
	}
	return results, nil
}

func (f *fakeClient) PlaceOrdersBatch(_ context.Context, reqs []exchange.PlaceRequest) ([]exchange.PlaceResult, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls = append(f.placeCalls, append([]exchange.PlaceRequest(nil), reqs...))
	if f.placeFn != nil {
		return f.placeFn(reqs)
	}
	results := make([]exchange.PlaceResult, len(reqs))
	for i := range reqs {
		f.nextID++
		results[i] = exchange.PlaceResult{OrderID: fmt.Sprintf("%snew-%d", f.idPrefix, f.nextID), Success: true}
	}
	return results, nil
}

func (f *fakeClient) GetBalance(context.Context) (float64, error) {
	return f.balance, nil
}

func (f *fakeClient) setBook(book exchange.OrderBook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[book.TokenID] = book
}

func (f *fakeClient) cancels() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.cancelCalls...)
}

func (f *fakeClient) places() [][]exchange.PlaceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]exchange.PlaceRequest(nil), f.placeCalls...)
}

// fakeFactory hands out one fakeClient per account.
type fakeFactory struct {
	mu      sync.Mutex
	clients map[int64]*fakeClient
	errs    map[int64]error
	calls   map[int64]int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		clients: make(map[int64]*fakeClient),
		errs:    make(map[int64]error),
		calls:   make(map[int64]int),
	}
}

func (f *fakeFactory) client(accountID int64) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[accountID]
	if !ok {
		c = newFakeClient()
		c.idPrefix = fmt.Sprintf("a%d-", accountID)
		f.clients[accountID] = c
	}
	return c
}

func (f *fakeFactory) ClientFor(_ context.Context, acct orders.Account) (exchange.Client, error) {
	f.mu.Lock()
	f.calls[acct.ID]++
	err := f.errs[acct.ID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.client(acct.ID), nil
}

func (f *fakeFactory) callCount(accountID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[accountID]
}

// recordingNotifier captures notifications and alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	sent   []notify.Notification
	alerts []string
}

func (n *recordingNotifier) Notify(_ context.Context, note notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *recordingNotifier) Alert(_ context.Context, text string, _ ...zap.Field) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, text)
}

func (n *recordingNotifier) ofKind(kind notify.Kind) []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notification
	for _, s := range n.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (n *recordingNotifier) alertCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type countingSubs struct {
	calls int32
}

func (c *countingSubs) SyncSubscriptions(context.Context) error {
	atomic.AddInt32(&c.calls, 1)
	return nil
}
