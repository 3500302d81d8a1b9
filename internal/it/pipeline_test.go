package it

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ismaiel54/floating-order-sync/internal/exchange"
	"github.com/ismaiel54/floating-order-sync/internal/live"
	"github.com/ismaiel54/floating-order-sync/internal/msg"
	"github.com/ismaiel54/floating-order-sync/internal/notify"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"github.com/ismaiel54/floating-order-sync/internal/store"
	"github.com/ismaiel54/floating-order-sync/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// capturingProducer stands in for Kafka.
type capturingProducer struct {
	mu   sync.Mutex
	msgs []msg.NotificationMsg
}

func (p *capturingProducer) ProduceJSON(_ context.Context, _ string, _ string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, v.(msg.NotificationMsg))
	return nil
}

func (p *capturingProducer) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.Kind)
	}
	return out
}

type pipeline struct {
	st        *store.Store
	paper     *exchange.Paper
	runner    *syncer.Runner
	publisher *notify.Publisher
	producer  *capturingProducer
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "pipeline_test_*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	st, err := store.Open(filepath.Join(tmpDir, "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := zap.NewNop()
	producer := &capturingProducer{}
	dispatcher := notify.NewDispatcher(notify.NewOutboxSink(st, ""), 0, logger)
	paper := exchange.NewPaper(1000)

	engine := syncer.NewEngine(st, dispatcher, time.Second, logger)
	coordinator := syncer.NewCoordinator(st, dispatcher, time.Second, logger)
	runner := syncer.NewRunner(st, paper, engine, coordinator, dispatcher, nil, 2, logger)

	return &pipeline{
		st:        st,
		paper:     paper,
		runner:    runner,
		publisher: notify.NewPublisher(st, producer, logger),
		producer:  producer,
	}
}

// seed stores a BUY order resting ten ticks under a 0.500 bid and makes
// the paper exchange aware of it.
func (p *pipeline) seed(t *testing.T, orderID string, marketID int64) orders.RestingOrder {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.st.UpsertAccount(ctx, orders.Account{ID: 1, OwnerID: 100, APIKey: "key-1", ProxyStatus: orders.ProxyWorking}))

	o := orders.RestingOrder{
		AccountID:                1,
		OrderID:                  orderID,
		MarketID:                 marketID,
		MarketTitle:              "Will it rain?",
		TokenID:                  "tok-" + orderID,
		TokenName:                "YES",
		Side:                     orders.SideBuy,
		CurrentPrice:             0.500,
		TargetPrice:              0.490,
		OffsetTicks:              10,
		TickSize:                 0.001,
		Amount:                   10,
		RepositionThresholdCents: 0.5,
	}
	_, err := p.st.InsertOrder(ctx, o)
	require.NoError(t, err)
	require.True(t, p.paper.Seed(o, o.TickSize))
	return o
}

func TestPipeline_RepositionThenFill(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.seed(t, "o1", 10)

	// Book unchanged: nothing moves.
	stats, err := p.runner.RunAll(ctx, syncer.TriggerTimer)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Evaluated)
	assert.Equal(t, 0, stats.Repositions)

	p.paper.SetTopOfBook("tok-o1", 0.520, 0.530)

	stats, err = p.runner.RunAll(ctx, syncer.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Repositions)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Equal(t, 1, stats.Placed)

	old, ok := p.paper.Order("o1")
	require.True(t, ok)
	assert.Equal(t, orders.StatusCanceled, old.Status)

	pending, err := p.st.ListPendingOrders(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	moved := pending[0]
	assert.NotEqual(t, "o1", moved.OrderID)
	assert.InDelta(t, 0.520, moved.CurrentPrice, 1e-9)
	assert.InDelta(t, 0.510, moved.TargetPrice, 1e-9)

	onExchange, ok := p.paper.Order(moved.OrderID)
	require.True(t, ok)
	assert.Equal(t, orders.StatusPending, onExchange.Status)
	assert.InDelta(t, 0.510, onExchange.Price, 1e-9)

	require.NoError(t, p.paper.Fill(moved.OrderID))
	stats, err = p.runner.RunAll(ctx, syncer.TriggerTimer)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Settled)

	filled, err := p.st.GetOrder(ctx, moved.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFinished, filled.Status)

	n, err := p.publisher.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{
		string(notify.KindPriceChanged),
		string(notify.KindOrderUpdated),
		string(notify.KindOrderFilled),
	}, p.producer.kinds())

	// Already published events are not shipped twice.
	n, err = p.publisher.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPipeline_LiveEventTriggersMarketSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newPipeline(t)
	p.seed(t, "o1", 10)
	p.seed(t, "o2", 11)
	p.paper.SetTopOfBook("tok-o1", 0.520, 0.530)
	p.paper.SetTopOfBook("tok-o2", 0.520, 0.530)

	var (
		mu   sync.Mutex
		conn *websocket.Conn
	)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conn = c
		mu.Unlock()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	listener := live.NewListener(live.Config{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:            "key-1",
		Channel:           "market.last.trade",
		HeartbeatInterval: time.Second,
		DebounceDelay:     30 * time.Millisecond,
		ReconnectInitial:  50 * time.Millisecond,
		ReconnectMax:      200 * time.Millisecond,
	}, p.st, p.st, p.runner, zap.NewNop())
	p.runner.SetSubscriptionSyncer(listener)
	go listener.Run(ctx)

	require.Eventually(t, func() bool { return listener.State() == live.StateListening }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []orders.SubscriptionKey{{ID: 10}, {ID: 11}}, listener.Subscriptions())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conn != nil
	}, time.Second, 5*time.Millisecond)

	event, err := json.Marshal(live.Event{MsgType: "market.last.trade", MarketID: 10})
	require.NoError(t, err)
	mu.Lock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, event))
	mu.Unlock()

	// Only market 10 is repositioned.
	require.Eventually(t, func() bool {
		o, ok := p.paper.Order("o1")
		return ok && o.Status == orders.StatusCanceled
	}, 2*time.Second, 10*time.Millisecond)

	untouched, ok := p.paper.Order("o2")
	require.True(t, ok)
	assert.Equal(t, orders.StatusPending, untouched.Status)

	pending, err := p.st.ListPendingOrders(context.Background(), 1, 11)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "o2", pending[0].OrderID)
}
