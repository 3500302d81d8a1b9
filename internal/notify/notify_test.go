package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/exchange"
	"github.com/ismaiel54/floating-order-sync/internal/msg"
	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"github.com/ismaiel54/floating-order-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleOrder() orders.RestingOrder {
	return orders.RestingOrder{
		AccountID:    1,
		OrderID:      "ord-123",
		MarketID:     813,
		MarketTitle:  "Fed cut in March?",
		TokenID:      "tok-yes",
		TokenName:    "YES",
		Side:         orders.SideBuy,
		CurrentPrice: 0.5,
		TargetPrice:  0.48,
		OffsetTicks:  10,
		TickSize:     0.001,
		Amount:       25,
	}
}

func TestPriceChanged(t *testing.T) {
	n := PriceChanged(orders.PriceChange{
		OwnerID:         42,
		AccountID:       1,
		OrderID:         "ord-123",
		MarketID:        813,
		MarketTitle:     "Fed cut in March?",
		TokenName:       "YES",
		Side:            orders.SideBuy,
		OldCurrentPrice: 0.49,
		NewCurrentPrice: 0.5,
		OldTargetPrice:  0.48,
		NewTargetPrice:  0.49,
		ChangeCents:     1,
		ThresholdCents:  0.5,
		OffsetTicks:     10,
		OffsetCents:     1,
		WillReposition:  true,
	})

	assert.Equal(t, KindPriceChanged, n.Kind)
	assert.Equal(t, int64(42), n.OwnerID)
	assert.Contains(t, n.Text, "ord-123")
	assert.Contains(t, n.Text, "48.0¢ -> 49.0¢")
	assert.Contains(t, n.Text, "Change: 1.00¢ (threshold 0.50¢)")
	assert.Contains(t, n.Text, "Repositioning")
}

func TestCancelFailed(t *testing.T) {
	n := CancelFailed(42, 1, []exchange.CancelResult{
		{OrderID: "ord-a", Success: true},
		{OrderID: "ord-b", ErrorCode: 10207, ErrorMessage: "Order not found"},
	})

	assert.Equal(t, KindCancelFailed, n.Kind)
	assert.Equal(t, []string{"ord-a", "ord-b"}, n.OrderIDs)
	assert.Contains(t, n.Text, "ord-a: cancelled")
	assert.Contains(t, n.Text, "ord-b: errno 10207: Order not found")
	assert.Contains(t, n.Text, "No replacement orders were placed")
}

func TestPlacementFailed(t *testing.T) {
	o := sampleOrder()
	req := exchange.PlaceRequest{MarketID: o.MarketID, TokenID: o.TokenID, Side: o.Side, Price: 0.49, Amount: 25}

	n := PlacementFailed(42, o, req, exchange.PlaceResult{ErrorCode: 10400, ErrorMessage: "insufficient balance"}, 3.5)
	assert.Equal(t, KindPlacementFailed, n.Kind)
	assert.Contains(t, n.Text, "Old order: ord-123")
	assert.Contains(t, n.Text, "errno 10400: insufficient balance")
	assert.Contains(t, n.Text, "Available balance: 3.50")

	n = PlacementFailed(42, o, req, exchange.PlaceResult{ErrorCode: -1, ErrorMessage: "timeout"}, -1)
	assert.NotContains(t, n.Text, "Available balance")
}

func TestOrderFilledAndExpired(t *testing.T) {
	o := sampleOrder()
	n := OrderFilled(42, o, exchange.OrderInfo{OrderID: o.OrderID, Status: orders.StatusFinished, Price: 0.48, FilledAmount: 25})
	assert.Equal(t, KindOrderFilled, n.Kind)
	assert.Contains(t, n.Text, "Order: ord-123")
	assert.Contains(t, n.Text, "Outcome: YES")
	assert.Contains(t, n.Text, "Filled: 25.00")

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	o.CreatedAt = now.Add(-6 * 24 * time.Hour)
	n = OrderExpired(42, o, now)
	assert.Equal(t, KindOrderExpired, n.Kind)
	assert.Contains(t, n.Text, "6 days ago")

	n = OrderUpdated(42, o, "ord-456", 0.5, 0.49)
	assert.Equal(t, []string{"ord-123", "ord-456"}, n.OrderIDs)
	assert.Contains(t, n.Text, "New order: ord-456")
}

type recordingSink struct {
	mu   sync.Mutex
	got  []Notification
	fail bool
}

func (s *recordingSink) Deliver(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("channel down")
	}
	s.got = append(s.got, n)
	return nil
}

func TestDispatcher(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 9, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Notify(ctx, Notification{OwnerID: 1, Kind: KindOrderUpdated})
	d.Notify(context.Background(), Notification{OwnerID: 0, Kind: KindOrderUpdated})
	d.Alert(context.Background(), "cycle exceeded deadline")

	require.Len(t, sink.got, 2)
	assert.Equal(t, int64(1), sink.got[0].OwnerID, "cancelled caller context does not drop delivery")
	assert.Equal(t, KindAlert, sink.got[1].Kind)
	assert.Equal(t, int64(9), sink.got[1].OwnerID)

	sink.fail = true
	assert.NotPanics(t, func() { d.Notify(context.Background(), Notification{OwnerID: 1}) })

	silent := NewDispatcher(&recordingSink{}, 0, zap.NewNop())
	silent.Alert(context.Background(), "ignored")
}

type fakeProducer struct {
	mu       sync.Mutex
	produced []msg.NotificationMsg
	fail     bool
}

func (p *fakeProducer) ProduceJSON(_ context.Context, _ string, _ string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.produced = append(p.produced, v.(msg.NotificationMsg))
	return nil
}

func TestOutboxSinkAndPublisher(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "notify_outbox_test_*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	st, err := store.Open(filepath.Join(tmpDir, "orders.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	sink := NewOutboxSink(st, "")
	require.NoError(t, sink.Deliver(ctx, OrderUpdated(42, sampleOrder(), "ord-456", 0.5, 0.49)))

	unpublished, err := st.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unpublished, 1)
	assert.Equal(t, msg.TopicNotifications, unpublished[0].Topic)
	assert.Equal(t, "42", unpublished[0].Key)

	var payload msg.NotificationMsg
	require.NoError(t, json.Unmarshal([]byte(unpublished[0].PayloadJSON), &payload))
	assert.Equal(t, "order_updated", payload.Kind)

	producer := &fakeProducer{fail: true}
	publisher := NewPublisher(st, producer, zap.NewNop())

	n, err := publisher.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "failed produce leaves the event queued")

	producer.fail = false
	n, err = publisher.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, producer.produced, 1)
	assert.Equal(t, payload.EventID, producer.produced[0].EventID)

	unpublished, err = st.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unpublished)
}
