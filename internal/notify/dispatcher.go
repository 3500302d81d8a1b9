package notify

import (
	"context"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/metrics"
	"go.uber.org/zap"
)

// Sink delivers a rendered notification somewhere the owner will see it.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Deliver(ctx context.Context, n Notification) error { return f(ctx, n) }

// Dispatcher is the fire-and-forget front of a Sink. Delivery failures are
// logged and counted but never returned, so a broken notification channel
// cannot stall reconciliation.
type Dispatcher struct {
	sink         Sink
	logger       *zap.Logger
	adminOwnerID int64
	timeout      time.Duration
}

// NewDispatcher creates a dispatcher. Alerts are sent to adminOwnerID; zero
// disables alert delivery (alerts are still logged).
func NewDispatcher(sink Sink, adminOwnerID int64, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sink:         sink,
		logger:       logger,
		adminOwnerID: adminOwnerID,
		timeout:      5 * time.Second,
	}
}

// Notify delivers n to its owner.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if n.OwnerID == 0 {
		metrics.IncNotification(string(n.Kind), "skipped")
		d.logger.Debug("notification without owner dropped", zap.String("kind", string(n.Kind)))
		return
	}

	// Deliver even if the caller's context is already cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.sink.Deliver(ctx, n); err != nil {
		metrics.IncNotification(string(n.Kind), "failed")
		d.logger.Warn("failed to deliver notification",
			zap.Int64("owner_id", n.OwnerID),
			zap.String("kind", string(n.Kind)),
			zap.Strings("order_ids", n.OrderIDs),
			zap.Error(err),
		)
		return
	}
	metrics.IncNotification(string(n.Kind), "delivered")
}

// Alert logs an operational problem and forwards it to the operator.
func (d *Dispatcher) Alert(ctx context.Context, text string, fields ...zap.Field) {
	d.logger.Error("operational alert", append([]zap.Field{zap.String("alert", text)}, fields...)...)
	if d.adminOwnerID == 0 {
		return
	}
	d.Notify(ctx, Alert(d.adminOwnerID, text))
}

// LogSink writes notifications to the log. Used when no message bus is
// configured.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Deliver(_ context.Context, n Notification) error {
	s.Logger.Info("notification",
		zap.Int64("owner_id", n.OwnerID),
		zap.Int64("account_id", n.AccountID),
		zap.String("kind", string(n.Kind)),
		zap.Strings("order_ids", n.OrderIDs),
		zap.String("text", n.Text),
	)
	return nil
}
