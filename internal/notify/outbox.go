package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/floating-order-sync/internal/msg"
	"github.com/ismaiel54/floating-order-sync/internal/store"
	"go.uber.org/zap"
)

// OutboxWriter is the part of the order store the outbox sink needs.
type OutboxWriter interface {
	EnqueueNotification(ctx context.Context, e store.OutboxEvent) error
}

// OutboxReader is the part of the order store the publisher needs.
type OutboxReader interface {
	ListUnpublished(ctx context.Context, limit int) ([]store.OutboxEvent, error)
	MarkPublished(ctx context.Context, eventID string, nowMillis int64) error
}

// JSONProducer publishes a JSON value to a topic.
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic string, key string, v any) error
}

// OutboxSink persists notifications into the store's outbox; the Publisher
// ships them to Kafka.
type OutboxSink struct {
	store OutboxWriter
	topic string
	now   func() time.Time
}

// NewOutboxSink creates an outbox-backed sink.
func NewOutboxSink(store OutboxWriter, topic string) *OutboxSink {
	if topic == "" {
		topic = msg.TopicNotifications
	}
	return &OutboxSink{store: store, topic: topic, now: time.Now}
}

func (s *OutboxSink) Deliver(ctx context.Context, n Notification) error {
	now := s.now().UnixMilli()
	m := msg.NotificationMsg{
		EventID:      uuid.New().String(),
		OwnerID:      n.OwnerID,
		AccountID:    n.AccountID,
		Kind:         string(n.Kind),
		OrderIDs:     n.OrderIDs,
		MarketID:     n.MarketID,
		Text:         n.Text,
		TsUnixMillis: now,
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	return s.store.EnqueueNotification(ctx, store.OutboxEvent{
		EventID:           m.EventID,
		OwnerID:           n.OwnerID,
		Kind:              string(n.Kind),
		Topic:             s.topic,
		Key:               strconv.FormatInt(n.OwnerID, 10),
		PayloadJSON:       string(payload),
		CreatedUnixMillis: now,
	})
}

// Publisher publishes outbox notifications to Kafka
type Publisher struct {
	store     OutboxReader
	producer  JSONProducer
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

// NewPublisher creates a new outbox publisher
func NewPublisher(store OutboxReader, producer JSONProducer, logger *zap.Logger) *Publisher {
	return &Publisher{
		store:     store,
		producer:  producer,
		logger:    logger,
		interval:  250 * time.Millisecond,
		batchSize: 100,
	}
}

// Run starts the publisher loop
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil {
				// Retried on the next tick.
				p.logger.Error("failed to publish batch", zap.Error(err))
			}
		}
	}
}

// PublishBatch ships up to one batch of unpublished events and returns how
// many were published.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	events, err := p.store.ListUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpublished events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	now := time.Now().UnixMilli()
	published := 0

	for _, event := range events {
		var notification msg.NotificationMsg
		if err := json.Unmarshal([]byte(event.PayloadJSON), &notification); err != nil {
			p.logger.Error("failed to unmarshal event payload",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			continue
		}

		if err := p.producer.ProduceJSON(ctx, event.Topic, event.Key, notification); err != nil {
			p.logger.Error("failed to produce notification",
				zap.String("event_id", event.EventID),
				zap.Int64("owner_id", event.OwnerID),
				zap.Error(err),
			)
			continue
		}

		// Worst case a failed mark republishes; consumers dedupe on event_id.
		if err := p.store.MarkPublished(ctx, event.EventID, now); err != nil {
			p.logger.Error("failed to mark event as published",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			continue
		}

		published++
		p.logger.Debug("published notification",
			zap.String("event_id", event.EventID),
			zap.String("kind", event.Kind),
		)
	}

	if published > 0 {
		p.logger.Info("published outbox batch",
			zap.Int("published", published),
			zap.Int("total", len(events)),
		)
	}

	return published, nil
}
