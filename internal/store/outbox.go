package store

import (
	"context"
	"database/sql"
	"fmt"
)

// OutboxEvent represents a notification waiting to be published
type OutboxEvent struct {
	ID                  int64
	EventID             string
	OwnerID             int64
	Kind                string
	Topic               string
	Key                 string
	PayloadJSON         string
	CreatedUnixMillis   int64
	PublishedUnixMillis sql.NullInt64
}

// EnqueueNotification appends an event to the outbox. Re-enqueueing an
// event id that already exists is a no-op.
func (s *Store) EnqueueNotification(ctx context.Context, e OutboxEvent) error {
	if e.CreatedUnixMillis == 0 {
		e.CreatedUnixMillis = s.now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_outbox (event_id, owner_id, kind, topic, key, payload_json, created_unix_millis, published_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
		 ON CONFLICT(event_id) DO NOTHING`,
		e.EventID, e.OwnerID, e.Kind, e.Topic, e.Key, e.PayloadJSON, e.CreatedUnixMillis,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// ListUnpublished returns unpublished outbox events
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, owner_id, kind, topic, key, payload_json, created_unix_millis, published_unix_millis
		 FROM notification_outbox
		 WHERE published_unix_millis IS NULL
		 ORDER BY id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		err := rows.Scan(
			&e.ID, &e.EventID, &e.OwnerID, &e.Kind, &e.Topic, &e.Key,
			&e.PayloadJSON, &e.CreatedUnixMillis, &e.PublishedUnixMillis,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// MarkPublished marks an event as published
func (s *Store) MarkPublished(ctx context.Context, eventID string, nowMillis int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notification_outbox SET published_unix_millis = ? WHERE event_id = ?",
		nowMillis, eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}
	return nil
}
