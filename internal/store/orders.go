package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/orders"
)

const orderColumns = `id, account_id, order_id, market_id, root_market_id, market_title, token_id, token_name,
	side, current_price, target_price, offset_ticks, tick_size, amount, reposition_threshold_cents,
	status, created_unix_millis`

// InsertOrder persists a new pending order after validating it. Orders
// whose threshold can never be reached are rejected with
// orders.ErrThresholdUnreachable.
func (s *Store) InsertOrder(ctx context.Context, o orders.RestingOrder) (int64, error) {
	if err := o.Validate(); err != nil {
		return 0, err
	}
	if o.Status == "" {
		o.Status = orders.StatusPending
	}
	now := s.now()
	created := o.CreatedAt
	if created.IsZero() {
		created = now
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (account_id, order_id, market_id, root_market_id, market_title, token_id, token_name,
			side, current_price, target_price, offset_ticks, tick_size, amount, reposition_threshold_cents,
			status, created_unix_millis, updated_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.AccountID, o.OrderID, o.MarketID, o.RootMarketID, o.MarketTitle, o.TokenID, o.TokenName,
		string(o.Side), o.CurrentPrice, o.TargetPrice, o.OffsetTicks, o.TickSize, o.Amount, o.RepositionThresholdCents,
		string(o.Status), created.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read order row id: %w", err)
	}
	return id, nil
}

// GetOrder loads an order by its current exchange id.
func (s *Store) GetOrder(ctx context.Context, orderID string) (orders.RestingOrder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.RestingOrder{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return orders.RestingOrder{}, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// ListPendingOrders returns an account's pending orders. A non-zero
// marketID restricts the result to orders on that market, matching either
// the market id or the categorical root market id.
func (s *Store) ListPendingOrders(ctx context.Context, accountID, marketID int64) ([]orders.RestingOrder, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE account_id = ? AND status = 'pending'
		   AND (? = 0 OR market_id = ? OR root_market_id = ?)
		 ORDER BY id`,
		accountID, marketID, marketID, marketID,
	)
}

// ListExpiredOrders returns pending orders created before the cutoff.
func (s *Store) ListExpiredOrders(ctx context.Context, cutoff time.Time) ([]orders.RestingOrder, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = 'pending' AND created_unix_millis < ?
		 ORDER BY account_id, id`,
		cutoff.UnixMilli(),
	)
}

// UpdateOrderStatus sets the lifecycle status of an order.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status orders.Status) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_unix_millis = ? WHERE order_id = ?",
		string(status), s.now().UnixMilli(), orderID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return expectOne(res, "order "+orderID)
}

// ReplaceOrderIdentity moves a row to the id of its replacement order and
// records the prices the replacement was placed at. The row stays pending.
func (s *Store) ReplaceOrderIdentity(ctx context.Context, oldOrderID, newOrderID string, newCurrentPrice, newTargetPrice float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET order_id = ?, current_price = ?, target_price = ?, status = 'pending', updated_unix_millis = ?
		 WHERE order_id = ?`,
		newOrderID, newCurrentPrice, newTargetPrice, s.now().UnixMilli(), oldOrderID,
	)
	if err != nil {
		return fmt.Errorf("failed to replace order identity: %w", err)
	}
	if err := expectOne(res, "order "+oldOrderID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSubscriptionKeys returns the distinct live-update keys implied by
// all pending orders.
func (s *Store) ListSubscriptionKeys(ctx context.Context) ([]orders.SubscriptionKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT market_id, root_market_id FROM orders WHERE status = 'pending'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription keys: %w", err)
	}
	defer rows.Close()

	seen := make(map[orders.SubscriptionKey]bool)
	var keys []orders.SubscriptionKey
	for rows.Next() {
		var o orders.RestingOrder
		if err := rows.Scan(&o.MarketID, &o.RootMarketID); err != nil {
			return nil, fmt.Errorf("failed to scan subscription key: %w", err)
		}
		k := o.Key()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys, rows.Err()
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]orders.RestingOrder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var result []orders.RestingOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func scanOrder(r rowScanner) (orders.RestingOrder, error) {
	var o orders.RestingOrder
	var side, status string
	var createdMillis int64
	err := r.Scan(
		&o.ID, &o.AccountID, &o.OrderID, &o.MarketID, &o.RootMarketID, &o.MarketTitle, &o.TokenID, &o.TokenName,
		&side, &o.CurrentPrice, &o.TargetPrice, &o.OffsetTicks, &o.TickSize, &o.Amount, &o.RepositionThresholdCents,
		&status, &createdMillis,
	)
	if err != nil {
		return orders.RestingOrder{}, err
	}
	o.Side = orders.Side(side)
	o.Status = orders.Status(status)
	o.CreatedAt = time.UnixMilli(createdMillis)
	return o, nil
}
