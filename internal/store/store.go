package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/orders"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed order store: accounts, resting orders and the
// notification outbox.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the order store
func Open(path string) (*Store, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the necessary tables
func (s *Store) migrate() error {
	queries := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id INTEGER PRIMARY KEY,
			owner_id INTEGER NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			wallet_address TEXT NOT NULL DEFAULT '',
			proxy_url TEXT NOT NULL DEFAULT '',
			proxy_status TEXT NOT NULL DEFAULT 'unknown',
			created_unix_millis INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			order_id TEXT NOT NULL UNIQUE,
			market_id INTEGER NOT NULL,
			root_market_id INTEGER NOT NULL DEFAULT 0,
			market_title TEXT NOT NULL DEFAULT '',
			token_id TEXT NOT NULL,
			token_name TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL,
			current_price REAL NOT NULL,
			target_price REAL NOT NULL,
			offset_ticks INTEGER NOT NULL,
			tick_size REAL NOT NULL DEFAULT 0.001,
			amount REAL NOT NULL,
			reposition_threshold_cents REAL NOT NULL DEFAULT 0.5,
			status TEXT NOT NULL DEFAULT 'pending',
			created_unix_millis INTEGER NOT NULL,
			updated_unix_millis INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_account_status
			ON orders(account_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_market
			ON orders(market_id, root_market_id)`,
		`CREATE TABLE IF NOT EXISTS notification_outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			owner_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			topic TEXT NOT NULL,
			key TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL,
			published_unix_millis INTEGER NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
			ON notification_outbox(published_unix_millis)
			WHERE published_unix_millis IS NULL`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertAccount inserts an account or updates its mutable fields.
func (s *Store) UpsertAccount(ctx context.Context, a orders.Account) error {
	status := a.ProxyStatus
	if status == "" {
		status = orders.ProxyUnknown
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (account_id, owner_id, api_key, wallet_address, proxy_url, proxy_status, created_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			api_key = excluded.api_key,
			wallet_address = excluded.wallet_address,
			proxy_url = excluded.proxy_url,
			proxy_status = excluded.proxy_status`,
		a.ID, a.OwnerID, a.APIKey, a.WalletAddress, a.ProxyURL, string(status), s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// GetAccount loads one account.
func (s *Store) GetAccount(ctx context.Context, accountID int64) (orders.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT account_id, owner_id, api_key, wallet_address, proxy_url, proxy_status
		 FROM accounts WHERE account_id = ?`, accountID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Account{}, fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return orders.Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// UpdateProxyStatus records the latest proxy health check result.
func (s *Store) UpdateProxyStatus(ctx context.Context, accountID int64, status orders.ProxyStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET proxy_status = ? WHERE account_id = ?", string(status), accountID)
	if err != nil {
		return fmt.Errorf("failed to update proxy status: %w", err)
	}
	return expectOne(res, fmt.Sprintf("account %d", accountID))
}

// ListAccountsWithPending returns every account that has at least one
// pending order, optionally restricted to a market (0 means any market).
func (s *Store) ListAccountsWithPending(ctx context.Context, marketID int64) ([]orders.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.account_id, a.owner_id, a.api_key, a.wallet_address, a.proxy_url, a.proxy_status
		 FROM accounts a
		 WHERE EXISTS (
			SELECT 1 FROM orders o
			WHERE o.account_id = a.account_id
			  AND o.status = 'pending'
			  AND (? = 0 OR o.market_id = ? OR o.root_market_id = ?)
		 )
		 ORDER BY a.account_id`,
		marketID, marketID, marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []orders.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// FirstAPIKey returns the API key of the first account with pending
// orders, or "" when there is none.
func (s *Store) FirstAPIKey(ctx context.Context) (string, error) {
	accounts, err := s.ListAccountsWithPending(ctx, 0)
	if err != nil {
		return "", err
	}
	for _, a := range accounts {
		if a.APIKey != "" {
			return a.APIKey, nil
		}
	}
	return "", nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (orders.Account, error) {
	var a orders.Account
	var status string
	if err := r.Scan(&a.ID, &a.OwnerID, &a.APIKey, &a.WalletAddress, &a.ProxyURL, &status); err != nil {
		return orders.Account{}, err
	}
	a.ProxyStatus = orders.ProxyStatus(status)
	return a, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
