// Package orders is the relational lookup surface the assistant queries on a
// user's behalf. Lookups are always scoped to the requesting user's identity.
package orders

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Order is one row of the customer's order history.
type Order struct {
	OrderNumber string    `json:"orderNumber"`
	CustomerRef string    `json:"-"`
	SKU         string    `json:"sku"`
	Qty         float64   `json:"qty"`
	Status      string    `json:"status"`
	PlacedAt    time.Time `json:"placedAt"`
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		order_number TEXT NOT NULL,
		customer_ref TEXT NOT NULL,
		sku          TEXT NOT NULL,
		qty          REAL NOT NULL DEFAULT 1,
		status       TEXT NOT NULL DEFAULT 'processing',
		placed_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_ref, placed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert records an order row; used by seeding and tests.
func (s *Store) Insert(ctx context.Context, o Order) error {
	if o.PlacedAt.IsZero() {
		o.PlacedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (order_number, customer_ref, sku, qty, status, placed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.OrderNumber, o.CustomerRef, o.SKU, o.Qty, o.Status, o.PlacedAt,
	)
	return err
}

// ListByCustomer returns the customer's most recent orders, newest first.
func (s *Store) ListByCustomer(ctx context.Context, customerRef string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_number, customer_ref, sku, qty, status, placed_at
		 FROM orders WHERE customer_ref = ?
		 ORDER BY placed_at DESC LIMIT ?`,
		customerRef, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.OrderNumber, &o.CustomerRef, &o.SKU, &o.Qty, &o.Status, &o.PlacedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
