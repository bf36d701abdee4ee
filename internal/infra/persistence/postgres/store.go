// Package postgres provides a Postgres-backed order store for multi-node
// deployments.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"stitchcore/pkg/domain"
)

var _ domain.OrderStore = (*Store)(nil)

const defaultDSN = "postgres://localhost/stitchcore?sslmode=disable"

// Store persists order snapshots and transition history in Postgres. The
// schema mirrors the SQLite store: JSONB payload plus filter columns.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to the local default) and ensures the schema exists.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		state TEXT NOT NULL,
		priority TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create orders table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS transitions (
		seq BIGSERIAL PRIMARY KEY,
		order_id TEXT NOT NULL,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create transitions table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS transitions_order ON transitions(order_id)`); err != nil {
		return nil, fmt.Errorf("create transitions index: %w", err)
	}
	return &Store{db: db}, nil
}

// PutOrder inserts or replaces the order snapshot.
func (s *Store) PutOrder(ctx context.Context, order domain.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO orders (id, customer_id, state, priority, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			state = EXCLUDED.state,
			priority = EXCLUDED.priority,
			payload = EXCLUDED.payload`,
		order.ID, order.CustomerID, string(order.State), string(order.Priority), order.CreatedAt, payload)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// GetOrder returns the order or an OrderNotFoundError.
func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM orders WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.OrderNotFoundError{OrderID: id}
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	var order domain.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	return order, nil
}

// ListOrders returns matching orders ordered by creation time.
func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM orders ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Order
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		var order domain.Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		if filter.Matches(order) {
			out = append(out, order)
		}
	}
	return out, rows.Err()
}

// AppendTransition records one audit entry.
func (s *Store) AppendTransition(ctx context.Context, rec domain.TransitionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO transitions (order_id, payload) VALUES ($1, $2)`,
		rec.OrderID, payload); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// Transitions returns the order's audit trail in applied order.
func (s *Store) Transitions(ctx context.Context, orderID string) ([]domain.TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM transitions WHERE order_id = $1 ORDER BY seq`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select transitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.TransitionRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		var rec domain.TransitionRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode transition: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountCreatedOn counts orders carrying the date stamp in their ID.
func (s *Store) CountCreatedOn(ctx context.Context, dateStamp string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE id LIKE $1`,
		"%-"+dateStamp+"-%").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
