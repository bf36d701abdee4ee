// Package sqlite provides the embedded SQLite order store used by
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"stitchcore/pkg/domain"
)

var _ domain.OrderStore = (*Store)(nil)

// Store persists order snapshots and transition history in a SQLite file.
// Snapshots are stored as JSON blobs with the columns needed for filtering
// duplicated alongside.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (and if needed initializes) the SQLite-backed store.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "stitchcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		state TEXT NOT NULL,
		priority TEXT NOT NULL,
		created_at TEXT NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create orders table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS transitions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create transitions table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS transitions_order ON transitions(order_id)`); err != nil {
		return nil, fmt.Errorf("create transitions index: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// PutOrder inserts or replaces the order snapshot.
func (s *Store) PutOrder(ctx context.Context, order domain.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO orders (id, customer_id, state, priority, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_id=excluded.customer_id,
			state=excluded.state,
			priority=excluded.priority,
			payload=excluded.payload`,
		order.ID, order.CustomerID, string(order.State), string(order.Priority),
		order.CreatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"), payload)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// GetOrder returns the order or an OrderNotFoundError.
func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM orders WHERE id = ?`, id).Scan(&payload)
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
	if _, err := s.db.ExecContext(ctx, `INSERT INTO transitions (order_id, payload) VALUES (?, ?)`,
		rec.OrderID, payload); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// Transitions returns the order's audit trail in applied order.
func (s *Store) Transitions(ctx context.Context, orderID string) ([]domain.TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM transitions WHERE order_id = ? ORDER BY seq`, orderID)
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
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE id LIKE ?`,
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

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }
