package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLiteLog persists records to a single append-only SQLite table. SQLite's
// own journal provides the durability guarantee; the sequence column mirrors
// the logical ordering so replay needs no other index.
type SQLiteLog struct {
	mu     sync.Mutex
	db     *sql.DB
	seq    uint64
	path   string
	closed bool
}

// OpenSQLite opens or creates a SQLite-backed event log.
func OpenSQLite(path string) (*SQLiteLog, error) {
	if path == "" {
		path = "stitchcore-events.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
		sequence INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		payload BLOB NOT NULL,
		appended_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}
	var seq sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(sequence) FROM events`).Scan(&seq); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read last sequence: %w", err)
	}
	l := &SQLiteLog{db: db, path: path}
	if seq.Valid {
		l.seq = uint64(seq.Int64)
	}
	return l, nil
}

// Append implements Log.
func (l *SQLiteLog) Append(ctx context.Context, kind Kind, payload any) (uint64, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	next := l.seq + 1
	at := time.Now().UTC()
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO events(sequence, kind, payload, appended_at) VALUES(?,?,?,?)`,
		next, string(kind), []byte(raw), at.Format(time.RFC3339Nano)); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	l.seq = next
	return next, nil
}

// Replay implements Log.
func (l *SQLiteLog) Replay(ctx context.Context, since uint64, fn func(Record) error) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	db := l.db
	l.mu.Unlock()

	rows, err := db.QueryContext(ctx,
		`SELECT sequence, kind, payload, appended_at FROM events WHERE sequence > ? ORDER BY sequence`, since)
	if err != nil {
		return fmt.Errorf("select events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			rec  Record
			kind string
			at   string
		)
		if err := rows.Scan(&rec.Sequence, &kind, (*[]byte)(&rec.Payload), &at); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		rec.Kind = Kind(kind)
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			rec.AppendedAt = ts
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastSequence implements Log.
func (l *SQLiteLog) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Close closes the database handle.
func (l *SQLiteLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

// DB exposes the underlying handle for integration testing hooks.
func (l *SQLiteLog) DB() *sql.DB { return l.db }
