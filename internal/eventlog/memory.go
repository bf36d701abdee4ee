package eventlog

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is an in-process log for tests and ephemeral deployments. It
// honours the same ordering contract as the durable stores but provides no
// crash durability.
type MemoryLog struct {
	mu      sync.Mutex
	records []Record
	closed  bool
}

// NewMemory constructs an empty in-memory log.
func NewMemory() *MemoryLog {
	return &MemoryLog{}
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, kind Kind, payload any) (uint64, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	seq := uint64(len(l.records) + 1)
	l.records = append(l.records, Record{
		Sequence:   seq,
		Kind:       kind,
		Payload:    raw,
		AppendedAt: time.Now().UTC(),
	})
	return seq, nil
}

// Replay implements Log.
func (l *MemoryLog) Replay(ctx context.Context, since uint64, fn func(Record) error) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	snapshot := make([]Record, len(l.records))
	copy(snapshot, l.records)
	l.mu.Unlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Sequence <= since {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// LastSequence implements Log.
func (l *MemoryLog) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.records))
}

// Close implements Log.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
