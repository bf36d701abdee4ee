// Package eventlog provides the append-only, sequence-numbered durable store
// backing both the order transition history and the work-queue WAL. Records
// are never mutated or deleted; replay from sequence zero reconstructs the
// full history with no external index.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Kind labels the payload carried by a record.
type Kind string

// Record kinds.
const (
	// KindTransition wraps a domain.TransitionRecord.
	KindTransition Kind = "transition"
	// KindWAL wraps a domain.WALEntry.
	KindWAL Kind = "wal"
)

// Record is one appended entry. Sequence is assigned by the log on append,
// starting at 1 and strictly increasing.
type Record struct {
	Sequence   uint64          `json:"sequence"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	AppendedAt time.Time       `json:"appended_at"`
}

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("event log closed")

// ErrCorrupt is returned when replay encounters an undecodable record that is
// not the final entry of the store.
var ErrCorrupt = errors.New("event log corrupt")

// Log is the append-only store contract. Append must be durable before it
// returns; a write failure is fatal to the caller's process by policy.
type Log interface {
	// Append persists the payload under the next sequence number and returns it.
	Append(ctx context.Context, kind Kind, payload any) (uint64, error)
	// Replay invokes fn for every record with sequence greater than since, in
	// sequence order. fn returning an error stops the replay.
	Replay(ctx context.Context, since uint64, fn func(Record) error) error
	// LastSequence returns the highest assigned sequence number.
	LastSequence() uint64
	// Close releases underlying resources.
	Close() error
}

func encodePayload(payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
