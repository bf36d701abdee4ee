package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"time"

	"stitchcore/internal/eventlog"
	"stitchcore/pkg/domain"
)

// wal wraps the shared event-log store with the typed write-ahead protocol
// of the work queue. Every queue mutation appends here before the in-memory
// index is touched; the index is rebuilt solely from these entries.
type wal struct {
	log eventlog.Log
}

func newWAL(log eventlog.Log) *wal {
	return &wal{log: log}
}

func (w *wal) append(ctx context.Context, entry domain.WALEntry) (uint64, error) {
	entry.LoggedAt = time.Now().UTC()
	seq, err := w.log.Append(ctx, eventlog.KindWAL, entry)
	if err != nil {
		return 0, fmt.Errorf("wal append %s: %w", entry.Op, err)
	}
	return seq, nil
}

func (w *wal) appendEnqueue(ctx context.Context, job domain.QueueJob) (uint64, error) {
	return w.append(ctx, domain.WALEntry{
		JobID:    job.ID,
		Op:       domain.WALEnqueue,
		Priority: job.Priority,
		Job:      &job,
		Checksum: crc32.ChecksumIEEE(job.Payload),
	})
}

func (w *wal) appendDequeue(ctx context.Context, jobID string, attempt int) (uint64, error) {
	return w.append(ctx, domain.WALEntry{JobID: jobID, Op: domain.WALDequeue, Attempt: attempt})
}

func (w *wal) appendAck(ctx context.Context, jobID string) (uint64, error) {
	return w.append(ctx, domain.WALEntry{JobID: jobID, Op: domain.WALAck})
}

func (w *wal) appendRetry(ctx context.Context, jobID string, attempt int) (uint64, error) {
	return w.append(ctx, domain.WALEntry{JobID: jobID, Op: domain.WALRetry, Attempt: attempt})
}

func (w *wal) appendDeadLetter(ctx context.Context, jobID string) (uint64, error) {
	return w.append(ctx, domain.WALEntry{JobID: jobID, Op: domain.WALDeadLetter})
}

func (w *wal) appendCancelRequest(ctx context.Context, jobID string) (uint64, error) {
	return w.append(ctx, domain.WALEntry{JobID: jobID, Op: domain.WALCancelRequest})
}

func (w *wal) appendReprioritize(ctx context.Context, jobID string, priority domain.Priority) (uint64, error) {
	return w.append(ctx, domain.WALEntry{JobID: jobID, Op: domain.WALReprioritize, Priority: priority})
}

// replay streams every WAL entry in sequence order. Records of other kinds
// sharing the store are skipped.
func (w *wal) replay(ctx context.Context, fn func(domain.WALEntry) error) error {
	return w.log.Replay(ctx, 0, func(rec eventlog.Record) error {
		if rec.Kind != eventlog.KindWAL {
			return nil
		}
		var entry domain.WALEntry
		if err := json.Unmarshal(rec.Payload, &entry); err != nil {
			return fmt.Errorf("decode wal entry %d: %w", rec.Sequence, err)
		}
		entry.Sequence = rec.Sequence
		if entry.Op == domain.WALEnqueue && entry.Job != nil {
			if crc32.ChecksumIEEE(entry.Job.Payload) != entry.Checksum {
				return fmt.Errorf("wal entry %d: payload checksum mismatch", rec.Sequence)
			}
		}
		return fn(entry)
	})
}
