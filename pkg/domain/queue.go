package domain

import "time"

// JobStatus tracks a cutter job through the work queue.
type JobStatus string

// Queue job statuses.
const (
	// JobPending means the job is visible to workers.
	JobPending JobStatus = "pending"
	// JobInFlight means a worker holds the job and is delivering it.
	JobInFlight JobStatus = "in_flight"
	// JobDone means delivery was acknowledged by the cutter.
	JobDone JobStatus = "done"
	// JobDeadLetter means the retry budget is exhausted; manual handling required.
	JobDeadLetter JobStatus = "dead_letter"
	// JobCancelled means a cancel request landed before delivery started.
	JobCancelled JobStatus = "cancelled"
)

// QueueJob is one unit of cutter work bound 1:1 to an order at enqueue time.
// The work queue owns jobs exclusively; the engine only observes terminal
// status events.
type QueueJob struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Payload    []byte    `json:"payload"`
	Priority   Priority  `json:"priority"`
	Attempts   int       `json:"attempts"`
	Status     JobStatus `json:"status"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Sequence is the WAL sequence of the ENQUEUE entry; it breaks FIFO ties
	// within a priority bucket.
	Sequence uint64 `json:"sequence"`
}

// WALOp identifies a write-ahead-log operation.
type WALOp string

// WAL operations. Every queue mutation is durably recorded before its
// in-memory effect is applied.
const (
	WALEnqueue       WALOp = "ENQUEUE"
	WALDequeue       WALOp = "DEQUEUE"
	WALAck           WALOp = "ACK"
	WALRetry         WALOp = "RETRY"
	WALDeadLetter    WALOp = "DEAD_LETTER"
	WALCancelRequest WALOp = "CANCEL_REQUEST"
	WALReprioritize  WALOp = "REPRIORITIZE"
)

// WALEntry is an append-only record preceding a queue mutation. On restart
// the queue is rebuilt solely by replaying entries in sequence order.
type WALEntry struct {
	Sequence uint64    `json:"sequence_no"`
	JobID    string    `json:"job_id"`
	Op       WALOp     `json:"operation"`
	Attempt  int       `json:"attempt,omitempty"`
	Priority Priority  `json:"priority,omitempty"`
	Job      *QueueJob `json:"job,omitempty"`
	// Checksum covers the job payload for ENQUEUE entries so truncated or
	// corrupted tail writes are detected during replay.
	Checksum uint32    `json:"payload_checksum,omitempty"`
	LoggedAt time.Time `json:"logged_at"`
}
