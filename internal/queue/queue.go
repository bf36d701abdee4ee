// Package queue implements the durable cutter work queue: a write-ahead
// logged priority FIFO drained by a bounded worker pool. The queue survives
// process crashes by rebuilding its in-memory index exclusively from WAL
// replay, delivering each job at least once.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"stitchcore/internal/eventlog"
	"stitchcore/pkg/domain"
)

// Sender delivers a job payload to the physical cutter and waits for its
// acknowledgement. Errors are classified as retryable delivery failures.
type Sender interface {
	Send(ctx context.Context, job domain.QueueJob) error
}

// Observer receives job lifecycle notifications. Callbacks run on worker
// goroutines; implementations must be safe for concurrent use.
type Observer interface {
	JobStarted(job domain.QueueJob)
	JobRequeued(job domain.QueueJob, retryIn time.Duration, cause error)
	JobCompleted(job domain.QueueJob)
	JobDeadLettered(job domain.QueueJob, cause error)
	// JobCancelled fires only when Cancel removes a still-pending job; a job
	// already in flight is flagged without a notification.
	JobCancelled(job domain.QueueJob)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) JobStarted(domain.QueueJob)                        {}
func (NopObserver) JobRequeued(domain.QueueJob, time.Duration, error) {}
func (NopObserver) JobCompleted(domain.QueueJob)                      {}
func (NopObserver) JobDeadLettered(domain.QueueJob, error)            {}
func (NopObserver) JobCancelled(domain.QueueJob)                      {}

// Config tunes queue behaviour.
type Config struct {
	// Workers bounds the delivery pool. Defaults to 2.
	Workers int
	// MaxAttempts bounds deliveries per job before dead-lettering. Defaults to 5.
	MaxAttempts int
	// Backoff is the retry delay policy. Defaults to DefaultBackoff.
	Backoff BackoffPolicy
	// SendTimeout bounds one delivery attempt. Defaults to 30s.
	SendTimeout time.Duration
	// OnFatal is invoked when a WAL write fails after the queue is running.
	// Durability can no longer be guaranteed at that point, so the default
	// handler panics to fail the process fast.
	OnFatal func(error)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff == (BackoffPolicy{}) {
		c.Backoff = DefaultBackoff
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.OnFatal == nil {
		c.OnFatal = func(err error) { panic(fmt.Sprintf("queue wal write failed: %v", err)) }
	}
	return c
}

// jobState is the queue's private view of one job.
type jobState struct {
	job             domain.QueueJob
	cancelRequested bool
	timer           *time.Timer
	heapIndex       int // -1 when not in the pending heap
}

// pendingHeap orders visible pending jobs by priority rank, then enqueue
// sequence (FIFO within a bucket).
type pendingHeap []*jobState

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	a, b := h[i].job, h[j].job
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	return a.Sequence < b.Sequence
}
func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *pendingHeap) Push(x any) {
	js := x.(*jobState)
	js.heapIndex = len(*h)
	*h = append(*h, js)
}
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	js := old[n-1]
	old[n-1] = nil
	js.heapIndex = -1
	*h = old[:n-1]
	return js
}

// Queue is the resilient work queue. Construct with New, which replays the
// WAL, then Start the worker pool.
type Queue struct {
	wal      *wal
	cfg      Config
	sender   Sender
	observer Observer

	mu      sync.Mutex
	jobs    map[string]*jobState
	byOrder map[string]string
	pending pendingHeap
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a queue over the given WAL store and recovers state by replay.
// Jobs whose last recorded operation is DEQUEUE with no ACK, RETRY, or
// DEAD_LETTER are returned to pending (at-least-once delivery).
func New(log eventlog.Log, sender Sender, observer Observer, cfg Config) (*Queue, error) {
	if observer == nil {
		observer = NopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		wal:      newWAL(log),
		cfg:      cfg.withDefaults(),
		sender:   sender,
		observer: observer,
		jobs:     make(map[string]*jobState),
		byOrder:  make(map[string]string),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	if err := q.recover(); err != nil {
		cancel()
		return nil, err
	}
	return q, nil
}

func (q *Queue) recover() error {
	err := q.wal.replay(context.Background(), func(entry domain.WALEntry) error {
		switch entry.Op {
		case domain.WALEnqueue:
			if entry.Job == nil {
				return fmt.Errorf("wal entry %d: enqueue without job", entry.Sequence)
			}
			job := *entry.Job
			job.Sequence = entry.Sequence
			job.Status = domain.JobPending
			q.jobs[job.ID] = &jobState{job: job, heapIndex: -1}
			q.byOrder[job.OrderID] = job.ID
		case domain.WALDequeue:
			if js, ok := q.jobs[entry.JobID]; ok {
				js.job.Status = domain.JobInFlight
				js.job.Attempts = entry.Attempt
			}
		case domain.WALAck:
			if js, ok := q.jobs[entry.JobID]; ok {
				js.job.Status = domain.JobDone
			}
		case domain.WALRetry:
			if js, ok := q.jobs[entry.JobID]; ok {
				js.job.Status = domain.JobPending
				js.job.Attempts = entry.Attempt
			}
		case domain.WALDeadLetter:
			if js, ok := q.jobs[entry.JobID]; ok {
				js.job.Status = domain.JobDeadLetter
			}
		case domain.WALCancelRequest:
			if js, ok := q.jobs[entry.JobID]; ok {
				js.cancelRequested = true
				if js.job.Status == domain.JobPending {
					js.job.Status = domain.JobCancelled
				}
			}
		case domain.WALReprioritize:
			if js, ok := q.jobs[entry.JobID]; ok {
				js.job.Priority = entry.Priority
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue recovery: %w", err)
	}
	for _, js := range q.jobs {
		// Un-acked in-flight jobs are redelivered; the cutter deduplicates by
		// the job token embedded in the payload frame.
		if js.job.Status == domain.JobInFlight {
			js.job.Status = domain.JobPending
		}
		if js.job.Status == domain.JobPending {
			heap.Push(&q.pending, js)
		}
	}
	return nil
}

// Start launches the worker pool.
func (q *Queue) Start() {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop halts workers and waits for in-flight deliveries to finish or ctx to
// expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.cancel()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue durably records a new job and makes it visible to workers. The WAL
// entry is flushed before the job enters the pending index.
func (q *Queue) Enqueue(ctx context.Context, orderID string, payload []byte, priority domain.Priority) (string, error) {
	if !priority.Valid() {
		priority = domain.PriorityNormal
	}
	job := domain.QueueJob{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		Payload:    payload,
		Priority:   priority,
		Status:     domain.JobPending,
		EnqueuedAt: time.Now().UTC(),
	}
	seq, err := q.wal.appendEnqueue(ctx, job)
	if err != nil {
		return "", err
	}
	job.Sequence = seq

	q.mu.Lock()
	js := &jobState{job: job, heapIndex: -1}
	q.jobs[job.ID] = js
	q.byOrder[orderID] = job.ID
	heap.Push(&q.pending, js)
	q.mu.Unlock()

	q.signal()
	return job.ID, nil
}

// Cancel requests cancellation of the order's job. Pending jobs are removed;
// a job already in flight with the cutter is only flagged, which is a
// recorded limitation rather than a guarantee.
func (q *Queue) Cancel(ctx context.Context, orderID string) error {
	q.mu.Lock()
	jobID, ok := q.byOrder[orderID]
	var js *jobState
	if ok {
		js = q.jobs[jobID]
	}
	q.mu.Unlock()
	if js == nil {
		return nil
	}
	if _, err := q.wal.appendCancelRequest(ctx, jobID); err != nil {
		return err
	}
	q.mu.Lock()
	js.cancelRequested = true
	var cancelled domain.QueueJob
	removed := false
	if js.job.Status == domain.JobPending {
		if js.heapIndex >= 0 {
			heap.Remove(&q.pending, js.heapIndex)
		}
		if js.timer != nil {
			js.timer.Stop()
		}
		js.job.Status = domain.JobCancelled
		cancelled = js.job
		removed = true
	}
	q.mu.Unlock()
	if removed {
		q.observer.JobCancelled(cancelled)
	}
	return nil
}

// Reprioritize changes a pending job's priority and re-sorts the index. Jobs
// already in flight or settled are left untouched.
func (q *Queue) Reprioritize(ctx context.Context, orderID string, priority domain.Priority) error {
	if !priority.Valid() {
		return fmt.Errorf("invalid priority %q", priority)
	}
	q.mu.Lock()
	jobID, ok := q.byOrder[orderID]
	var js *jobState
	if ok {
		js = q.jobs[jobID]
	}
	q.mu.Unlock()
	if js == nil {
		return fmt.Errorf("no job for order %s", orderID)
	}
	if _, err := q.wal.appendReprioritize(ctx, jobID, priority); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	js.job.Priority = priority
	if js.heapIndex >= 0 {
		heap.Fix(&q.pending, js.heapIndex)
	}
	return nil
}

// JobForOrder returns a snapshot of the order's most recent job.
func (q *Queue) JobForOrder(orderID string) (domain.QueueJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobID, ok := q.byOrder[orderID]
	if !ok {
		return domain.QueueJob{}, false
	}
	js, ok := q.jobs[jobID]
	if !ok {
		return domain.QueueJob{}, false
	}
	return js.job, true
}

// Depth returns the number of visible pending jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// scheduleRetry makes the job visible again after the backoff delay.
func (q *Queue) scheduleRetry(js *jobState, delay time.Duration) {
	js.timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		if js.job.Status == domain.JobPending && js.heapIndex < 0 && !js.cancelRequested {
			heap.Push(&q.pending, js)
		}
		q.mu.Unlock()
		q.signal()
	})
}
