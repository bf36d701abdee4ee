package queue

import (
	"container/heap"
	"context"
	"time"

	"stitchcore/pkg/domain"
)

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		job, ok := q.next()
		if !ok {
			return
		}
		q.deliver(job)
	}
}

// next blocks until a pending job is visible, then executes the dequeue
// protocol: WAL DEQUEUE first, in-memory in_flight mark second.
func (q *Queue) next() (domain.QueueJob, bool) {
	for {
		q.mu.Lock()
		if q.pending.Len() > 0 {
			js := heap.Pop(&q.pending).(*jobState)
			attempt := js.job.Attempts + 1
			q.mu.Unlock()

			if _, err := q.wal.appendDequeue(q.ctx, js.job.ID, attempt); err != nil {
				q.cfg.OnFatal(err)
				return domain.QueueJob{}, false
			}

			q.mu.Lock()
			js.job.Status = domain.JobInFlight
			js.job.Attempts = attempt
			job := js.job
			q.mu.Unlock()
			return job, true
		}
		q.mu.Unlock()

		select {
		case <-q.ctx.Done():
			return domain.QueueJob{}, false
		case <-q.wake:
		}
	}
}

func (q *Queue) deliver(job domain.QueueJob) {
	q.observer.JobStarted(job)

	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.SendTimeout)
	err := q.sender.Send(ctx, job)
	cancel()

	if err == nil {
		if _, walErr := q.wal.appendAck(context.Background(), job.ID); walErr != nil {
			q.cfg.OnFatal(walErr)
			return
		}
		q.settle(job.ID, domain.JobDone)
		q.observer.JobCompleted(job)
		return
	}

	if job.Attempts >= q.cfg.MaxAttempts {
		if _, walErr := q.wal.appendDeadLetter(context.Background(), job.ID); walErr != nil {
			q.cfg.OnFatal(walErr)
			return
		}
		q.settle(job.ID, domain.JobDeadLetter)
		q.observer.JobDeadLettered(job, err)
		return
	}

	if _, walErr := q.wal.appendRetry(context.Background(), job.ID, job.Attempts); walErr != nil {
		q.cfg.OnFatal(walErr)
		return
	}
	delay := q.cfg.Backoff.Delay(job.Attempts)
	q.mu.Lock()
	js, ok := q.jobs[job.ID]
	if ok && !js.cancelRequested {
		js.job.Status = domain.JobPending
		q.scheduleRetry(js, delay)
	} else if ok {
		js.job.Status = domain.JobCancelled
	}
	q.mu.Unlock()
	if ok {
		q.observer.JobRequeued(job, delay, err)
	}
}

func (q *Queue) settle(jobID string, status domain.JobStatus) {
	q.mu.Lock()
	if js, ok := q.jobs[jobID]; ok {
		js.job.Status = status
	}
	q.mu.Unlock()
}

// WaitIdle blocks until no pending or in-flight work remains, or the context
// expires. Intended for tests and drain-on-shutdown.
func (q *Queue) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		busy := q.pending.Len() > 0
		if !busy {
			for _, js := range q.jobs {
				if js.job.Status == domain.JobInFlight || (js.job.Status == domain.JobPending && js.heapIndex < 0 && !js.cancelRequested) {
					busy = true
					break
				}
			}
		}
		q.mu.Unlock()
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
