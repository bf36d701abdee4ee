package core

import (
	"time"

	"stitchcore/pkg/domain"
)

// Engine satisfies queue.Observer. Queue callbacks run on worker goroutines
// and wait for any in-flight transition on the order rather than failing,
// so queue-driven events are never dropped.

// JobStarted marks the order as cutting.
func (e *Engine) JobStarted(job domain.QueueJob) {
	e.applyEvent(job.OrderID, domain.TriggerJobStarted, map[string]any{
		"job_id":  job.ID,
		"attempt": job.Attempts,
	})
}

// JobRequeued returns the order to the queue after a retryable delivery
// failure.
func (e *Engine) JobRequeued(job domain.QueueJob, retryIn time.Duration, cause error) {
	meta := map[string]any{
		"job_id":      job.ID,
		"attempt":     job.Attempts,
		"retry_in_ms": retryIn.Milliseconds(),
	}
	if cause != nil {
		meta["cause"] = cause.Error()
	}
	e.applyEvent(job.OrderID, domain.TriggerJobRequeued, meta)
}

// JobCompleted marks the order's patterns as cut.
func (e *Engine) JobCompleted(job domain.QueueJob) {
	e.applyEvent(job.OrderID, domain.TriggerJobCompleted, map[string]any{
		"job_id":   job.ID,
		"attempts": job.Attempts,
	})
}

// JobCancelled acknowledges the withdrawal of a pending job. The order was
// already moved to CANCELLED by the transition that requested it, so there is
// nothing to apply.
func (e *Engine) JobCancelled(job domain.QueueJob) {
	e.logger.Info("cutter job cancelled", "order_id", job.OrderID, "job_id", job.ID)
}

// JobDeadLettered parks the order in the cutter-fault substate for operator
// intervention.
func (e *Engine) JobDeadLettered(job domain.QueueJob, cause error) {
	meta := map[string]any{
		"job_id":   job.ID,
		"attempts": job.Attempts,
	}
	if cause != nil {
		meta["cause"] = cause.Error()
	}
	e.applyEvent(job.OrderID, domain.TriggerJobDeadLetter, meta)
}
