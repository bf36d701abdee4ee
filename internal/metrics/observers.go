package metrics

import (
	"context"
	"time"

	"stitchcore/internal/queue"
	"stitchcore/pkg/domain"
)

// QueueObserver decorates another queue observer with Prometheus counters.
type QueueObserver struct {
	Next queue.Observer
}

var _ queue.Observer = QueueObserver{}

func (o QueueObserver) JobStarted(job domain.QueueJob) {
	QueueDepth.Dec()
	o.Next.JobStarted(job)
}

func (o QueueObserver) JobRequeued(job domain.QueueJob, retryIn time.Duration, cause error) {
	QueueRetriesTotal.Inc()
	QueueDepth.Inc()
	o.Next.JobRequeued(job, retryIn, cause)
}

func (o QueueObserver) JobCompleted(job domain.QueueJob) {
	o.Next.JobCompleted(job)
}

func (o QueueObserver) JobDeadLettered(job domain.QueueJob, cause error) {
	QueueDeadLettersTotal.Inc()
	o.Next.JobDeadLettered(job, cause)
}

func (o QueueObserver) JobCancelled(job domain.QueueJob) {
	QueueDepth.Dec()
	o.Next.JobCancelled(job)
}

// InstrumentedSender decorates a cutter sender with delivery timing.
type InstrumentedSender struct {
	Next queue.Sender
}

var _ queue.Sender = InstrumentedSender{}

func (s InstrumentedSender) Send(ctx context.Context, job domain.QueueJob) error {
	start := time.Now()
	err := s.Next.Send(ctx, job)
	CutterDeliveryDuration.Observe(time.Since(start).Seconds())
	return err
}

// TransitionHook feeds the per-trigger transition counters. Wire it into the
// engine with core.WithTransitionHook.
func TransitionHook(rec domain.TransitionRecord) {
	TransitionsTotal.WithLabelValues(string(rec.Trigger)).Inc()
	switch rec.Trigger {
	case domain.TriggerValidationPassed:
		ValidationVerdictsTotal.WithLabelValues("pass").Inc()
	case domain.TriggerValidationFailed:
		ValidationVerdictsTotal.WithLabelValues("fail").Inc()
	case domain.TriggerValidationExhausted:
		ValidationVerdictsTotal.WithLabelValues("exhausted").Inc()
	case domain.TriggerSubmitToCutter, domain.TriggerRetryCut:
		QueueDepth.Inc()
	}
}
