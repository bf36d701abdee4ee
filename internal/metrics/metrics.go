// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stitchcore/internal/core"
)

// Prometheus metrics for monitoring orchestrator health and throughput.
var (
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stitchcore_transitions_total",
			Help: "Total number of applied state transitions",
		},
		[]string{"trigger"},
	)

	TransitionErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stitchcore_transition_errors_total",
			Help: "Total number of rejected or failed transitions",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stitchcore_queue_depth",
			Help: "Number of cutter jobs pending in the work queue",
		},
	)

	QueueRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stitchcore_queue_retries_total",
			Help: "Total number of cutter job delivery retries",
		},
	)

	QueueDeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stitchcore_queue_dead_letters_total",
			Help: "Total number of cutter jobs moved to the dead letter state",
		},
	)

	CutterDeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stitchcore_cutter_delivery_duration_seconds",
			Help:    "Duration of cutter job deliveries",
			Buckets: prometheus.DefBuckets,
		},
	)

	ValidationVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stitchcore_validation_verdicts_total",
			Help: "Total number of sanity gate verdicts by outcome",
		},
		[]string{"outcome"},
	)

	SLAAlertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stitchcore_sla_alerts_total",
			Help: "Total number of advisory SLA alerts emitted",
		},
	)

	SLATimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stitchcore_sla_timeouts_total",
			Help: "Total number of SLA timeout transitions applied",
		},
	)

	EngineOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stitchcore_engine_operation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
)

// Register registers all Prometheus metrics.
func Register() {
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(TransitionErrorsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueRetriesTotal)
	prometheus.MustRegister(QueueDeadLettersTotal)
	prometheus.MustRegister(CutterDeliveryDuration)
	prometheus.MustRegister(ValidationVerdictsTotal)
	prometheus.MustRegister(SLAAlertsTotal)
	prometheus.MustRegister(SLATimeoutsTotal)
	prometheus.MustRegister(EngineOperationDuration)
}

// Recorder adapts the Prometheus collectors to the engine's MetricsRecorder.
type Recorder struct{}

var _ core.MetricsRecorder = Recorder{}

// Observe records one engine operation outcome.
func (Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	EngineOperationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	switch operation {
	case "transition", "apply_event":
		if !success {
			TransitionErrorsTotal.Inc()
		}
	case "sla_alert":
		SLAAlertsTotal.Inc()
	case "sla_timeout":
		SLATimeoutsTotal.Inc()
	}
}
