// Package metrics exposes Prometheus instrumentation for the decision
// engine and its supporting components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Verdicts counts decisions by processor and action.
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowgate_verdicts_total",
		Help: "Decision engine verdicts by processor and action.",
	}, []string{"processor", "action"})

	// BreakerState reports each breaker as a gauge (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flowgate_breaker_state",
		Help: "Circuit breaker state per processor (0 closed, 1 half-open, 2 open).",
	}, []string{"processor"})

	// BackfillQueueDepth is the number of open backfill requests.
	BackfillQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowgate_backfill_queue_depth",
		Help: "Open (queued or processing) backfill requests.",
	})

	// BackfillRuns counts recovery job executions by outcome.
	BackfillRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowgate_backfill_runs_total",
		Help: "Backfill job executions by processor and outcome.",
	}, []string{"processor", "outcome"})

	// DependencyCheckSeconds times one full dependency resolution.
	DependencyCheckSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowgate_dependency_check_seconds",
		Help:    "Duration of dependency resolution per processor.",
		Buckets: prometheus.DefBuckets,
	}, []string{"processor"})

	// EvaluationSeconds times a full engine evaluation.
	EvaluationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowgate_evaluation_seconds",
		Help:    "Duration of one decision engine evaluation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"processor"})

	// GapsDetected counts missing dates found per processor.
	GapsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowgate_gaps_detected_total",
		Help: "Missing expected dates detected per processor.",
	}, []string{"processor"})

	// CorrectionsProcessed counts cascade correction events handled.
	CorrectionsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_corrections_processed_total",
		Help: "Correction events consumed and applied.",
	})
)

// SetBreakerState maps a breaker state string onto the gauge encoding.
func SetBreakerState(processor, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	BreakerState.WithLabelValues(processor).Set(v)
}
