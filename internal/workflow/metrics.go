package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageDuration tracks stage attempt latency.
	// Labels: stage, outcome (ok, retryable, fatal)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailsmith",
			Subsystem: "workflow",
			Name:      "stage_duration_seconds",
			Help:      "Duration of stage attempts in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage", "outcome"},
	)

	// StageRetries counts stage retries.
	StageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailsmith",
			Subsystem: "workflow",
			Name:      "stage_retries_total",
			Help:      "Total number of stage retries",
		},
		[]string{"stage"},
	)

	// RouteDecisions counts router verdicts.
	// Labels: stage, decision (continue, retry, fallback)
	RouteDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailsmith",
			Subsystem: "workflow",
			Name:      "route_decisions_total",
			Help:      "Total number of routing decisions by stage and decision",
		},
		[]string{"stage", "decision"},
	)

	// Runs counts finished runs.
	// Labels: status (done, fallback, failed)
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailsmith",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by final status",
		},
		[]string{"status"},
	)
)
