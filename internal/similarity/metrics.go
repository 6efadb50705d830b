package similarity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryDuration tracks retrieval latency, embedding included.
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mailsmith",
			Subsystem: "similarity",
			Name:      "query_duration_seconds",
			Help:      "Duration of personalization queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// QueryResults counts retrieval outcomes.
	// Labels: result (hits, empty, error)
	QueryResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailsmith",
			Subsystem: "similarity",
			Name:      "queries_total",
			Help:      "Total number of personalization queries by result",
		},
		[]string{"result"},
	)

	// IndexJobs counts background indexing jobs.
	// Labels: outcome (indexed, failed, dropped, skipped)
	IndexJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailsmith",
			Subsystem: "similarity",
			Name:      "index_jobs_total",
			Help:      "Total number of background indexing jobs by outcome",
		},
		[]string{"outcome"},
	)

	// IndexQueueDepth is the number of jobs waiting for a worker.
	IndexQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailsmith",
			Subsystem: "similarity",
			Name:      "index_queue_depth",
			Help:      "Jobs waiting in the indexing queue",
		},
	)
)
