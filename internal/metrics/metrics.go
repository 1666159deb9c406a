// Package metrics registers the Prometheus metrics used by the router.
// The promauto vars register themselves with the default registry on
// first import, before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch- and record-level counters and histograms.
var (
	// RecordsTotal counts processed records labelled by application, item
	// status code ("200", "400", "500") and cache outcome ("hit", "miss").
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_records_total",
			Help: "Total number of queue records processed.",
		},
		[]string{"app", "status", "cache"},
	)

	// BatchesTotal counts processed batches by outcome ("ok", "empty", "error").
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_batches_total",
			Help: "Total number of batches processed.",
		},
		[]string{"outcome"},
	)

	// BatchSize observes the number of records per batch after capping.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "router_batch_size",
			Help:    "Records per processed batch.",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		},
	)

	// CacheOps counts cache operations labelled by op ("get", "put") and
	// outcome ("hit", "miss", "ok", "error", "disabled").
	CacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_cache_operations_total",
			Help: "Total cache store operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	// InvokeDuration observes backend invocation latency in seconds,
	// labelled by call type ("agent", "model").
	InvokeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_backend_invoke_duration_seconds",
			Help:    "Bedrock invocation duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"call"},
	)

	// InvokeErrors counts redacted backend failures by call type.
	InvokeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_backend_invoke_errors_total",
			Help: "Total Bedrock invocation failures.",
		},
		[]string{"call"},
	)
)
