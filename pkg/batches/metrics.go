package batches

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for batch sources.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batches_requests_total",
		Help: "Total batch requests accepted by source and trigger",
	}, []string{"source", "trigger"})

	requestsIgnoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batches_requests_ignored_total",
		Help: "Load-next requests ignored because the source is completed",
	}, []string{"source"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batches_fetch_duration_seconds",
		Help:    "Batch fetch duration in seconds by source",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"source"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batches_fetch_errors_total",
		Help: "Total failed batch fetches by source",
	}, []string{"source"})

	staleResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batches_stale_results_total",
		Help: "Fetch results discarded because a reload superseded them",
	}, []string{"source"})

	itemsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "batches_items",
		Help: "Number of items currently held by a source",
	}, []string{"source"})
)
