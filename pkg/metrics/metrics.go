// Package metrics exposes the Prometheus registry used by go-batches.
// Metrics are defined next to the code that records them (batches, fetch,
// cache) and registered on the default registry through promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all package metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics of Gatherer in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Source Metrics (pkg/batches):
//   - batches_requests_total{source, trigger} (Counter): Accepted requests (initial, reload, load_next)
//   - batches_requests_ignored_total{source} (Counter): Load-next requests ignored after completion
//   - batches_fetch_duration_seconds{source} (Histogram): Fetch duration
//   - batches_fetch_errors_total{source} (Counter): Failed fetches
//   - batches_stale_results_total{source} (Counter): Results discarded after a reload
//   - batches_items{source} (Gauge): Items currently held
//
// Upstream Metrics (pkg/fetch):
//   - batches_http_requests_total{endpoint, status} (Counter): Upstream requests by status
//   - batches_http_request_duration_seconds{endpoint} (Histogram): Upstream request duration
//
// Cache Metrics (pkg/cache, pkg/fetch):
//   - batches_cache_hits_total{layer="memory"|"redis"} (Counter): Cache hits by layer
//   - batches_cache_misses_total (Counter): Cache misses
//   - batches_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Fetch error ratio per source
//   rate(batches_fetch_errors_total[5m]) / rate(batches_requests_total[5m])
//
//   # P95 fetch latency
//   histogram_quantile(0.95, rate(batches_fetch_duration_seconds_bucket[5m]))
//
//   # Reloads racing in-flight fetches
//   rate(batches_stale_results_total[5m])
