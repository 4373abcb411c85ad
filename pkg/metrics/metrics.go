// Package metrics exposes the Prometheus registry used by the catalog client.
// Metrics are defined next to the code that records them (client, catalog,
// ratelimit); this package documents them and serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry. All metrics are registered
// via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves all registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Client Metrics (pkg/client):
//   - catalog_requests_total{status} (Counter): Product requests by HTTP status ("error" for transport failures)
//   - catalog_request_duration_seconds (Histogram): Product request duration
//   - catalog_errors_total{class} (Counter): Fetch failures by class (transport, status, decode, invalid)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - catalog_rate_limit_waits_total (Counter): Requests delayed by pacing
//   - catalog_rate_limit_wait_seconds (Histogram): Time spent waiting for a token
//
// Loader Metrics (pkg/catalog):
//   - catalog_fetches_in_flight (Gauge): Product fetches currently running
//   - catalog_merges_total{outcome} (Counter): Store merges by outcome (product, error)
//   - catalog_batches_total{kind} (Counter): Batches started (range, retry)
//   - catalog_batch_duration_seconds (Histogram): Launch to settlement
//   - catalog_products (Gauge): Size of the result collection
//   - catalog_fetch_errors (Gauge): Size of the error map
//
// Example Prometheus Queries:
//
//   # Fetch failure ratio
//   sum(rate(catalog_merges_total{outcome="error"}[5m])) /
//   sum(rate(catalog_merges_total[5m]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(catalog_request_duration_seconds_bucket[5m]))
//
//   # Not-found lookups
//   rate(catalog_requests_total{status="404"}[5m])
