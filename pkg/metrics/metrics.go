// Package metrics exposes the Prometheus registry used by the batch runner.
// All metrics are defined in their respective packages (client, batch)
// to maintain modularity and avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package registers into via promauto.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Fetch Metrics (pkg/client):
//   - batch_fetch_requests_total{status} (Counter): Fetch attempts by HTTP status (network_error without a response)
//   - batch_fetch_request_duration_seconds (Histogram): Full fetch duration including retries
//
// Retry Metrics (pkg/client):
//   - batch_fetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - batch_fetch_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - batch_fetch_retry_exhausted_total{error_class} (Counter): Fetches that exhausted their retries
//
// Batch Metrics (pkg/batch):
//   - batch_runs_total{result} (Counter): Runs by result (completed, cancelled, invalid)
//   - batch_rows_total{outcome} (Counter): Completed rows by outcome (success, http_error, network_error)
//   - batch_inflight_requests (Gauge): Fetches currently in flight
//   - batch_run_duration_seconds (Histogram): Wall time of a batch run
//
// Example Prometheus Queries:
//
//   # Network failure rate per row
//   sum(rate(batch_rows_total{outcome="network_error"}[5m])) / sum(rate(batch_rows_total[5m]))
//
//   # Retry pressure
//   rate(batch_fetch_retries_total[5m])
//
//   # P95 fetch latency
//   histogram_quantile(0.95, rate(batch_fetch_request_duration_seconds_bucket[5m]))
