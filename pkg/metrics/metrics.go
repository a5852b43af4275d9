// Package metrics exposes the Prometheus registry used by catalog-sync.
// Metrics are defined via promauto in the packages that own them (client,
// ratelimit, catalog, store, syncer) to avoid import cycles; this package
// documents them and serves the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all promauto metrics land in.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Marketplace API (pkg/client):
//   - catalog_api_requests_total{endpoint, status} (Counter): HTTP attempts; status is the code or network_error
//   - catalog_api_request_duration_seconds{endpoint} (Histogram): logical call duration including retries
//   - catalog_api_failures_total{class} (Counter): terminal failures by class
//   - catalog_api_retries_total{reason} (Counter): retries, reason auth or rate_limit
//   - catalog_api_rate_limit_wait_seconds (Histogram): per-429 wait
//   - catalog_api_retry_exhausted_total{reason} (Counter): calls that hit a retry budget
//   - catalog_token_refreshes_total{result} (Counter): token refresh operations (one per single-flight)
//
// Shared rate limiting (pkg/ratelimit):
//   - catalog_rate_limit_throttles_total (Counter): 429s written to the shared cooldown
//   - catalog_rate_limit_cooldown_seconds (Gauge): most recent cooldown window
//
// Catalog (pkg/catalog):
//   - catalog_business_errors_total{endpoint, code} (Counter): envelopes carrying a business error
//
// Storage (pkg/store):
//   - catalog_store_batches_total{kind, result} (Counter): upsert batches, kind items or models
//   - catalog_store_rows_upserted_total{kind} (Counter): records written
//   - catalog_store_batch_duration_seconds{kind} (Histogram): one batch transaction
//   - catalog_store_transient_retries_total{op} (Counter): statements retried after a transient error
//
// Sync (pkg/syncer):
//   - catalog_sync_runs_total{result} (Counter): passes, succeeded or failed
//   - catalog_sync_run_duration_seconds (Histogram): full pass duration
//   - catalog_sync_skipped_objects_total{kind} (Counter): objects without a usable id
//
// Example Prometheus Queries:
//
//   # Retry pressure by reason
//   sum by (reason) (rate(catalog_api_retries_total[5m]))
//
//   # Share of failed sync passes
//   rate(catalog_sync_runs_total{result="failed"}[1h]) / rate(catalog_sync_runs_total[1h])
//
//   # P95 batch latency
//   histogram_quantile(0.95, rate(catalog_store_batch_duration_seconds_bucket[5m]))
