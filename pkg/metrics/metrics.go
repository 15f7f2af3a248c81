// Package metrics documents the Prometheus metrics exposed by canvas-mcp.
// All metrics are defined in their respective packages (client, bundle,
// ratelimit) via promauto to maintain modularity and avoid circular
// dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by canvas-mcp. All
// metrics are automatically registered via promauto in their packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - canvas_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - canvas_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - canvas_errors_total{kind} (Counter): Errors by kind (network, rate_limited, auth, http, decode, timeout)
//
// Retry Metrics (pkg/client):
//   - canvas_retries_total{kind} (Counter): Retry attempts by error kind
//   - canvas_retry_backoff_seconds{kind} (Histogram): Backoff duration by error kind
//   - canvas_retry_exhausted_total{kind} (Counter): Requests that exhausted max retries
//
// Bundle Metrics (pkg/bundle):
//   - canvas_bundle_runs_total (Counter): Bundle fan-out runs
//   - canvas_bundle_run_duration_seconds (Histogram): Fan-out duration
//   - canvas_bundle_source_failures_total{kind} (Counter): Per-source failures by error kind
//
// Throttle Metrics (pkg/ratelimit):
//   - canvas_throttle_remaining (Gauge): Last observed rate limit bucket level
//   - canvas_throttle_blocks_total (Counter): Requests blocked at critical bucket level
//   - canvas_throttle_slowdowns_total (Counter): Requests slowed at warning bucket level
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(canvas_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(canvas_request_duration_seconds_bucket[5m]))
//
//   # Bundle Partial Failure Rate
//   rate(canvas_bundle_source_failures_total[5m]) / rate(canvas_bundle_runs_total[5m])
//
//   # Throttle Pressure
//   canvas_throttle_remaining < 150
