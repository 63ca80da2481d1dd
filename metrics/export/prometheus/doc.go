// Package prometheus exposes goMFA engine metrics through client_golang.
//
// [Collector] reads [goMFA.Engine.MetricsSnapshot] on every scrape and
// reports counters named gomfa_*_total plus the
// gomfa_sign_in_latency_seconds histogram. [Handler] wraps a Collector in a
// private registry and serves it with promhttp.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry; callers register
//     the Collector themselves or mount the Handler.
//   - Mutate engine state.
package prometheus
