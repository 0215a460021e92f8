// Package metrics provides Prometheus metrics for the rule engine:
// evaluation outcomes and latency, session pool occupancy, compilation
// cache effectiveness, and reload results.
//
// All metrics are registered against an injected *prometheus.Registry so
// embedding applications control exposition; Collector.Handler serves the
// standard exposition format.
package metrics
