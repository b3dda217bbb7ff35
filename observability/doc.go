// Package observability provides an OpenTelemetry-based metrics
// extension for Conduct. The MetricsExtension implements lifecycle
// hooks to record system-wide counters for workflow executions, step
// outcomes, and transaction resolutions.
//
// For per-invocation tracing and latency histograms, see the
// middleware package: middleware.Tracing() and middleware.Metrics().
package observability
