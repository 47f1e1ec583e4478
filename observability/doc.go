// Package observability provides an OpenTelemetry-based metrics extension
// for pulse. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for job enqueue, completion, failure, retry, stall,
// DLQ, and schedule template events.
//
// For per-attempt timing inside the execution pipeline, see the middleware
// package: middleware.Metrics().
package observability
