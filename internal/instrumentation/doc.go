// Package instrumentation provides OpenTelemetry metrics for the server,
// exported through the Prometheus registry and served on a dedicated metrics
// port. When disabled, all recorders are no-ops.
package instrumentation
