// Package observability adapts Prometheus, OpenTelemetry and log/slog to the ledger's
// Logger, ContextualLogger, MetricsCollector and TracingCollector interfaces.
package observability
