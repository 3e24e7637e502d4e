package postgres

import "github.com/AntonStoeckl/lending-ledger-go/ledger"

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets the logger for SQL debug output and failures.
func WithLogger(logger ledger.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger, preferred over WithLogger when both are set.
func WithContextualLogger(logger ledger.ContextualLogger) Option {
	return func(s *Store) error {
		s.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for query durations and conflicts.
func WithMetrics(collector ledger.MetricsCollector) Option {
	return func(s *Store) error {
		s.metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector; every transaction becomes a span.
func WithTracing(collector ledger.TracingCollector) Option {
	return func(s *Store) error {
		s.tracing = collector
		return nil
	}
}
