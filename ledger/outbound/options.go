package outbound

import (
	"time"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// Option configures a Queue.
type Option func(*settings) error

// WithCapacity sets how many items may wait for delivery before Emit starts dropping.
func WithCapacity(capacity int) Option {
	return func(s *settings) error {
		if capacity <= 0 {
			return ErrInvalidCapacity
		}

		s.capacity = capacity

		return nil
	}
}

// WithWorkers sets the number of delivering goroutines.
func WithWorkers(workers int) Option {
	return func(s *settings) error {
		if workers <= 0 {
			return ErrInvalidWorkers
		}

		s.workers = workers

		return nil
	}
}

// WithDeliveryTimeout bounds a single Sink.Deliver call.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(s *settings) error {
		if timeout > 0 {
			s.deliveryTimeout = timeout
		}

		return nil
	}
}

// WithLogger sets the logger for dropped items and delivery failures.
func WithLogger(logger ledger.Logger) Option {
	return func(s *settings) error {
		s.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger.
func WithContextualLogger(logger ledger.ContextualLogger) Option {
	return func(s *settings) error {
		s.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector ledger.MetricsCollector) Option {
	return func(s *settings) error {
		s.metrics = collector
		return nil
	}
}
