package sweep

import (
	"errors"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/audit"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/notify"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/outbound"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/retry"
)

// ErrInvalidWorkers is returned when the number of workers is not positive.
var ErrInvalidWorkers = errors.New("workers must be positive")

// Option configures a Sweeper.
type Option func(*Sweeper) error

// WithWorkers sets how many loans are transitioned in parallel.
func WithWorkers(workers int) Option {
	return func(s *Sweeper) error {
		if workers <= 0 {
			return ErrInvalidWorkers
		}

		s.workers = workers

		return nil
	}
}

// WithRetryOptions configures the retry of loans that hit a concurrency conflict.
func WithRetryOptions(options ...retry.Option) Option {
	return func(s *Sweeper) error {
		s.retryOptions = options
		return nil
	}
}

// WithNotifications sets where overdue and due-soon notifications are emitted.
func WithNotifications(emitter outbound.Emitter[notify.Event]) Option {
	return func(s *Sweeper) error {
		s.notifications = emitter
		return nil
	}
}

// WithAudit sets where audit records of overdue transitions are emitted.
func WithAudit(emitter outbound.Emitter[audit.Record]) Option {
	return func(s *Sweeper) error {
		s.audit = emitter
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger ledger.Logger) Option {
	return func(s *Sweeper) error {
		s.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger, preferred over WithLogger when both are set.
func WithContextualLogger(logger ledger.ContextualLogger) Option {
	return func(s *Sweeper) error {
		s.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector ledger.MetricsCollector) Option {
	return func(s *Sweeper) error {
		s.metrics = collector
		return nil
	}
}
