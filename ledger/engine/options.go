package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/audit"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/notify"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/outbound"
)

var (
	// ErrNilClock is returned when a nil clock is provided to WithClock.
	ErrNilClock = errors.New("clock must not be nil")

	// ErrNilIDGenerator is returned when a nil generator is provided to WithIDGenerator.
	ErrNilIDGenerator = errors.New("id generator must not be nil")

	// ErrInvalidCommitTimeout is returned when the commit timeout is not positive.
	ErrInvalidCommitTimeout = errors.New("commit timeout must be positive")
)

// Option configures an Engine.
type Option func(*Engine) error

// WithClock sets the source of "now". Ledger days are derived from it in UTC.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) error {
		if clock == nil {
			return ErrNilClock
		}

		e.clock = clock

		return nil
	}
}

// WithIDGenerator sets the generator for new loan ids.
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(e *Engine) error {
		if newID == nil {
			return ErrNilIDGenerator
		}

		e.newID = newID

		return nil
	}
}

// WithCommitTimeout bounds how long a transaction may take once it is detached from the caller.
func WithCommitTimeout(timeout time.Duration) Option {
	return func(e *Engine) error {
		if timeout <= 0 {
			return ErrInvalidCommitTimeout
		}

		e.commitTimeout = timeout

		return nil
	}
}

// WithNotifications sets where loan notifications are emitted after commit.
func WithNotifications(emitter outbound.Emitter[notify.Event]) Option {
	return func(e *Engine) error {
		e.notifications = emitter
		return nil
	}
}

// WithAudit sets where audit records are emitted after commit.
func WithAudit(emitter outbound.Emitter[audit.Record]) Option {
	return func(e *Engine) error {
		e.audit = emitter
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger ledger.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger, preferred over WithLogger when both are set.
func WithContextualLogger(logger ledger.ContextualLogger) Option {
	return func(e *Engine) error {
		e.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for operation durations and outcomes.
func WithMetrics(collector ledger.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector; every operation becomes a span.
func WithTracing(collector ledger.TracingCollector) Option {
	return func(e *Engine) error {
		e.tracing = collector
		return nil
	}
}
