package retry

import (
	"time"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// Option configures Do.
type Option func(*config) error

// WithMaxAttempts sets the maximum number of attempts, including the first one.
func WithMaxAttempts(attempts int) Option {
	return func(c *config) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		c.maxAttempts = attempts

		return nil
	}
}

// WithBaseDelay sets the delay before the first retry. It doubles for every further retry.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *config) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		c.baseDelay = delay

		return nil
	}
}

// WithJitterFactor sets the random extra delay as a share of the backoff delay, from 0.0 to 1.0.
func WithJitterFactor(factor float64) Option {
	return func(c *config) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		c.jitterFactor = factor

		return nil
	}
}

// WithMetrics records retries of operation to collector.
func WithMetrics(collector ledger.MetricsCollector, operation string) Option {
	return func(c *config) error {
		if collector == nil {
			return ErrNilMetricsCollector
		}

		if operation == "" {
			return ErrEmptyOperation
		}

		c.metrics = collector
		c.operation = operation

		return nil
	}
}
