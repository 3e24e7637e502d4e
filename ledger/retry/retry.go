// Package retry retries operations that lost an optimistic concurrency race.
//
// Only ledger.ErrConcurrencyConflict is retried. Rejections, missing records and persistence
// failures fail fast.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const (
	defaultMaxAttempts  = 6
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

const (
	// RetriesMetric counts retried attempts.
	RetriesMetric = "ledger_retry_attempts_total"
	// RetryDelayMetric tracks the backoff delay before each retry.
	RetryDelayMetric = "ledger_retry_delay_seconds"
	// MaxRetriesReachedMetric counts operations that exhausted all attempts.
	MaxRetriesReachedMetric = "ledger_retry_exhausted_total"
)

const (
	errorTypeNone             = "none"
	errorTypeConflict         = "concurrency_conflict"
	errorTypeCanceled         = "context_canceled"
	errorTypeDeadlineExceeded = "context_deadline_exceeded"
	errorTypeOther            = "other"
)

var (
	// ErrNilMetricsCollector is returned when a nil metrics collector is provided to WithMetrics.
	ErrNilMetricsCollector = errors.New("metrics collector must not be nil")

	// ErrEmptyOperation is returned when an empty operation name is provided to WithMetrics.
	ErrEmptyOperation = errors.New("operation must not be empty")

	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

// Func is an operation that can be retried. It must reload whatever it read on every attempt.
type Func func(ctx context.Context) error

// Metrics describes how an operation was retried.
type Metrics struct {
	// Attempts is the number of times the operation ran, 1 when it was not retried.
	Attempts int

	// TotalDelay is the time spent waiting between attempts.
	TotalDelay time.Duration

	// LastErrorType classifies the final error: none, concurrency_conflict, context_canceled,
	// context_deadline_exceeded or other.
	LastErrorType string

	// Exhausted is true when every attempt ended in a conflict.
	Exhausted bool
}

type config struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
	metrics      ledger.MetricsCollector
	operation    string
}

// Do runs fn and retries it with exponential backoff while it fails with a concurrency conflict.
//
// Default schedule: 0 ms, 10 ms, 20 ms, 40 ms, 80 ms, 160 ms, each with up to 30% jitter.
func Do(ctx context.Context, fn Func, options ...Option) (Metrics, error) {
	cfg := &config{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return Metrics{}, err
		}
	}

	var metrics Metrics
	var lastErr error

	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * cfg.jitterFactor //nolint:gosec // math/rand is sufficient for jitter
			backoff := delay + time.Duration(jitter)

			cfg.recordDelay(attempt, backoff)

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
				metrics.TotalDelay += backoff
			case <-ctx.Done():
				timer.Stop()
				metrics.LastErrorType = errorType(ctx.Err())
				return metrics, ctx.Err()
			}
		}

		metrics.Attempts++
		lastErr = fn(ctx)
		metrics.LastErrorType = errorType(lastErr)

		if lastErr == nil {
			return metrics, nil
		}

		if !ledger.IsRetryable(lastErr) {
			return metrics, lastErr
		}

		if attempt < cfg.maxAttempts-1 {
			cfg.recordRetry(attempt + 1)
		}
	}

	metrics.Exhausted = true
	cfg.recordExhausted()

	return metrics, lastErr
}

func (c *config) recordDelay(attempt int, delay time.Duration) {
	if c.metrics == nil {
		return
	}

	c.metrics.RecordDuration(RetryDelayMetric, delay, map[string]string{
		"operation": c.operation,
		"attempt":   strconv.Itoa(attempt),
	})
}

func (c *config) recordRetry(attempt int) {
	if c.metrics == nil {
		return
	}

	c.metrics.IncrementCounter(RetriesMetric, map[string]string{
		"operation": c.operation,
		"attempt":   strconv.Itoa(attempt),
	})
}

func (c *config) recordExhausted() {
	if c.metrics == nil {
		return
	}

	c.metrics.IncrementCounter(MaxRetriesReachedMetric, map[string]string{"operation": c.operation})
}

func errorType(err error) string {
	switch {
	case err == nil:
		return errorTypeNone
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		return errorTypeConflict
	case errors.Is(err, context.Canceled):
		return errorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return errorTypeDeadlineExceeded
	default:
		return errorTypeOther
	}
}
