package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/retry"
)

// ErrInvalidRequestTimeout is returned when the request timeout is not positive.
var ErrInvalidRequestTimeout = errors.New("request timeout must be positive")

// Option configures a Server.
type Option func(*Server) error

// WithSweeps mounts POST /sweeps.
func WithSweeps(sweeps Sweeps) Option {
	return func(s *Server) error {
		s.sweeps = sweeps
		return nil
	}
}

// WithMetricsHandler mounts handler at /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) error {
		s.metricsHandler = handler
		return nil
	}
}

// WithRetryOptions configures how borrows and returns are retried after a concurrency conflict.
func WithRetryOptions(options ...retry.Option) Option {
	return func(s *Server) error {
		s.retryOptions = options
		return nil
	}
}

// WithRequestTimeout bounds the handling of a single request.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		if timeout <= 0 {
			return ErrInvalidRequestTimeout
		}

		s.requestTimeout = timeout

		return nil
	}
}

// WithLogger sets the logger for failed requests.
func WithLogger(logger ledger.ContextualLogger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics records retries of borrows and returns.
func WithMetrics(collector ledger.MetricsCollector) Option {
	return func(s *Server) error {
		s.metrics = collector
		return nil
	}
}
