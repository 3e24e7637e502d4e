package ledger

import (
	"context"
	"errors"
	"time"
)

// Logger is satisfied by *slog.Logger and most structured loggers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger is a Logger variant that receives the context, so that implementations
// can correlate log records with the active trace.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector records ledger operation metrics. Labels are low-cardinality (operation, status).
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// SpanContext represents an active tracing span.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector starts and finishes spans around ledger operations.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

// Status values used as metric labels and span status.
const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusConflict = "conflict"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// StatusOf maps an operation result to one of the status values.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrIneligibleOperation), errors.Is(err, ErrNotFound):
		return StatusRejected
	case errors.Is(err, ErrConcurrencyConflict):
		return StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCanceled
	default:
		return StatusError
	}
}
