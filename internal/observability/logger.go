package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// SlogBridgeLogger implements ledger.ContextualLogger on top of log/slog.
type SlogBridgeLogger struct {
	logger *slog.Logger
}

// NewSlogBridgeLogger creates a logger that goes through the OpenTelemetry slog bridge,
// so every record carries the trace and span of its context. It uses the global LoggerProvider.
// attrs are added to every record.
func NewSlogBridgeLogger(name string, attrs ...any) *SlogBridgeLogger {
	logger := otelslog.NewLogger(name)
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}

	return &SlogBridgeLogger{logger: logger}
}

// NewSlogBridgeLoggerWithHandler creates a logger writing to handler as is, without trace correlation.
func NewSlogBridgeLoggerWithHandler(handler slog.Handler) *SlogBridgeLogger {
	return &SlogBridgeLogger{logger: slog.New(handler)}
}

func (l *SlogBridgeLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

func (l *SlogBridgeLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}

func (l *SlogBridgeLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

func (l *SlogBridgeLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

var _ ledger.ContextualLogger = (*SlogBridgeLogger)(nil)
