package engine

import (
	"context"
	"time"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const (
	// OperationDurationMetric tracks engine operation duration.
	OperationDurationMetric = "ledger_engine_operation_duration_seconds"
	// OperationCallsMetric counts engine operations by outcome.
	OperationCallsMetric = "ledger_engine_operation_calls_total"
)

const (
	operationBorrow       = "borrow"
	operationReturn       = "return"
	operationMarkOverdue  = "mark_overdue"
	operationMarkReminded = "mark_reminded"
)

const (
	logMsgOperationCompleted  = "ledger operation completed"
	logMsgOperationRejected   = "ledger operation rejected"
	logMsgOperationFailed     = "ledger operation failed"
	logMsgNotificationDropped = "notification dropped"
	logMsgAuditDropped        = "audit record dropped"
)

const (
	logAttrOperation  = "operation"
	logAttrStatus     = "status"
	logAttrDurationMS = "duration_ms"
	logAttrError      = "error"
	logAttrKind       = "kind"
	logAttrLoanID     = "loan_id"
)

const (
	spanNamePrefix     = "ledger."
	spanAttrItemID     = "item_id"
	spanAttrBorrowerID = "borrower_id"
	spanAttrLoanID     = "loan_id"
	spanAttrError      = "error"
)

// observe starts a span for operation and returns a func that records its outcome.
func (e *Engine) observe(ctx context.Context, operation string, attrs map[string]string) (context.Context, func(err error)) {
	start := time.Now()

	var span ledger.SpanContext
	if e.tracing != nil {
		ctx, span = e.tracing.StartSpan(ctx, spanNamePrefix+operation, attrs)
	}

	return ctx, func(err error) {
		duration := time.Since(start)
		status := ledger.StatusOf(err)

		if e.metrics != nil {
			labels := map[string]string{logAttrOperation: operation, logAttrStatus: status}
			e.metrics.RecordDuration(OperationDurationMetric, duration, labels)
			e.metrics.IncrementCounter(OperationCallsMetric, labels)
		}

		if e.tracing != nil && span != nil {
			finishAttrs := map[string]string{}
			if err != nil {
				finishAttrs[spanAttrError] = err.Error()
			}
			e.tracing.FinishSpan(span, status, finishAttrs)
		}

		args := []any{logAttrOperation, operation, logAttrStatus, status, logAttrDurationMS, toMilliseconds(duration)}

		switch status {
		case ledger.StatusSuccess:
			e.logDebug(ctx, logMsgOperationCompleted, args...)
		case ledger.StatusRejected, ledger.StatusConflict, ledger.StatusCanceled:
			e.logInfo(ctx, logMsgOperationRejected, append(args, logAttrError, err.Error())...)
		default:
			e.logError(ctx, logMsgOperationFailed, append(args, logAttrError, err.Error())...)
		}
	}
}

func (e *Engine) logDebug(ctx context.Context, msg string, args ...any) {
	if e.contextualLogger != nil {
		e.contextualLogger.DebugContext(ctx, msg, args...)
	} else if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

func (e *Engine) logInfo(ctx context.Context, msg string, args ...any) {
	if e.contextualLogger != nil {
		e.contextualLogger.InfoContext(ctx, msg, args...)
	} else if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}

func (e *Engine) logWarn(ctx context.Context, msg string, args ...any) {
	if e.contextualLogger != nil {
		e.contextualLogger.WarnContext(ctx, msg, args...)
	} else if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}

func (e *Engine) logError(ctx context.Context, msg string, args ...any) {
	if e.contextualLogger != nil {
		e.contextualLogger.ErrorContext(ctx, msg, args...)
	} else if e.logger != nil {
		e.logger.Error(msg, args...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds.
func toMilliseconds(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}
