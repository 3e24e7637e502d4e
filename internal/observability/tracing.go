package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// TracingCollector implements ledger.TracingCollector with an OpenTelemetry tracer.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector creates a TracingCollector. The tracer should come from the application's
// TracerProvider.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

// StartSpan starts a span named name carrying attrs.
func (t *TracingCollector) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, ledger.SpanContext) {
	spanCtx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attrs)...))

	return spanCtx, &OTelSpanContext{span: span}
}

// FinishSpan adds attrs, sets the status and ends the span.
func (t *TracingCollector) FinishSpan(spanCtx ledger.SpanContext, status string, attrs map[string]string) {
	otelSpanCtx, ok := spanCtx.(*OTelSpanContext)
	if !ok {
		return
	}

	otelSpanCtx.span.SetAttributes(toAttributes(attrs)...)
	otelSpanCtx.SetStatus(status)
	otelSpanCtx.span.End()
}

var _ ledger.TracingCollector = (*TracingCollector)(nil)

// OTelSpanContext implements ledger.SpanContext around an OpenTelemetry span.
type OTelSpanContext struct {
	span trace.Span
}

// SetStatus maps a ledger status to a span status. A rejection is a regular business outcome,
// so it is recorded as an attribute and leaves the span status unset.
func (s *OTelSpanContext) SetStatus(status string) {
	switch status {
	case ledger.StatusSuccess:
		s.span.SetStatus(codes.Ok, "")
	case ledger.StatusError:
		s.span.SetStatus(codes.Error, "operation failed")
	case ledger.StatusCanceled:
		s.span.SetStatus(codes.Error, "operation canceled")
	case ledger.StatusConflict:
		s.span.SetStatus(codes.Error, "concurrency conflict")
	default:
		s.span.SetAttributes(attribute.String("status", status))
	}
}

func (s *OTelSpanContext) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

var _ ledger.SpanContext = (*OTelSpanContext)(nil)

func toAttributes(attrs map[string]string) []attribute.KeyValue {
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		kv = append(kv, attribute.String(key, value))
	}

	return kv
}
