package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const metricExportInterval = 15 * time.Second

// OTelSettings selects the OTLP exporters. An empty endpoint leaves that signal on the global no-op provider.
type OTelSettings struct {
	ServiceName     string
	ServiceVersion  string
	TracesEndpoint  string
	MetricsEndpoint string
	LogsEndpoint    string
	Insecure        bool
}

// Providers holds the OpenTelemetry providers created by SetupOTel.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider

	shutdownFuncs []func(context.Context) error
}

// SetupOTel creates the configured providers and installs them as the global ones,
// so that the otelslog bridge and otel.Tracer pick them up.
func SetupOTel(ctx context.Context, settings OTelSettings) (*Providers, error) {
	p := &Providers{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(settings.ServiceName),
			semconv.ServiceVersionKey.String(settings.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if settings.TracesEndpoint != "" {
		options := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(settings.TracesEndpoint)}
		if settings.Insecure {
			options = append(options, otlptracegrpc.WithInsecure())
		}

		exporter, exporterErr := otlptracegrpc.New(ctx, options...)
		if exporterErr != nil {
			return nil, errors.Join(fmt.Errorf("create trace exporter: %w", exporterErr), p.Shutdown(ctx))
		}

		p.TracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(p.TracerProvider)
		p.shutdownFuncs = append(p.shutdownFuncs, p.TracerProvider.Shutdown)
	}

	if settings.MetricsEndpoint != "" {
		options := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(settings.MetricsEndpoint)}
		if settings.Insecure {
			options = append(options, otlpmetricgrpc.WithInsecure())
		}

		exporter, exporterErr := otlpmetricgrpc.New(ctx, options...)
		if exporterErr != nil {
			return nil, errors.Join(fmt.Errorf("create metric exporter: %w", exporterErr), p.Shutdown(ctx))
		}

		p.MeterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricExportInterval))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(p.MeterProvider)
		p.shutdownFuncs = append(p.shutdownFuncs, p.MeterProvider.Shutdown)
	}

	if settings.LogsEndpoint != "" {
		options := []otlploghttp.Option{otlploghttp.WithEndpoint(settings.LogsEndpoint)}
		if settings.Insecure {
			options = append(options, otlploghttp.WithInsecure())
		}

		exporter, exporterErr := otlploghttp.New(ctx, options...)
		if exporterErr != nil {
			return nil, errors.Join(fmt.Errorf("create log exporter: %w", exporterErr), p.Shutdown(ctx))
		}

		p.LoggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(p.LoggerProvider)
		p.shutdownFuncs = append(p.shutdownFuncs, p.LoggerProvider.Shutdown)
	}

	return p, nil
}

// Tracer returns a tracer of the global provider.
func (p *Providers) Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter returns a meter of the global provider.
func (p *Providers) Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Shutdown flushes and stops the providers in reverse order of creation.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs error
	for i := len(p.shutdownFuncs) - 1; i >= 0; i-- {
		errs = errors.Join(errs, p.shutdownFuncs[i](ctx))
	}
	p.shutdownFuncs = nil

	return errs
}
