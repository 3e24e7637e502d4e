package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// OTelMetrics implements ledger.MetricsCollector with the OpenTelemetry metrics API, for
// deployments that export metrics over OTLP instead of scraping /metrics.
//   - RecordDuration -> Float64Histogram in seconds
//   - IncrementCounter -> Int64Counter
//   - RecordValue -> Float64Gauge
type OTelMetrics struct {
	meter metric.Meter

	mu         sync.Mutex
	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
}

// NewOTelMetrics creates a collector that creates its instruments from meter on first use.
func NewOTelMetrics(meter metric.Meter) *OTelMetrics {
	return &OTelMetrics{
		meter:      meter,
		histograms: make(map[string]metric.Float64Histogram),
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

func (m *OTelMetrics) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	m.mu.Lock()
	histogram, ok := m.histograms[name]
	if !ok {
		var err error
		if histogram, err = m.meter.Float64Histogram(name, metric.WithUnit("s")); err != nil {
			m.mu.Unlock()
			return
		}
		m.histograms[name] = histogram
	}
	m.mu.Unlock()

	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(toAttributes(labels)...))
}

func (m *OTelMetrics) IncrementCounter(name string, labels map[string]string) {
	m.mu.Lock()
	counter, ok := m.counters[name]
	if !ok {
		var err error
		if counter, err = m.meter.Int64Counter(name); err != nil {
			m.mu.Unlock()
			return
		}
		m.counters[name] = counter
	}
	m.mu.Unlock()

	counter.Add(context.Background(), 1, metric.WithAttributes(toAttributes(labels)...))
}

func (m *OTelMetrics) RecordValue(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	gauge, ok := m.gauges[name]
	if !ok {
		var err error
		if gauge, err = m.meter.Float64Gauge(name); err != nil {
			m.mu.Unlock()
			return
		}
		m.gauges[name] = gauge
	}
	m.mu.Unlock()

	gauge.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

var _ ledger.MetricsCollector = (*OTelMetrics)(nil)
