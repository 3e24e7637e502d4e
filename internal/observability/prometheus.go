package observability

import (
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// PrometheusMetrics implements ledger.MetricsCollector with Prometheus vectors.
//
// Vectors are created on first use, named after the metric and labelled with the label keys of
// that first call. Later calls with a different label set are dropped and counted in
// ledger_metrics_rejected_total.
//   - RecordDuration -> histogram in seconds
//   - IncrementCounter -> counter
//   - RecordValue -> gauge
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	rejected   *prometheus.CounterVec
}

// NewPrometheusMetrics creates a collector on a fresh registry that also carries the Go runtime
// and process collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_metrics_rejected_total",
		Help: "Metric observations dropped because their labels did not match the registered vector.",
	}, []string{"metric"})
	registry.MustRegister(rejected)

	return &PrometheusMetrics{
		registry:   registry,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		rejected:   rejected,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	m.mu.Lock()
	vec, ok := m.histograms[metric]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metric,
			Help:    "Duration of " + metric + ".",
			Buckets: prometheus.DefBuckets,
		}, labelNames(labels))
		m.register(metric, vec)
		m.histograms[metric] = vec
	}
	m.mu.Unlock()

	observer, err := vec.GetMetricWith(labels)
	if err != nil {
		m.reject(metric)
		return
	}

	observer.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) IncrementCounter(metric string, labels map[string]string) {
	m.mu.Lock()
	vec, ok := m.counters[metric]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metric,
			Help: "Count of " + metric + ".",
		}, labelNames(labels))
		m.register(metric, vec)
		m.counters[metric] = vec
	}
	m.mu.Unlock()

	counter, err := vec.GetMetricWith(labels)
	if err != nil {
		m.reject(metric)
		return
	}

	counter.Inc()
}

func (m *PrometheusMetrics) RecordValue(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	vec, ok := m.gauges[metric]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metric,
			Help: "Current value of " + metric + ".",
		}, labelNames(labels))
		m.register(metric, vec)
		m.gauges[metric] = vec
	}
	m.mu.Unlock()

	gauge, err := vec.GetMetricWith(labels)
	if err != nil {
		m.reject(metric)
		return
	}

	gauge.Set(value)
}

// register adds collector to the registry. A name clash between kinds leaves the collector
// unregistered; it still works, it is just not exported.
func (m *PrometheusMetrics) register(metric string, collector prometheus.Collector) {
	if err := m.registry.Register(collector); err != nil {
		m.reject(metric)
	}
}

func (m *PrometheusMetrics) reject(metric string) {
	m.rejected.WithLabelValues(metric).Inc()
}

func labelNames(labels map[string]string) []string {
	return slices.Sorted(maps.Keys(labels))
}

var _ ledger.MetricsCollector = (*PrometheusMetrics)(nil)
