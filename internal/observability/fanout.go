package observability

import (
	"time"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// FanOutMetrics forwards every measurement to all of its collectors.
type FanOutMetrics []ledger.MetricsCollector

// NewFanOutMetrics combines collectors, skipping nil ones.
func NewFanOutMetrics(collectors ...ledger.MetricsCollector) FanOutMetrics {
	fanOut := make(FanOutMetrics, 0, len(collectors))
	for _, collector := range collectors {
		if collector != nil {
			fanOut = append(fanOut, collector)
		}
	}

	return fanOut
}

func (f FanOutMetrics) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	for _, collector := range f {
		collector.RecordDuration(metric, duration, labels)
	}
}

func (f FanOutMetrics) IncrementCounter(metric string, labels map[string]string) {
	for _, collector := range f {
		collector.IncrementCounter(metric, labels)
	}
}

func (f FanOutMetrics) RecordValue(metric string, value float64, labels map[string]string) {
	for _, collector := range f {
		collector.RecordValue(metric, value, labels)
	}
}

var _ ledger.MetricsCollector = FanOutMetrics(nil)
