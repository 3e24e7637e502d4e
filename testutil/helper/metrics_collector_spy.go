package helper

import (
	"maps"
	"sync"
	"time"
)

// MetricsCollectorSpy records every metrics call for assertions.
type MetricsCollectorSpy struct {
	mu        sync.Mutex
	durations []SpyRecord
	counters  []SpyRecord
	values    []SpyRecord
}

// SpyRecord is one captured metrics call.
type SpyRecord struct {
	Metric   string
	Duration time.Duration
	Value    float64
	Labels   map[string]string
}

// NewMetricsCollectorSpy creates an empty MetricsCollectorSpy.
func NewMetricsCollectorSpy() *MetricsCollectorSpy {
	return &MetricsCollectorSpy{}
}

func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, SpyRecord{Metric: metric, Duration: duration, Labels: maps.Clone(labels)})
}

func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = append(s.counters, SpyRecord{Metric: metric, Labels: maps.Clone(labels)})
}

func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, SpyRecord{Metric: metric, Value: value, Labels: maps.Clone(labels)})
}

// HasCounter reports whether metric was incremented with all the given labels.
func (s *MetricsCollectorSpy) HasCounter(metric string, labels map[string]string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return containsRecord(s.counters, metric, labels)
}

// HasDuration reports whether a duration for metric was recorded with all the given labels.
func (s *MetricsCollectorSpy) HasDuration(metric string, labels map[string]string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return containsRecord(s.durations, metric, labels)
}

// LastValue returns the last value recorded for metric.
func (s *MetricsCollectorSpy) LastValue(metric string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.values) - 1; i >= 0; i-- {
		if s.values[i].Metric == metric {
			return s.values[i].Value, true
		}
	}

	return 0, false
}

func containsRecord(records []SpyRecord, metric string, labels map[string]string) bool {
	for _, record := range records {
		if record.Metric != metric {
			continue
		}

		matches := true
		for k, v := range labels {
			if record.Labels[k] != v {
				matches = false
				break
			}
		}

		if matches {
			return true
		}
	}

	return false
}
