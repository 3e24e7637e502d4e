// Package outbound provides a bounded, fire-and-forget queue that decouples side effects
// (notifications, audit records) from the ledger transactions that produce them.
//
// Emit never blocks: when the queue is full or closed the item is dropped and logged.
// Delivery happens on separate worker goroutines, and a failing Sink is logged, never propagated.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const (
	defaultCapacity        = 256
	defaultWorkers         = 1
	defaultDeliveryTimeout = 5 * time.Second
)

const (
	metricEmittedTotal   = "outbound_emitted_total"
	metricDroppedTotal   = "outbound_dropped_total"
	metricDeliveredTotal = "outbound_delivered_total"
	metricFailedTotal    = "outbound_failed_total"
	metricDeliverSeconds = "outbound_deliver_duration_seconds"
)

const (
	logMsgDropped        = "outbound item dropped"
	logMsgDeliveryFailed = "outbound delivery failed"
	logMsgSinkPanicked   = "outbound sink panicked"
	logAttrQueue         = "queue"
	logAttrReason        = "reason"
	logAttrError         = "error"
)

// ErrInvalidCapacity is returned when a queue is configured with a non-positive capacity.
var ErrInvalidCapacity = errors.New("capacity must be positive")

// ErrInvalidWorkers is returned when a queue is configured with a non-positive worker count.
var ErrInvalidWorkers = errors.New("workers must be positive")

// Emitter accepts items for asynchronous delivery.
type Emitter[T any] interface {
	Emit(item T) bool
}

// Sink delivers one item to its destination.
type Sink[T any] interface {
	Deliver(ctx context.Context, item T) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc[T any] func(ctx context.Context, item T) error

// Deliver calls f.
func (f SinkFunc[T]) Deliver(ctx context.Context, item T) error {
	return f(ctx, item)
}

// FanOut delivers each item to all sinks and joins their errors.
func FanOut[T any](sinks ...Sink[T]) Sink[T] {
	return SinkFunc[T](func(ctx context.Context, item T) error {
		var errs []error
		for _, sink := range sinks {
			if err := sink.Deliver(ctx, item); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	})
}

// Queue is a bounded channel of items consumed by worker goroutines that hand them to a Sink.
type Queue[T any] struct {
	name     string
	sink     Sink[T]
	settings settings
	items    chan T

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewQueue creates a Queue delivering to sink. Call Start before emitting.
func NewQueue[T any](name string, sink Sink[T], options ...Option) (*Queue[T], error) {
	s := settings{
		capacity:        defaultCapacity,
		workers:         defaultWorkers,
		deliveryTimeout: defaultDeliveryTimeout,
	}

	for _, option := range options {
		if err := option(&s); err != nil {
			return nil, fmt.Errorf("outbound queue %s: %w", name, err)
		}
	}

	return &Queue[T]{
		name:     name,
		sink:     sink,
		settings: s,
		items:    make(chan T, s.capacity),
	}, nil
}

// Start launches the workers. They run until Close is called or ctx is canceled.
func (q *Queue[T]) Start(ctx context.Context) {
	for range q.settings.workers {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

// Emit enqueues item without blocking. It returns false if the item was dropped.
func (q *Queue[T]) Emit(item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop("closed")
		return false
	}

	select {
	case q.items <- item:
		q.count(metricEmittedTotal)
		return true
	default:
		q.drop("full")
		return false
	}
}

// Close stops accepting items, lets the workers drain what is queued, and waits for them.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	q.mu.Unlock()

	q.wg.Wait()
}

// Dropped returns how many items were dropped since the queue was created.
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}

func (q *Queue[T]) work(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-q.items:
			if !ok {
				return
			}
			q.deliver(ctx, item)
		}
	}
}

func (q *Queue[T]) deliver(ctx context.Context, item T) {
	deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.settings.deliveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.count(metricFailedTotal)
			q.logError(deliveryCtx, logMsgSinkPanicked, logAttrQueue, q.name, logAttrError, fmt.Sprint(r))
		}
	}()

	start := time.Now()
	err := q.sink.Deliver(deliveryCtx, item)

	if q.settings.metrics != nil {
		q.settings.metrics.RecordDuration(metricDeliverSeconds, time.Since(start), map[string]string{"queue": q.name})
	}

	if err != nil {
		q.count(metricFailedTotal)
		q.logWarn(deliveryCtx, logMsgDeliveryFailed, logAttrQueue, q.name, logAttrError, err.Error())

		return
	}

	q.count(metricDeliveredTotal)
}

func (q *Queue[T]) drop(reason string) {
	q.dropped.Add(1)
	q.count(metricDroppedTotal)
	q.logWarn(context.Background(), logMsgDropped, logAttrQueue, q.name, logAttrReason, reason)
}

func (q *Queue[T]) count(metric string) {
	if q.settings.metrics != nil {
		q.settings.metrics.IncrementCounter(metric, map[string]string{"queue": q.name})
	}
}

func (q *Queue[T]) logWarn(ctx context.Context, msg string, args ...any) {
	if q.settings.contextualLogger != nil {
		q.settings.contextualLogger.WarnContext(ctx, msg, args...)
		return
	}

	if q.settings.logger != nil {
		q.settings.logger.Warn(msg, args...)
	}
}

func (q *Queue[T]) logError(ctx context.Context, msg string, args ...any) {
	if q.settings.contextualLogger != nil {
		q.settings.contextualLogger.ErrorContext(ctx, msg, args...)
		return
	}

	if q.settings.logger != nil {
		q.settings.logger.Error(msg, args...)
	}
}

var _ Emitter[struct{}] = (*Queue[struct{}])(nil)

type settings struct {
	capacity         int
	workers          int
	deliveryTimeout  time.Duration
	logger           ledger.Logger
	contextualLogger ledger.ContextualLogger
	metrics          ledger.MetricsCollector
}
