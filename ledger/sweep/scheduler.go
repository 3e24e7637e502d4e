package sweep

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const defaultInterval = time.Hour

var (
	// ErrInvalidInterval is returned when the scheduler interval is not positive.
	ErrInvalidInterval = errors.New("interval must be positive")

	// ErrNilClock is returned when a nil clock is provided to WithSchedulerClock.
	ErrNilClock = errors.New("clock must not be nil")
)

const (
	logMsgSchedulerStarted = "sweep scheduler started"
	logMsgSchedulerStopped = "sweep scheduler stopped"
	logMsgPassFailed       = "sweep pass failed"
)

const logAttrInterval = "interval"

// Scheduler runs the overdue sweep and the reminders on an interval, each at most once per day.
// A pass that fails is tried again on the next tick of the same day.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	clock    func() time.Time

	mu           sync.Mutex
	sweptOn      time.Time
	remindedOn   time.Time
	lastFailures error
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler) error

// WithInterval sets how often the scheduler checks whether a pass is due.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) error {
		if interval <= 0 {
			return ErrInvalidInterval
		}

		s.interval = interval

		return nil
	}
}

// WithSchedulerClock sets the source of "now" the scheduler derives today from.
func WithSchedulerClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) error {
		if clock == nil {
			return ErrNilClock
		}

		s.clock = clock

		return nil
	}
}

// NewScheduler creates a Scheduler for sweeper.
func NewScheduler(sweeper *Sweeper, options ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		sweeper:  sweeper,
		interval: defaultInterval,
		clock:    time.Now,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Run ticks immediately and then on every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.sweeper.logInfo(ctx, logMsgSchedulerStarted, logAttrInterval, s.interval.String())
	defer s.sweeper.logInfo(ctx, logMsgSchedulerStopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs whichever passes have not yet succeeded today.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := ledger.Day(s.clock())
	var failures []error

	if !s.sweptOn.Equal(today) {
		if _, err := s.sweeper.RunOverdueSweep(ctx, today); err != nil {
			s.sweeper.logError(ctx, logMsgPassFailed, logAttrPass, passOverdue, logAttrError, err.Error())
			failures = append(failures, err)
		} else {
			s.sweptOn = today
		}
	}

	if !s.remindedOn.Equal(today) {
		if _, err := s.sweeper.SendDueReminders(ctx, today); err != nil {
			s.sweeper.logError(ctx, logMsgPassFailed, logAttrPass, passReminders, logAttrError, err.Error())
			failures = append(failures, err)
		} else {
			s.remindedOn = today
		}
	}

	s.lastFailures = errors.Join(failures...)
}

// LastError returns the failures of the most recent tick, or nil.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastFailures
}
