package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/audit"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/notify"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/outbound"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/retry"
)

const defaultWorkers = 4

// reminderWindow is how many days ahead of the due date reminders are sent, starting tomorrow.
const reminderWindow = 2

const (
	// OverdueTransitionsMetric counts loans that entered overdue.
	OverdueTransitionsMetric = "ledger_sweep_overdue_transitions_total"
	// RemindersMetric counts due-date reminders sent.
	RemindersMetric = "ledger_sweep_reminders_total"
	// PassDurationMetric tracks how long a pass took.
	PassDurationMetric = "ledger_sweep_pass_duration_seconds"
)

const (
	passOverdue   = "overdue"
	passReminders = "reminders"
)

const (
	logMsgPassCompleted       = "sweep pass completed"
	logMsgLoanSkipped         = "sweep skipped loan"
	logMsgLoanFailed          = "sweep failed on loan"
	logMsgNotificationDropped = "notification dropped"
	logMsgAuditDropped        = "audit record dropped"
)

const (
	logAttrPass    = "pass"
	logAttrDay     = "day"
	logAttrCount   = "count"
	logAttrLoanID  = "loan_id"
	logAttrError   = "error"
	logAttrFailed  = "failed"
	logAttrStatus  = "status"
	logAttrReason  = "reason"
	logAttrKind    = "kind"
	logAttrScanned = "scanned"
)

// Transitioner moves a single loan to overdue and records its reminders. *engine.Engine implements it.
type Transitioner interface {
	MarkOverdue(ctx context.Context, loanID uuid.UUID, today time.Time) (engine.OverdueResult, error)
	MarkReminded(ctx context.Context, loanID uuid.UUID, today time.Time) (engine.ReminderResult, error)
}

// Reader is the read side of the store the sweep scans.
type Reader interface {
	GetItem(ctx context.Context, id uuid.UUID) (ledger.Item, error)
	GetBorrower(ctx context.Context, id uuid.UUID) (ledger.Borrower, error)
	ListOpenLoansDueBefore(ctx context.Context, day time.Time) ([]ledger.Loan, error)
	ListOpenLoansDueBetween(ctx context.Context, from, to time.Time) ([]ledger.Loan, error)
	ListOverdueLoans(ctx context.Context) ([]ledger.Loan, error)
}

// Sweeper runs overdue sweeps and due-date reminders.
type Sweeper struct {
	reader        Reader
	transitioner  Transitioner
	workers       int
	retryOptions  []retry.Option
	notifications outbound.Emitter[notify.Event]
	audit         outbound.Emitter[audit.Record]

	logger           ledger.Logger
	contextualLogger ledger.ContextualLogger
	metrics          ledger.MetricsCollector
}

// NewSweeper creates a Sweeper that scans reader and transitions loans through transitioner.
func NewSweeper(reader Reader, transitioner Transitioner, options ...Option) (*Sweeper, error) {
	s := &Sweeper{
		reader:        reader,
		transitioner:  transitioner,
		workers:       defaultWorkers,
		notifications: discard[notify.Event]{},
		audit:         discard[audit.Record]{},
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// RunOverdueSweep marks every open loan due before today as overdue and recomputes the fines of
// loans already overdue. It returns the number of loans that entered overdue.
//
// A loan that fails does not stop the pass; the failures are returned joined after every loan
// has been visited. A loan closed concurrently is skipped.
func (s *Sweeper) RunOverdueSweep(ctx context.Context, today time.Time) (int, error) {
	start := time.Now()
	day := ledger.Day(today)

	candidates, err := s.overdueCandidates(ctx, day)
	if err != nil {
		return 0, err
	}

	var transitioned atomic.Int64
	var failuresMu sync.Mutex
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, loanID := range candidates {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			result, err := s.markOverdue(gctx, loanID, day)

			switch {
			case err == nil:
			case errors.Is(err, ledger.ErrInvalidTransition):
				s.logDebug(gctx, logMsgLoanSkipped, logAttrLoanID, loanID.String(), logAttrReason, err.Error())
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				s.logError(gctx, logMsgLoanFailed, logAttrPass, passOverdue, logAttrLoanID, loanID.String(), logAttrError, err.Error())
				failuresMu.Lock()
				failures = append(failures, err)
				failuresMu.Unlock()
				return nil
			}

			if !result.Entered {
				return nil
			}

			transitioned.Add(1)
			s.announceOverdue(gctx, result, day)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		failures = append(failures, err)
	}

	if err := ctx.Err(); err != nil {
		failures = append(failures, err)
	}

	count := int(transitioned.Load())
	s.finishPass(ctx, passOverdue, day, len(candidates), count, len(failures), time.Since(start))

	return count, errors.Join(failures...)
}

// SendDueReminders emits a due-soon notification for every open loan due tomorrow or the day
// after that has not been reminded on today yet. It returns the number of reminders emitted.
//
// Each loan is marked as reminded before its notification goes out, so rerunning the pass on the
// same day, or retrying it after a partial failure, reminds only the loans that were missed.
func (s *Sweeper) SendDueReminders(ctx context.Context, today time.Time) (int, error) {
	start := time.Now()
	day := ledger.Day(today)

	loans, err := s.reader.ListOpenLoansDueBetween(ctx, ledger.AddDays(day, 1), ledger.AddDays(day, reminderWindow))
	if err != nil {
		return 0, err
	}

	var failures []error
	reminded := 0

	for _, l := range loans {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		if l.RemindedOn != nil && l.RemindedOn.Equal(day) {
			continue
		}

		item, err := s.reader.GetItem(ctx, l.ItemID)
		if err != nil {
			failures = append(failures, err)
			continue
		}

		borrower, err := s.reader.GetBorrower(ctx, l.BorrowerID)
		if err != nil {
			failures = append(failures, err)
			continue
		}

		result, err := s.markReminded(ctx, l.ID, day)

		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrInvalidTransition):
			s.logDebug(ctx, logMsgLoanSkipped, logAttrLoanID, l.ID.String(), logAttrReason, err.Error())
			continue
		default:
			s.logError(ctx, logMsgLoanFailed, logAttrPass, passReminders, logAttrLoanID, l.ID.String(), logAttrError, err.Error())
			failures = append(failures, err)
			continue
		}

		if !result.Sent {
			continue
		}

		s.emitNotification(ctx, notify.DueSoon(result.Loan, item, borrower))
		reminded++
	}

	if s.metrics != nil && reminded > 0 {
		s.metrics.RecordValue(RemindersMetric, float64(reminded), map[string]string{logAttrPass: passReminders})
	}

	s.finishPass(ctx, passReminders, day, len(loans), reminded, len(failures), time.Since(start))

	return reminded, errors.Join(failures...)
}

// overdueCandidates returns the ids of open loans due before day followed by loans already overdue.
func (s *Sweeper) overdueCandidates(ctx context.Context, day time.Time) ([]uuid.UUID, error) {
	due, err := s.reader.ListOpenLoansDueBefore(ctx, day)
	if err != nil {
		return nil, err
	}

	overdue, err := s.reader.ListOverdueLoans(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{}, len(due)+len(overdue))
	ids := make([]uuid.UUID, 0, len(due)+len(overdue))

	for _, l := range append(due, overdue...) {
		if _, ok := seen[l.ID]; ok {
			continue
		}
		seen[l.ID] = struct{}{}
		ids = append(ids, l.ID)
	}

	return ids, nil
}

func (s *Sweeper) markOverdue(ctx context.Context, loanID uuid.UUID, day time.Time) (engine.OverdueResult, error) {
	var result engine.OverdueResult

	_, err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.transitioner.MarkOverdue(ctx, loanID, day)
		return err
	}, s.retryOptions...)

	return result, err
}

func (s *Sweeper) markReminded(ctx context.Context, loanID uuid.UUID, day time.Time) (engine.ReminderResult, error) {
	var result engine.ReminderResult

	_, err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.transitioner.MarkReminded(ctx, loanID, day)
		return err
	}, s.retryOptions...)

	return result, err
}

func (s *Sweeper) announceOverdue(ctx context.Context, result engine.OverdueResult, day time.Time) {
	s.emitNotification(ctx, notify.Overdue(result.Loan, result.Item, result.Borrower, day))

	record := audit.NewRecord(audit.OperationOverdue, ledger.ActorFrom(ctx), result.Loan, result.Item, time.Now())
	if !s.audit.Emit(record) {
		s.logWarn(ctx, logMsgAuditDropped, logAttrLoanID, result.Loan.ID.String())
	}

	if s.metrics != nil {
		s.metrics.IncrementCounter(OverdueTransitionsMetric, map[string]string{logAttrPass: passOverdue})
	}
}

func (s *Sweeper) emitNotification(ctx context.Context, event notify.Event) {
	if !s.notifications.Emit(event) {
		s.logWarn(ctx, logMsgNotificationDropped, logAttrKind, string(event.Kind), logAttrLoanID, event.LoanID.String())
	}
}

func (s *Sweeper) finishPass(ctx context.Context, pass string, day time.Time, scanned, count, failed int, duration time.Duration) {
	status := ledger.StatusSuccess
	if failed > 0 {
		status = ledger.StatusError
	}

	if s.metrics != nil {
		s.metrics.RecordDuration(PassDurationMetric, duration, map[string]string{logAttrPass: pass, logAttrStatus: status})
	}

	s.logInfo(ctx, logMsgPassCompleted,
		logAttrPass, pass,
		logAttrDay, day.Format(time.DateOnly),
		logAttrScanned, scanned,
		logAttrCount, count,
		logAttrFailed, failed,
	)
}

func (s *Sweeper) logDebug(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.DebugContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Sweeper) logInfo(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.InfoContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Sweeper) logWarn(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.WarnContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Sweeper) logError(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.ErrorContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}

type discard[T any] struct{}

func (discard[T]) Emit(T) bool { return true }
