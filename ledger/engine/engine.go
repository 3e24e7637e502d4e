package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/audit"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/eligibility"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/loan"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/notify"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/outbound"
)

const defaultCommitTimeout = 10 * time.Second

// Engine performs borrows, returns and overdue transitions against a ledger.Store.
type Engine struct {
	store         ledger.Store
	clock         func() time.Time
	newID         func() uuid.UUID
	commitTimeout time.Duration
	borrowerLocks *keyedLocks
	itemLocks     *keyedLocks
	loanLocks     *keyedLocks

	notifications outbound.Emitter[notify.Event]
	audit         outbound.Emitter[audit.Record]

	logger           ledger.Logger
	contextualLogger ledger.ContextualLogger
	metrics          ledger.MetricsCollector
	tracing          ledger.TracingCollector
}

// OverdueResult describes what MarkOverdue did to one loan.
type OverdueResult struct {
	Loan     ledger.Loan
	Item     ledger.Item
	Borrower ledger.Borrower

	// Entered is true when the loan moved from open to overdue.
	Entered bool

	// Changed is true when anything was persisted, i.e. the state or the fine changed.
	Changed bool
}

// ReminderResult describes what MarkReminded did to one loan.
type ReminderResult struct {
	Loan ledger.Loan

	// Sent is true when the reminder marker was set by this call.
	Sent bool
}

// NewEngine creates an Engine on top of store.
func NewEngine(store ledger.Store, options ...Option) (*Engine, error) {
	e := &Engine{
		store:         store,
		clock:         time.Now,
		newID:         uuid.New,
		commitTimeout: defaultCommitTimeout,
		borrowerLocks: newKeyedLocks(),
		itemLocks:     newKeyedLocks(),
		loanLocks:     newKeyedLocks(),
		notifications: discard[notify.Event]{},
		audit:         discard[audit.Record]{},
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Today returns the current ledger day according to the engine's clock.
func (e *Engine) Today() time.Time {
	return ledger.Day(e.clock())
}

// Borrow opens a loan of item itemID to borrower borrowerID.
//
// It fails with a ledger.Rejection when one of the eligibility rules rejects the borrow,
// with ledger.ErrNotFound when either id is unknown, and with ledger.ErrConcurrencyConflict
// when a concurrent writer outside this engine changed the item first.
func (e *Engine) Borrow(ctx context.Context, itemID, borrowerID uuid.UUID) (opened ledger.Loan, err error) {
	ctx, finish := e.observe(ctx, operationBorrow, map[string]string{
		spanAttrItemID:     itemID.String(),
		spanAttrBorrowerID: borrowerID.String(),
	})
	defer func() { finish(err) }()

	// Locks are always taken borrower first, then item.
	unlockBorrower, err := e.borrowerLocks.Lock(ctx, borrowerID)
	if err != nil {
		return ledger.Loan{}, err
	}
	defer unlockBorrower()

	unlockItem, err := e.itemLocks.Lock(ctx, itemID)
	if err != nil {
		return ledger.Loan{}, err
	}
	defer unlockItem()

	today := e.Today()

	var item ledger.Item
	var borrower ledger.Borrower

	err = e.inTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if item, err = tx.GetItem(ctx, itemID); err != nil {
			return err
		}

		if borrower, err = tx.GetBorrower(ctx, borrowerID); err != nil {
			return err
		}

		openLoans, err := tx.CountOpenLoans(ctx, borrowerID)
		if err != nil {
			return err
		}

		hasOverdue, err := tx.HasOverdueLoans(ctx, borrowerID)
		if err != nil {
			return err
		}

		if err := eligibility.CanBorrow(item, borrower, openLoans, hasOverdue).Err(); err != nil {
			return err
		}

		reserved, err := loan.ReserveCopy(item)
		if err != nil {
			return err
		}

		if item, err = tx.SaveItem(ctx, reserved); err != nil {
			return err
		}

		opened, err = tx.SaveLoan(ctx, loan.Create(e.newID(), item, borrower, today))

		return err
	})
	if err != nil {
		return ledger.Loan{}, err
	}

	e.emitNotification(ctx, notify.Opened(opened, item, borrower))
	e.emitAudit(ctx, audit.NewRecord(audit.OperationBorrow, ledger.ActorFrom(ctx), opened, item, e.clock()))

	return opened, nil
}

// Return closes loan loanID and makes its copy available again.
// Returning a closed loan fails with ledger.ErrLoanAlreadyClosed.
func (e *Engine) Return(ctx context.Context, loanID uuid.UUID) (closed ledger.Loan, err error) {
	ctx, finish := e.observe(ctx, operationReturn, map[string]string{spanAttrLoanID: loanID.String()})
	defer func() { finish(err) }()

	unlockLoan, err := e.loanLocks.Lock(ctx, loanID)
	if err != nil {
		return ledger.Loan{}, err
	}
	defer unlockLoan()

	var current ledger.Loan
	err = e.inTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		current, err = tx.GetLoan(ctx, loanID)

		return err
	})
	if err != nil {
		return ledger.Loan{}, err
	}

	if current.IsClosed() {
		return ledger.Loan{}, errors.Join(ledger.ErrLoanAlreadyClosed, fmt.Errorf("loan %s was returned on %s", loanID, formatClosedOn(current)))
	}

	unlockItem, err := e.itemLocks.Lock(ctx, current.ItemID)
	if err != nil {
		return ledger.Loan{}, err
	}
	defer unlockItem()

	today := e.Today()

	var item ledger.Item
	var borrower ledger.Borrower

	err = e.inTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		l, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}

		if closed, err = loan.Close(l, today); err != nil {
			return err
		}

		if borrower, err = tx.GetBorrower(ctx, l.BorrowerID); err != nil {
			return err
		}

		if item, err = tx.GetItem(ctx, l.ItemID); err != nil {
			return err
		}

		released, err := loan.ReleaseCopy(item)
		if err != nil {
			return err
		}

		if item, err = tx.SaveItem(ctx, released); err != nil {
			return err
		}

		closed, err = tx.SaveLoan(ctx, closed)

		return err
	})
	if err != nil {
		return ledger.Loan{}, err
	}

	e.emitNotification(ctx, notify.Returned(closed, item, borrower))
	if closed.FineAmount().IsPositive() {
		e.emitNotification(ctx, notify.Fine(closed, item, borrower))
	}
	e.emitAudit(ctx, audit.NewRecord(audit.OperationReturn, ledger.ActorFrom(ctx), closed, item, e.clock()))

	return closed, nil
}

// MarkOverdue moves loan loanID to overdue on today, or recomputes its fine if it already is.
// It persists only when the state or the fine changed and emits nothing; the caller decides what
// to announce based on the result. A closed loan fails with ledger.ErrLoanAlreadyClosed and an
// open loan that is not yet past due with ledger.ErrInvalidTransition.
func (e *Engine) MarkOverdue(ctx context.Context, loanID uuid.UUID, today time.Time) (result OverdueResult, err error) {
	ctx, finish := e.observe(ctx, operationMarkOverdue, map[string]string{spanAttrLoanID: loanID.String()})
	defer func() { finish(err) }()

	unlock, err := e.loanLocks.Lock(ctx, loanID)
	if err != nil {
		return OverdueResult{}, err
	}
	defer unlock()

	err = e.inTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		l, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}

		marked, entered, err := loan.MarkOverdue(l, today)
		if err != nil {
			return err
		}

		result = OverdueResult{
			Loan:    marked,
			Entered: entered,
			Changed: entered || !marked.FineAmount().Equal(l.FineAmount()),
		}

		if !result.Changed {
			result.Loan = l
			return nil
		}

		if entered {
			if result.Borrower, err = tx.GetBorrower(ctx, l.BorrowerID); err != nil {
				return err
			}

			if result.Item, err = tx.GetItem(ctx, l.ItemID); err != nil {
				return err
			}
		}

		result.Loan, err = tx.SaveLoan(ctx, marked)

		return err
	})
	if err != nil {
		return OverdueResult{}, err
	}

	return result, nil
}

// MarkReminded records that the due-soon reminder for loan loanID went out on today.
// Sent is false when the loan was already reminded on today, so each loan gets at most one
// reminder per day no matter how often the reminder pass runs. A closed loan fails with
// ledger.ErrLoanAlreadyClosed.
func (e *Engine) MarkReminded(ctx context.Context, loanID uuid.UUID, today time.Time) (result ReminderResult, err error) {
	ctx, finish := e.observe(ctx, operationMarkReminded, map[string]string{spanAttrLoanID: loanID.String()})
	defer func() { finish(err) }()

	unlock, err := e.loanLocks.Lock(ctx, loanID)
	if err != nil {
		return ReminderResult{}, err
	}
	defer unlock()

	err = e.inTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		l, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}

		reminded, sent, err := loan.MarkReminded(l, today)
		if err != nil {
			return err
		}

		result = ReminderResult{Loan: l, Sent: sent}
		if !sent {
			return nil
		}

		result.Loan, err = tx.SaveLoan(ctx, reminded)

		return err
	})
	if err != nil {
		return ReminderResult{}, err
	}

	return result, nil
}

// inTx runs fn in a store transaction that is not canceled with ctx, only bounded by the commit timeout.
func (e *Engine) inTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.commitTimeout)
	defer cancel()

	return e.store.InTx(txCtx, func(tx ledger.Tx) error {
		return fn(txCtx, tx)
	})
}

func (e *Engine) emitNotification(ctx context.Context, event notify.Event) {
	if !e.notifications.Emit(event) {
		e.logWarn(ctx, logMsgNotificationDropped, logAttrKind, string(event.Kind), logAttrLoanID, event.LoanID.String())
	}
}

func (e *Engine) emitAudit(ctx context.Context, record audit.Record) {
	if !e.audit.Emit(record) {
		e.logWarn(ctx, logMsgAuditDropped, logAttrOperation, string(record.Operation), logAttrLoanID, record.LoanID.String())
	}
}

func formatClosedOn(l ledger.Loan) string {
	if l.ClosedOn == nil {
		return "an unknown day"
	}

	return l.ClosedOn.Format(time.DateOnly)
}

type discard[T any] struct{}

func (discard[T]) Emit(T) bool { return true }
