// Package loan implements the lifecycle of a single loan: open, overdue, closed.
//
// Every transition is a pure function that returns a new Loan and leaves its input untouched,
// so a failed transition never mutates anything. Copy availability is not changed here;
// ReserveCopy and ReleaseCopy express the side effect each transition requires of its caller.
package loan

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// Create returns a new open loan of item to borrower, due LoanPeriodDays after openedOn.
// The caller must already have reserved one copy of the item (see ReserveCopy).
func Create(id uuid.UUID, item ledger.Item, borrower ledger.Borrower, openedOn time.Time) ledger.Loan {
	opened := ledger.Day(openedOn)

	return ledger.Loan{
		ID:         id,
		ItemID:     item.ID,
		BorrowerID: borrower.ID,
		OpenedOn:   opened,
		DueOn:      ledger.AddDays(opened, ledger.LoanPeriodDays),
		State:      ledger.LoanOpen,
	}
}

// MarkOverdue moves an open loan past its due date into overdue and sets its fine.
// On an already overdue loan it recomputes the fine for today, never lowering it.
//
// The returned bool reports whether the loan entered the overdue state with this call.
func MarkOverdue(l ledger.Loan, today time.Time) (ledger.Loan, bool, error) {
	day := ledger.Day(today)

	switch l.State {
	case ledger.LoanClosed:
		return l, false, errors.Join(ledger.ErrLoanAlreadyClosed, transitionError(l, ledger.LoanOverdue))

	case ledger.LoanOpen:
		if !day.After(l.DueOn) {
			return l, false, errors.Join(
				ledger.ErrInvalidTransition,
				fmt.Errorf("loan %s is not past its due date %s on %s", l.ID, formatDay(l.DueOn), formatDay(day)),
			)
		}

		marked := l
		marked.State = ledger.LoanOverdue
		marked.Fine = accrue(l.Fine, FineFor(l.DueOn, day))

		return marked, true, nil

	case ledger.LoanOverdue:
		recomputed := l
		recomputed.Fine = accrue(l.Fine, FineFor(l.DueOn, day))

		return recomputed, false, nil

	default:
		return l, false, errors.Join(ledger.ErrInvalidTransition, fmt.Errorf("loan %s has unknown state %q", l.ID, l.State))
	}
}

// Close returns the loan on today. If the loan is past due, the fine is finalized up to today;
// otherwise it stays unset. The caller must release one copy of the item (see ReleaseCopy).
func Close(l ledger.Loan, today time.Time) (ledger.Loan, error) {
	day := ledger.Day(today)

	switch l.State {
	case ledger.LoanOpen, ledger.LoanOverdue:
		closed := l
		closed.State = ledger.LoanClosed
		closed.ClosedOn = &day

		if day.After(l.DueOn) {
			closed.Fine = accrue(l.Fine, FineFor(l.DueOn, day))
		}

		return closed, nil

	case ledger.LoanClosed:
		return l, errors.Join(ledger.ErrLoanAlreadyClosed, transitionError(l, ledger.LoanClosed))

	default:
		return l, errors.Join(ledger.ErrInvalidTransition, fmt.Errorf("loan %s has unknown state %q", l.ID, l.State))
	}
}

// MarkReminded records a due-soon reminder on today. It reports false, and returns the loan
// unchanged, when a reminder already went out on today.
func MarkReminded(l ledger.Loan, today time.Time) (ledger.Loan, bool, error) {
	day := ledger.Day(today)

	if l.IsClosed() {
		return l, false, errors.Join(ledger.ErrLoanAlreadyClosed, fmt.Errorf("loan %s is closed, no reminder is due", l.ID))
	}

	if l.RemindedOn != nil && l.RemindedOn.Equal(day) {
		return l, false, nil
	}

	reminded := l
	reminded.RemindedOn = &day

	return reminded, true, nil
}

// FineFor returns the fine for a loan due on dueOn, evaluated on day.
// It is zero on or before the due date.
func FineFor(dueOn, day time.Time) decimal.Decimal {
	daysOverdue := ledger.DaysBetween(dueOn, day)
	if daysOverdue <= 0 {
		return decimal.Zero
	}

	return ledger.FinePerDay.Mul(decimal.NewFromInt(int64(daysOverdue)))
}

// DisplayState returns the state to present for a loan on today.
// An open loan past its due date is shown as overdue before the sweep has marked it.
// The result is for presentation only and is never persisted.
func DisplayState(l ledger.Loan, today time.Time) ledger.LoanState {
	if l.State == ledger.LoanOpen && ledger.Day(today).After(l.DueOn) {
		return ledger.LoanOverdue
	}

	return l.State
}

// accrue keeps a fine monotonically non-decreasing.
func accrue(current *decimal.Decimal, computed decimal.Decimal) *decimal.Decimal {
	if current != nil && current.GreaterThanOrEqual(computed) {
		kept := *current
		return &kept
	}

	return &computed
}

func transitionError(l ledger.Loan, to ledger.LoanState) error {
	return fmt.Errorf("loan %s cannot move from %s to %s", l.ID, l.State, to)
}

func formatDay(day time.Time) string {
	return day.Format(time.DateOnly)
}
