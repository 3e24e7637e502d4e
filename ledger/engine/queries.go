package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// Activity counts the loans opened and closed on one day.
type Activity struct {
	Day    time.Time
	Opened int
	Closed int
}

// GetLoan returns loan loanID as stored.
func (e *Engine) GetLoan(ctx context.Context, loanID uuid.UUID) (ledger.Loan, error) {
	return e.store.GetLoan(ctx, loanID)
}

// CurrentLoans returns the open and overdue loans of borrowerID, newest first.
func (e *Engine) CurrentLoans(ctx context.Context, borrowerID uuid.UUID) ([]ledger.Loan, error) {
	if _, err := e.store.GetBorrower(ctx, borrowerID); err != nil {
		return nil, err
	}

	return e.store.ListLoansByBorrower(ctx, borrowerID, ledger.LoanQuery{CurrentOnly: true})
}

// LoanHistory returns one page of all loans of borrowerID, newest first. A zero limit returns all.
func (e *Engine) LoanHistory(ctx context.Context, borrowerID uuid.UUID, limit, offset int) ([]ledger.Loan, error) {
	if _, err := e.store.GetBorrower(ctx, borrowerID); err != nil {
		return nil, err
	}

	return e.store.ListLoansByBorrower(ctx, borrowerID, ledger.LoanQuery{Limit: limit, Offset: offset})
}

// OverdueLoans returns every loan the sweep has marked overdue, ordered by due date.
func (e *Engine) OverdueLoans(ctx context.Context) ([]ledger.Loan, error) {
	return e.store.ListOverdueLoans(ctx)
}

// DailyActivity counts the loans opened and closed on day.
func (e *Engine) DailyActivity(ctx context.Context, day time.Time) (Activity, error) {
	day = ledger.Day(day)

	opened, err := e.store.CountLoansOpenedOn(ctx, day)
	if err != nil {
		return Activity{}, err
	}

	closed, err := e.store.CountLoansClosedOn(ctx, day)
	if err != nil {
		return Activity{}, err
	}

	return Activity{Day: day, Opened: opened, Closed: closed}, nil
}
