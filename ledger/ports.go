package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ItemStore is the catalog side of persistence.
// SaveItem persists the availability of an existing item and fails with ErrConcurrencyConflict
// when item.Version is no longer the stored version. The returned Item carries the new version.
type ItemStore interface {
	GetItem(ctx context.Context, id uuid.UUID) (Item, error)
	SaveItem(ctx context.Context, item Item) (Item, error)
}

// BorrowerDirectory is the borrower side of persistence.
// CountOpenLoans counts loans that are not closed.
type BorrowerDirectory interface {
	GetBorrower(ctx context.Context, id uuid.UUID) (Borrower, error)
	CountOpenLoans(ctx context.Context, borrowerID uuid.UUID) (int, error)
	HasOverdueLoans(ctx context.Context, borrowerID uuid.UUID) (bool, error)
}

// LoanStore persists loans.
// SaveLoan inserts a loan with Version 0 and otherwise updates it guarded by its version,
// failing with ErrConcurrencyConflict on a stale version.
//
// The list methods return loans ordered by due date, then id.
type LoanStore interface {
	GetLoan(ctx context.Context, id uuid.UUID) (Loan, error)
	SaveLoan(ctx context.Context, loan Loan) (Loan, error)
	ListOpenLoansDueBefore(ctx context.Context, day time.Time) ([]Loan, error)
	ListOpenLoansDueBetween(ctx context.Context, from, to time.Time) ([]Loan, error)
	ListOverdueLoans(ctx context.Context) ([]Loan, error)
	ListLoansByBorrower(ctx context.Context, borrowerID uuid.UUID, query LoanQuery) ([]Loan, error)
	CountLoansOpenedOn(ctx context.Context, day time.Time) (int, error)
	CountLoansClosedOn(ctx context.Context, day time.Time) (int, error)
}

// LoanQuery narrows ListLoansByBorrower.
// Zero Limit means no limit. With CurrentOnly set, closed loans are left out.
// Results are ordered newest opened first.
type LoanQuery struct {
	CurrentOnly bool
	Limit       int
	Offset      int
}

// Tx is one unit of work spanning all three stores.
type Tx interface {
	ItemStore
	BorrowerDirectory
	LoanStore
}

// Store opens units of work. InTx commits when fn returns nil and rolls back otherwise,
// so that either every write made through tx is visible afterward or none is.
// Reads outside a unit of work go through the embedded Tx.
type Store interface {
	Tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
