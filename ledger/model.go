package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Standing is a borrower's standing in the directory.
type Standing string

const (
	StandingActive    Standing = "active"
	StandingSuspended Standing = "suspended"
	StandingInactive  Standing = "inactive"
)

// LoanState is the lifecycle state of a Loan.
type LoanState string

const (
	LoanOpen    LoanState = "open"
	LoanOverdue LoanState = "overdue"
	LoanClosed  LoanState = "closed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s LoanState) IsTerminal() bool {
	return s == LoanClosed
}

// Item is a catalogued lendable unit with a finite copy count.
// Version is the optimistic concurrency token maintained by the store.
type Item struct {
	ID              uuid.UUID
	Title           string
	TotalCopies     int
	AvailableCopies int
	Restricted      bool
	Version         int64
}

// OnLoan returns the number of copies currently out on loan.
func (i Item) OnLoan() int {
	return i.TotalCopies - i.AvailableCopies
}

// Borrower is a person that may borrow items.
// The open-loan count is not part of the record; it is derived from the loan store.
type Borrower struct {
	ID       uuid.UUID
	Name     string
	Contact  string
	Standing Standing
}

// Loan binds one item copy to one borrower from borrow until return.
type Loan struct {
	ID         uuid.UUID
	ItemID     uuid.UUID
	BorrowerID uuid.UUID
	OpenedOn   time.Time
	DueOn      time.Time
	ClosedOn   *time.Time
	State      LoanState
	Fine       *decimal.Decimal
	Version    int64

	// RemindedOn is the last day a due-soon reminder went out for this loan.
	RemindedOn *time.Time
}

// IsClosed reports whether the loan has been returned.
func (l Loan) IsClosed() bool {
	return l.State == LoanClosed
}

// FineAmount returns the fine, or zero if none has been set.
func (l Loan) FineAmount() decimal.Decimal {
	if l.Fine == nil {
		return decimal.Zero
	}

	return *l.Fine
}

// LoanPeriodDays is the fixed number of days between opening and due date.
const LoanPeriodDays = 14

// MaxOpenLoans is the number of open loans at which a borrower may not borrow any more.
const MaxOpenLoans = 5

// FinePerDay is the fine accrued for each whole day a loan is overdue.
var FinePerDay = decimal.NewFromInt(1)
