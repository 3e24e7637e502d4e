// Package eligibility decides whether a borrow may proceed.
package eligibility

import (
	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// Rule names, in evaluation order.
const (
	RuleRestricted         = "restricted"
	RuleNoCopiesAvailable  = "no_copies_available"
	RuleNotInGoodStanding  = "borrower_not_in_good_standing"
	RuleOutstandingOverdue = "outstanding_overdue_loans"
	RuleBorrowingLimit     = "borrowing_limit_reached"
)

const (
	reasonRestricted         = "restricted, not lendable"
	reasonNoCopiesAvailable  = "no copies available"
	reasonNotInGoodStanding  = "borrower not in good standing"
	reasonOutstandingOverdue = "borrower has outstanding overdue loans"
	reasonBorrowingLimit     = "borrowing limit reached"
)

// Outcome is the result of an eligibility check.
// The zero Rejection means eligible.
type Outcome struct {
	Eligible  bool
	Rejection ledger.Rejection
}

// Err returns the Rejection as an error, or nil if the outcome is eligible.
func (o Outcome) Err() error {
	if o.Eligible {
		return nil
	}

	return o.Rejection
}

// CanBorrow decides whether the borrower may borrow a copy of the item.
// It is a pure function; rules are checked in a fixed order and the first failing rule wins:
//
//	1. the item is restricted
//	2. no copy of the item is available
//	3. the borrower's standing is not active
//	4. the borrower has an overdue loan
//	5. the borrower already has MaxOpenLoans open loans
func CanBorrow(item ledger.Item, borrower ledger.Borrower, openLoanCount int, hasOverdueLoans bool) Outcome {
	if item.Restricted {
		return reject(RuleRestricted, reasonRestricted)
	}

	if item.AvailableCopies <= 0 {
		return reject(RuleNoCopiesAvailable, reasonNoCopiesAvailable)
	}

	if borrower.Standing != ledger.StandingActive {
		return reject(RuleNotInGoodStanding, reasonNotInGoodStanding)
	}

	if hasOverdueLoans {
		return reject(RuleOutstandingOverdue, reasonOutstandingOverdue)
	}

	if openLoanCount >= ledger.MaxOpenLoans {
		return reject(RuleBorrowingLimit, reasonBorrowingLimit)
	}

	return Outcome{Eligible: true}
}

func reject(rule, reason string) Outcome {
	return Outcome{Rejection: ledger.Rejection{Rule: rule, Reason: reason}}
}
