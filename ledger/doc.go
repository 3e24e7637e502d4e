// Package ledger provides the core data model and contracts of the lending ledger.
//
// The ledger tracks how many copies of a catalogued item exist, how many are
// currently out on loan, who may borrow, and what happens when a loan becomes
// overdue. This package holds the types shared by all ledger components and the
// ports through which they reach persistence, without any behavior of its own.
//
// Key types:
//   - Item: a catalogued lendable unit with total and available copy counts
//   - Borrower: a person who may borrow, with a standing
//   - Loan: one borrow-to-return lifecycle record
//   - Store / Tx: the persistence ports used by the engine and the sweep
//
// Error categories are expressed as sentinel errors so that callers can branch
// with errors.Is:
//
//	loan, err := engine.Borrow(ctx, itemID, borrowerID)
//	switch {
//	case errors.Is(err, ledger.ErrNotFound):
//		// unknown item or borrower
//	case errors.Is(err, ledger.ErrIneligibleOperation):
//		// a borrowing rule failed, see ledger.Rejection
//	case ledger.IsRetryable(err):
//		// lost a race, try again
//	}
package ledger
