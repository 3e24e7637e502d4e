// Package engine orchestrates borrows and returns as single units of work.
//
// A Borrow reads the item and the borrower, evaluates eligibility, reserves a copy and opens a
// loan in one transaction. A Return closes the loan and releases the copy in one transaction.
// Mutations of the same item are serialized by a per-item lock and mutations of the same loan by
// a per-loan lock, so concurrent borrows of the last copy resolve to exactly one loan.
//
// Transactions run detached from the caller's cancellation: once a Borrow or Return has acquired
// its locks, it commits or rolls back completely. Notifications and audit records are emitted
// after commit through fire-and-forget emitters and never fail the operation.
//
// The engine does not retry ledger.ErrConcurrencyConflict itself; see package retry.
package engine
