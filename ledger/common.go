package ledger

import (
	"errors"
	"fmt"
)

// ErrNotFound is the category of all "unknown id" errors.
var ErrNotFound = errors.New("not found")

// ErrItemNotFound is returned when an item id is unknown to the catalog.
var ErrItemNotFound = fmt.Errorf("item %w", ErrNotFound)

// ErrBorrowerNotFound is returned when a borrower id is unknown to the directory.
var ErrBorrowerNotFound = fmt.Errorf("borrower %w", ErrNotFound)

// ErrLoanNotFound is returned when a loan id is unknown to the loan store.
var ErrLoanNotFound = fmt.Errorf("loan %w", ErrNotFound)

// ErrIneligibleOperation is the category of all user-facing rejections.
var ErrIneligibleOperation = errors.New("ineligible operation")

// ErrInvalidTransition is returned when a loan state transition is not legal from the current state.
var ErrInvalidTransition = fmt.Errorf("%w: invalid loan state transition", ErrIneligibleOperation)

// ErrLoanAlreadyClosed is returned when a transition is attempted on a closed loan.
var ErrLoanAlreadyClosed = fmt.Errorf("%w: loan is already closed", ErrInvalidTransition)

// ErrCopyCountOutOfRange is returned when reserving or releasing a copy would break 0 <= available <= total.
var ErrCopyCountOutOfRange = fmt.Errorf("%w: copy count out of range", ErrIneligibleOperation)

// ErrConcurrencyConflict is returned when an optimistic update lost against a concurrent writer.
// It is the only retryable error.
var ErrConcurrencyConflict = errors.New("concurrency conflict, no rows were affected")

// ErrPersistenceFailure is returned when a store could not complete a read or write.
var ErrPersistenceFailure = errors.New("persistence failure")

// IsRetryable reports whether the operation that produced err may be retried as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// Rejection is the reason a borrow was refused by one of the eligibility rules.
type Rejection struct {
	Rule   string
	Reason string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Rule, r.Reason)
}

// Unwrap makes every Rejection match ErrIneligibleOperation.
func (r Rejection) Unwrap() error {
	return ErrIneligibleOperation
}

// AsRejection extracts a Rejection from err if there is one.
func AsRejection(err error) (Rejection, bool) {
	var rejection Rejection
	if errors.As(err, &rejection) {
		return rejection, true
	}

	return Rejection{}, false
}
