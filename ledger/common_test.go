package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

func Test_ErrorCategories(t *testing.T) {
	assert.ErrorIs(t, ledger.ErrItemNotFound, ledger.ErrNotFound)
	assert.ErrorIs(t, ledger.ErrBorrowerNotFound, ledger.ErrNotFound)
	assert.ErrorIs(t, ledger.ErrLoanNotFound, ledger.ErrNotFound)
	assert.ErrorIs(t, ledger.ErrLoanAlreadyClosed, ledger.ErrInvalidTransition)
	assert.ErrorIs(t, ledger.ErrLoanAlreadyClosed, ledger.ErrIneligibleOperation)
	assert.NotErrorIs(t, ledger.ErrConcurrencyConflict, ledger.ErrIneligibleOperation)
}

func Test_IsRetryable(t *testing.T) {
	wrapped := errors.Join(ledger.ErrConcurrencyConflict, errors.New("0 rows affected"))

	assert.True(t, ledger.IsRetryable(wrapped))
	assert.False(t, ledger.IsRetryable(ledger.ErrPersistenceFailure))
	assert.False(t, ledger.IsRetryable(ledger.Rejection{Rule: "r", Reason: "no"}))
}

func Test_Rejection_AsAndIs(t *testing.T) {
	err := fmt.Errorf("borrow: %w", ledger.Rejection{Rule: "restricted", Reason: "restricted, not lendable"})

	rejection, ok := ledger.AsRejection(err)

	assert.True(t, ok)
	assert.Equal(t, "restricted", rejection.Rule)
	assert.ErrorIs(t, err, ledger.ErrIneligibleOperation)
	assert.EqualError(t, err, "borrow: restricted: restricted, not lendable")
}

func Test_StatusOf(t *testing.T) {
	assert.Equal(t, ledger.StatusSuccess, ledger.StatusOf(nil))
	assert.Equal(t, ledger.StatusRejected, ledger.StatusOf(ledger.ErrLoanNotFound))
	assert.Equal(t, ledger.StatusConflict, ledger.StatusOf(ledger.ErrConcurrencyConflict))
	assert.Equal(t, ledger.StatusCanceled, ledger.StatusOf(context.Canceled))
	assert.Equal(t, ledger.StatusError, ledger.StatusOf(ledger.ErrPersistenceFailure))
}

func Test_Days(t *testing.T) {
	local := time.FixedZone("UTC+2", 2*60*60)
	afternoon := time.Date(2025, time.June, 10, 15, 30, 0, 0, local)

	assert.Equal(t, time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC), ledger.Day(afternoon))
	assert.Equal(t, time.Date(2025, time.June, 24, 0, 0, 0, 0, time.UTC), ledger.AddDays(afternoon, 14))
	assert.Equal(t, 3, ledger.DaysBetween(afternoon, afternoon.AddDate(0, 0, 3)))
	assert.Equal(t, -1, ledger.DaysBetween(afternoon, afternoon.AddDate(0, 0, -1)))

	parsed, err := ledger.ParseDay("2025-06-10")
	assert.NoError(t, err)
	assert.Equal(t, ledger.Day(afternoon), parsed)
}

func Test_ActorFrom(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, ledger.SystemActor, ledger.ActorFrom(ctx))
	assert.Equal(t, "librarian-7", ledger.ActorFrom(ledger.WithActor(ctx, "librarian-7")))
}
