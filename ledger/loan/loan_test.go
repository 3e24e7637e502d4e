package loan_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/loan"
)

var day0 = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func Test_Create_OpensLoanDueAfterLoanPeriod(t *testing.T) {
	// arrange
	item := ledger.Item{ID: uuid.New(), TotalCopies: 1, AvailableCopies: 0}
	borrower := ledger.Borrower{ID: uuid.New(), Standing: ledger.StandingActive}
	loanID := uuid.New()

	// act
	l := loan.Create(loanID, item, borrower, day0.Add(15*time.Hour))

	// assert
	assert.Equal(t, loanID, l.ID)
	assert.Equal(t, item.ID, l.ItemID)
	assert.Equal(t, borrower.ID, l.BorrowerID)
	assert.Equal(t, ledger.LoanOpen, l.State)
	assert.Equal(t, day0, l.OpenedOn, "opened-on should be truncated to the day")
	assert.Equal(t, day0.AddDate(0, 0, 14), l.DueOn)
	assert.Nil(t, l.ClosedOn)
	assert.Nil(t, l.Fine)
}

func Test_MarkOverdue_TransitionsOpenLoanPastDue(t *testing.T) {
	// arrange
	l := givenOpenLoan(t, day0)

	// act
	marked, entered, err := loan.MarkOverdue(l, day0.AddDate(0, 0, 16))

	// assert
	require.NoError(t, err)
	assert.True(t, entered)
	assert.Equal(t, ledger.LoanOverdue, marked.State)
	assertFine(t, marked, 2)
	assert.Equal(t, ledger.LoanOpen, l.State, "input loan must not be mutated")
}

func Test_MarkOverdue_RecomputesFineWhenAlreadyOverdue(t *testing.T) {
	// arrange
	l := givenOpenLoan(t, day0)
	marked, _, err := loan.MarkOverdue(l, day0.AddDate(0, 0, 16))
	require.NoError(t, err)

	// act
	again, entered, err := loan.MarkOverdue(marked, day0.AddDate(0, 0, 19))

	// assert
	require.NoError(t, err)
	assert.False(t, entered, "a fine recompute is not a state entry")
	assert.Equal(t, ledger.LoanOverdue, again.State)
	assertFine(t, again, 5)
}

func Test_MarkOverdue_IsIdempotentForTheSameDay(t *testing.T) {
	// arrange
	l := givenOpenLoan(t, day0)
	today := day0.AddDate(0, 0, 17)
	first, _, err := loan.MarkOverdue(l, today)
	require.NoError(t, err)

	// act
	second, entered, err := loan.MarkOverdue(first, today)

	// assert
	require.NoError(t, err)
	assert.False(t, entered)
	assertFine(t, second, 3)
}

func Test_MarkOverdue_NeverLowersFine(t *testing.T) {
	// arrange
	l := givenOpenLoan(t, day0)
	marked, _, err := loan.MarkOverdue(l, day0.AddDate(0, 0, 20))
	require.NoError(t, err)

	// act
	earlier, _, err := loan.MarkOverdue(marked, day0.AddDate(0, 0, 16))

	// assert
	require.NoError(t, err)
	assertFine(t, earlier, 6)
}

func Test_MarkOverdue_Errors(t *testing.T) {
	closed, err := loan.Close(givenOpenLoan(t, day0), day0.AddDate(0, 0, 3))
	require.NoError(t, err)

	testCases := []struct {
		name        string
		loan        ledger.Loan
		today       time.Time
		expectedErr error
	}{
		{
			name:        "on the due date",
			loan:        givenOpenLoan(t, day0),
			today:       day0.AddDate(0, 0, 14),
			expectedErr: ledger.ErrInvalidTransition,
		},
		{
			name:        "before the due date",
			loan:        givenOpenLoan(t, day0),
			today:       day0.AddDate(0, 0, 2),
			expectedErr: ledger.ErrInvalidTransition,
		},
		{
			name:        "closed loan",
			loan:        closed,
			today:       day0.AddDate(0, 0, 30),
			expectedErr: ledger.ErrLoanAlreadyClosed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			result, entered, err := loan.MarkOverdue(tc.loan, tc.today)

			// assert
			assert.ErrorIs(t, err, tc.expectedErr)
			assert.ErrorIs(t, err, ledger.ErrIneligibleOperation)
			assert.False(t, entered)
			assert.Equal(t, tc.loan, result, "failed transition must not mutate")
		})
	}
}

func Test_Close_OnDueDate_HasNoFine(t *testing.T) {
	// arrange
	l := givenOpenLoan(t, day0)
	due := l.DueOn

	// act
	closed, err := loan.Close(l, due)

	// assert
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanClosed, closed.State)
	require.NotNil(t, closed.ClosedOn)
	assert.Equal(t, due, *closed.ClosedOn)
	assert.Nil(t, closed.Fine)
}

func Test_Close_ThreeDaysLate_FinalizesFine(t *testing.T) {
	// arrange
	l := givenOpenLoan(t, day0)

	// act
	closed, err := loan.Close(l, l.DueOn.AddDate(0, 0, 3))

	// assert
	require.NoError(t, err)
	assertFine(t, closed, 3)
}

func Test_Close_OverdueLoan_FinalizesFineUpToToday(t *testing.T) {
	// arrange
	l := givenOpenLoan(t, day0)
	overdue, _, err := loan.MarkOverdue(l, day0.AddDate(0, 0, 16))
	require.NoError(t, err)

	// act
	closed, err := loan.Close(overdue, day0.AddDate(0, 0, 20))

	// assert
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanClosed, closed.State)
	assertFine(t, closed, 6)
}

func Test_Close_AlreadyClosed_Fails(t *testing.T) {
	// arrange
	closed, err := loan.Close(givenOpenLoan(t, day0), day0.AddDate(0, 0, 1))
	require.NoError(t, err)

	// act
	again, err := loan.Close(closed, day0.AddDate(0, 0, 2))

	// assert
	assert.True(t, errors.Is(err, ledger.ErrLoanAlreadyClosed))
	assert.Equal(t, closed, again)
	assert.Equal(t, day0.AddDate(0, 0, 1), *again.ClosedOn, "closed-on is set exactly once")
}

func Test_MarkReminded_OncePerDay(t *testing.T) {
	// arrange
	l := givenOpenLoan(t, day0)
	today := l.DueOn.AddDate(0, 0, -1)

	// act
	first, sentFirst, errFirst := loan.MarkReminded(l, today.Add(9*time.Hour))
	second, sentSecond, errSecond := loan.MarkReminded(first, today.Add(17*time.Hour))
	nextDay, sentNextDay, errNextDay := loan.MarkReminded(second, today.AddDate(0, 0, 1))

	// assert
	require.NoError(t, errFirst)
	require.NoError(t, errSecond)
	require.NoError(t, errNextDay)
	assert.True(t, sentFirst)
	assert.False(t, sentSecond)
	assert.True(t, sentNextDay)
	require.NotNil(t, first.RemindedOn)
	assert.Equal(t, today, *first.RemindedOn)
	assert.Equal(t, first, second)
	assert.Equal(t, today.AddDate(0, 0, 1), *nextDay.RemindedOn)
	assert.Nil(t, l.RemindedOn, "input is left untouched")
}

func Test_MarkReminded_ClosedLoan_Fails(t *testing.T) {
	// arrange
	closed, err := loan.Close(givenOpenLoan(t, day0), day0.AddDate(0, 0, 1))
	require.NoError(t, err)

	// act
	_, sent, err := loan.MarkReminded(closed, day0.AddDate(0, 0, 2))

	// assert
	assert.ErrorIs(t, err, ledger.ErrLoanAlreadyClosed)
	assert.False(t, sent)
}

func Test_FineFor(t *testing.T) {
	due := day0.AddDate(0, 0, 14)

	assert.True(t, loan.FineFor(due, due).IsZero())
	assert.True(t, loan.FineFor(due, due.AddDate(0, 0, -4)).IsZero())
	assert.True(t, decimal.NewFromInt(3).Equal(loan.FineFor(due, due.AddDate(0, 0, 3))))
	assert.True(t, decimal.NewFromInt(1).Equal(loan.FineFor(due, due.Add(30*time.Hour))))
}

func Test_DisplayState(t *testing.T) {
	l := givenOpenLoan(t, day0)

	assert.Equal(t, ledger.LoanOpen, loan.DisplayState(l, l.DueOn))
	assert.Equal(t, ledger.LoanOverdue, loan.DisplayState(l, l.DueOn.AddDate(0, 0, 1)))
	assert.Equal(t, ledger.LoanOpen, l.State)
}

func Test_ReserveAndReleaseCopy(t *testing.T) {
	// arrange
	item := ledger.Item{ID: uuid.New(), TotalCopies: 1, AvailableCopies: 1}

	// act
	reserved, err := loan.ReserveCopy(item)
	require.NoError(t, err)
	_, errNone := loan.ReserveCopy(reserved)
	released, err := loan.ReleaseCopy(reserved)
	require.NoError(t, err)
	_, errAll := loan.ReleaseCopy(released)

	// assert
	assert.Equal(t, 0, reserved.AvailableCopies)
	assert.Equal(t, 1, released.AvailableCopies)
	assert.ErrorIs(t, errNone, ledger.ErrCopyCountOutOfRange)
	assert.ErrorIs(t, errAll, ledger.ErrCopyCountOutOfRange)
}

func givenOpenLoan(t *testing.T, openedOn time.Time) ledger.Loan {
	t.Helper()

	item := ledger.Item{ID: uuid.New(), TotalCopies: 1}
	borrower := ledger.Borrower{ID: uuid.New(), Standing: ledger.StandingActive}

	return loan.Create(uuid.New(), item, borrower, openedOn)
}

func assertFine(t *testing.T, l ledger.Loan, expected int64) {
	t.Helper()

	if assert.NotNil(t, l.Fine, "fine should be set") {
		assert.True(t, decimal.NewFromInt(expected).Equal(*l.Fine), "expected fine %d, got %s", expected, l.Fine.String())
	}
}
