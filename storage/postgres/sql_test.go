package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/audit"
)

func Test_Classify_MapsSQLStates(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "pgx serialization failure", err: &pgconn.PgError{Code: codeSerializationFailure}, expected: ledger.ErrConcurrencyConflict},
		{name: "pgx deadlock", err: &pgconn.PgError{Code: codeDeadlockDetected}, expected: ledger.ErrConcurrencyConflict},
		{name: "pq unique violation", err: &pq.Error{Code: codeUniqueViolation}, expected: ledger.ErrConcurrencyConflict},
		{name: "pq check violation", err: &pq.Error{Code: codeCheckViolation}, expected: ledger.ErrCopyCountOutOfRange},
		{name: "unknown code", err: &pgconn.PgError{Code: "08006"}, expected: ledger.ErrPersistenceFailure},
		{name: "plain error", err: errors.New("connection reset"), expected: ledger.ErrPersistenceFailure},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			classified := classify(tc.err)

			// assert
			assert.ErrorIs(t, classified, tc.expected)
			assert.ErrorIs(t, classified, tc.err)
		})
	}
}

func Test_SQLState_UnwrapsWrappedDriverErrors(t *testing.T) {
	// arrange
	err := errors.Join(errors.New("commit"), &pgconn.PgError{Code: codeSerializationFailure})

	// act + assert
	assert.Equal(t, codeSerializationFailure, sqlState(err))
	assert.Empty(t, sqlState(errors.New("no state")))
}

func Test_DayLiteral_UsesCalendarDay(t *testing.T) {
	// arrange
	late := time.Date(2025, time.March, 16, 23, 59, 0, 0, time.UTC)

	// act + assert
	assert.Equal(t, "2025-03-16", dayLiteral(late))
	assert.Nil(t, nullableDay(nil))
	assert.Equal(t, "2025-03-16", nullableDay(&late))
	assert.Nil(t, nullableFine(nil))
}

func Test_BorrowerSelect_LocksRowOnlyInsideTransactions(t *testing.T) {
	// arrange
	id := uuid.New()

	// act
	locking, _, lockingErr := borrowerSelect(id, true).ToSQL()
	plain, _, plainErr := borrowerSelect(id, false).ToSQL()

	// assert
	require.NoError(t, lockingErr)
	require.NoError(t, plainErr)
	assert.Contains(t, locking, id.String())
	assert.Contains(t, locking, "FOR UPDATE")
	assert.NotContains(t, plain, "FOR UPDATE")
}

func Test_LoanSelect_ReadsReminderMarker(t *testing.T) {
	// act
	query, _, err := loanSelect().ToSQL()

	// assert
	require.NoError(t, err)
	assert.Contains(t, query, `"reminded_on"`)
}

func Test_AuditJournal_BuildSelectQuery_WithoutFilterSelectsAll(t *testing.T) {
	// act
	selectStmt, err := (&AuditJournal{}).buildSelectQuery(audit.Filter{})
	require.NoError(t, err)
	query, _, err := selectStmt.ToSQL()

	// assert
	require.NoError(t, err)
	assert.Contains(t, query, `FROM "audit_records"`)
	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, `ORDER BY "occurred_at" ASC, "id" ASC`)
}

func Test_AuditJournal_BuildSelectQuery_AppliesEveryFilter(t *testing.T) {
	// arrange
	loanID := uuid.New()
	filter := audit.Filter{
		LoanID:     loanID,
		Operations: []audit.Operation{audit.OperationBorrow, audit.OperationReturn},
		Details:    map[string]string{audit.DetailState: "closed"},
		From:       time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	}

	// act
	selectStmt, err := (&AuditJournal{}).buildSelectQuery(filter)
	require.NoError(t, err)
	query, _, err := selectStmt.ToSQL()

	// assert
	require.NoError(t, err)
	assert.Contains(t, query, `"loan_id" = '`+loanID.String()+`'`)
	assert.Contains(t, query, `"operation" IN ('BORROW', 'RETURN')`)
	assert.Contains(t, query, `details @> '{"state":"closed"}'::jsonb`)
	assert.Contains(t, query, `"occurred_at" >= '2025-03-01T00:00:00Z'::timestamptz`)
	assert.NotContains(t, query, `"item_id" =`)
}
