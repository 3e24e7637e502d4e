package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/storage/postgres/internal/adapters"
)

const (
	dialectPostgres = "postgres"
	tableItems      = "items"
	tableBorrowers  = "borrowers"
	tableLoans      = "loans"
	colID           = "id"
	colTitle        = "title"
	colTotal        = "total_copies"
	colAvailable    = "available_copies"
	colRestricted   = "restricted"
	colVersion      = "version"
	colName         = "name"
	colContact      = "contact"
	colStanding     = "standing"
	colItemID       = "item_id"
	colBorrowerID   = "borrower_id"
	colOpenedOn     = "opened_on"
	colDueOn        = "due_on"
	colClosedOn     = "closed_on"
	colState        = "state"
	colFine         = "fine"
	colRemindedOn   = "reminded_on"
	castText        = "TEXT"
)

// repository implements ledger.Tx on top of a Querier, which is either the pool or an open transaction.
type repository struct {
	q     adapters.Querier
	store *Store
	inTx  bool
}

var dialect = goqu.Dialect(dialectPostgres)

func (r repository) GetItem(ctx context.Context, id uuid.UUID) (ledger.Item, error) {
	query, _, err := dialect.From(tableItems).
		Select(goqu.C(colID).Cast(castText), colTitle, colTotal, colAvailable, colRestricted, colVersion).
		Where(goqu.C(colID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return ledger.Item{}, buildErr(err)
	}

	var items []ledger.Item
	err = r.query(ctx, "get_item", query, func(rows adapters.DBRows) error {
		var item ledger.Item
		var rawID string
		if scanErr := rows.Scan(&rawID, &item.Title, &item.TotalCopies, &item.AvailableCopies, &item.Restricted, &item.Version); scanErr != nil {
			return scanErr
		}

		parsedID, parseErr := uuid.Parse(rawID)
		if parseErr != nil {
			return parseErr
		}
		item.ID = parsedID
		items = append(items, item)

		return nil
	})
	if err != nil {
		return ledger.Item{}, err
	}

	if len(items) == 0 {
		return ledger.Item{}, fmt.Errorf("%w: %s", ledger.ErrItemNotFound, id)
	}

	return items[0], nil
}

func (r repository) SaveItem(ctx context.Context, item ledger.Item) (ledger.Item, error) {
	query, _, err := dialect.Update(tableItems).
		Set(goqu.Record{
			colAvailable: item.AvailableCopies,
			colVersion:   item.Version + 1,
		}).
		Where(
			goqu.C(colID).Eq(item.ID.String()),
			goqu.C(colVersion).Eq(item.Version),
		).
		ToSQL()
	if err != nil {
		return item, buildErr(err)
	}

	if err := r.execGuarded(ctx, "save_item", query); err != nil {
		return item, err
	}

	saved := item
	saved.Version++

	return saved, nil
}

func (r repository) GetBorrower(ctx context.Context, id uuid.UUID) (ledger.Borrower, error) {
	query, _, err := borrowerSelect(id, r.inTx).ToSQL()
	if err != nil {
		return ledger.Borrower{}, buildErr(err)
	}

	var borrowers []ledger.Borrower
	err = r.query(ctx, "get_borrower", query, func(rows adapters.DBRows) error {
		var borrower ledger.Borrower
		var rawID, standing string
		if scanErr := rows.Scan(&rawID, &borrower.Name, &borrower.Contact, &standing); scanErr != nil {
			return scanErr
		}

		parsedID, parseErr := uuid.Parse(rawID)
		if parseErr != nil {
			return parseErr
		}
		borrower.ID = parsedID
		borrower.Standing = ledger.Standing(standing)
		borrowers = append(borrowers, borrower)

		return nil
	})
	if err != nil {
		return ledger.Borrower{}, err
	}

	if len(borrowers) == 0 {
		return ledger.Borrower{}, fmt.Errorf("%w: %s", ledger.ErrBorrowerNotFound, id)
	}

	return borrowers[0], nil
}

// borrowerSelect locks the row when forUpdate is set, which serializes concurrent borrows by one
// borrower across processes until the borrowing transaction commits.
func borrowerSelect(id uuid.UUID, forUpdate bool) *goqu.SelectDataset {
	selectStmt := dialect.From(tableBorrowers).
		Select(goqu.C(colID).Cast(castText), colName, colContact, colStanding).
		Where(goqu.C(colID).Eq(id.String()))

	if forUpdate {
		selectStmt = selectStmt.ForUpdate(exp.Wait)
	}

	return selectStmt
}

func (r repository) CountOpenLoans(ctx context.Context, borrowerID uuid.UUID) (int, error) {
	return r.count(ctx, "count_open_loans", goqu.And(
		goqu.C(colBorrowerID).Eq(borrowerID.String()),
		goqu.C(colState).Neq(string(ledger.LoanClosed)),
	))
}

func (r repository) HasOverdueLoans(ctx context.Context, borrowerID uuid.UUID) (bool, error) {
	count, err := r.count(ctx, "has_overdue_loans", goqu.And(
		goqu.C(colBorrowerID).Eq(borrowerID.String()),
		goqu.C(colState).Eq(string(ledger.LoanOverdue)),
	))

	return count > 0, err
}

func (r repository) GetLoan(ctx context.Context, id uuid.UUID) (ledger.Loan, error) {
	loans, err := r.selectLoans(ctx, "get_loan", loanSelect().Where(goqu.C(colID).Eq(id.String())))
	if err != nil {
		return ledger.Loan{}, err
	}

	if len(loans) == 0 {
		return ledger.Loan{}, fmt.Errorf("%w: %s", ledger.ErrLoanNotFound, id)
	}

	return loans[0], nil
}

// SaveLoan inserts a loan with Version 0 and updates the mutable columns of any other.
// Identity, references and the opened-on and due-on dates are never updated.
func (r repository) SaveLoan(ctx context.Context, l ledger.Loan) (ledger.Loan, error) {
	if l.Version == 0 {
		return r.insertLoan(ctx, l)
	}

	query, _, err := dialect.Update(tableLoans).
		Set(goqu.Record{
			colState:      string(l.State),
			colClosedOn:   nullableDay(l.ClosedOn),
			colFine:       nullableFine(l.Fine),
			colRemindedOn: nullableDay(l.RemindedOn),
			colVersion:    l.Version + 1,
		}).
		Where(
			goqu.C(colID).Eq(l.ID.String()),
			goqu.C(colVersion).Eq(l.Version),
		).
		ToSQL()
	if err != nil {
		return l, buildErr(err)
	}

	if err := r.execGuarded(ctx, "update_loan", query); err != nil {
		return l, err
	}

	saved := l
	saved.Version++

	return saved, nil
}

func (r repository) insertLoan(ctx context.Context, l ledger.Loan) (ledger.Loan, error) {
	query, _, err := dialect.Insert(tableLoans).
		Rows(goqu.Record{
			colID:         l.ID.String(),
			colItemID:     l.ItemID.String(),
			colBorrowerID: l.BorrowerID.String(),
			colOpenedOn:   dayLiteral(l.OpenedOn),
			colDueOn:      dayLiteral(l.DueOn),
			colClosedOn:   nullableDay(l.ClosedOn),
			colState:      string(l.State),
			colFine:       nullableFine(l.Fine),
			colRemindedOn: nullableDay(l.RemindedOn),
			colVersion:    1,
		}).
		ToSQL()
	if err != nil {
		return l, buildErr(err)
	}

	if err := r.execGuarded(ctx, "insert_loan", query); err != nil {
		return l, err
	}

	saved := l
	saved.Version = 1

	return saved, nil
}

func (r repository) ListOpenLoansDueBefore(ctx context.Context, day time.Time) ([]ledger.Loan, error) {
	return r.selectLoans(ctx, "list_open_loans_due_before", loanSelect().
		Where(
			goqu.C(colState).Eq(string(ledger.LoanOpen)),
			goqu.C(colDueOn).Lt(dayLiteral(day)),
		).
		Order(goqu.C(colDueOn).Asc(), goqu.C(colID).Asc()))
}

func (r repository) ListOpenLoansDueBetween(ctx context.Context, from, to time.Time) ([]ledger.Loan, error) {
	return r.selectLoans(ctx, "list_open_loans_due_between", loanSelect().
		Where(
			goqu.C(colState).Eq(string(ledger.LoanOpen)),
			goqu.C(colDueOn).Between(goqu.Range(dayLiteral(from), dayLiteral(to))),
		).
		Order(goqu.C(colDueOn).Asc(), goqu.C(colID).Asc()))
}

func (r repository) ListOverdueLoans(ctx context.Context) ([]ledger.Loan, error) {
	return r.selectLoans(ctx, "list_overdue_loans", loanSelect().
		Where(goqu.C(colState).Eq(string(ledger.LoanOverdue))).
		Order(goqu.C(colDueOn).Asc(), goqu.C(colID).Asc()))
}

func (r repository) ListLoansByBorrower(ctx context.Context, borrowerID uuid.UUID, q ledger.LoanQuery) ([]ledger.Loan, error) {
	conditions := []exp.Expression{goqu.C(colBorrowerID).Eq(borrowerID.String())}
	if q.CurrentOnly {
		conditions = append(conditions, goqu.C(colState).Neq(string(ledger.LoanClosed)))
	}

	selectStmt := loanSelect().
		Where(conditions...).
		Order(goqu.C(colOpenedOn).Desc(), goqu.C(colID).Asc())

	if q.Limit > 0 {
		selectStmt = selectStmt.Limit(uint(q.Limit))
	}

	if q.Offset > 0 {
		selectStmt = selectStmt.Offset(uint(q.Offset))
	}

	return r.selectLoans(ctx, "list_loans_by_borrower", selectStmt)
}

func (r repository) CountLoansOpenedOn(ctx context.Context, day time.Time) (int, error) {
	return r.count(ctx, "count_loans_opened_on", goqu.C(colOpenedOn).Eq(dayLiteral(day)))
}

func (r repository) CountLoansClosedOn(ctx context.Context, day time.Time) (int, error) {
	return r.count(ctx, "count_loans_closed_on", goqu.C(colClosedOn).Eq(dayLiteral(day)))
}

func loanSelect() *goqu.SelectDataset {
	return dialect.From(tableLoans).Select(
		goqu.C(colID).Cast(castText),
		goqu.C(colItemID).Cast(castText),
		goqu.C(colBorrowerID).Cast(castText),
		goqu.C(colOpenedOn),
		goqu.C(colDueOn),
		goqu.C(colClosedOn),
		goqu.C(colState),
		goqu.C(colFine).Cast(castText),
		goqu.C(colVersion),
		goqu.C(colRemindedOn),
	)
}

func (r repository) selectLoans(ctx context.Context, operation string, selectStmt *goqu.SelectDataset) ([]ledger.Loan, error) {
	query, _, err := selectStmt.ToSQL()
	if err != nil {
		return nil, buildErr(err)
	}

	loans := make([]ledger.Loan, 0)
	err = r.query(ctx, operation, query, func(rows adapters.DBRows) error {
		l, scanErr := scanLoan(rows)
		if scanErr != nil {
			return scanErr
		}
		loans = append(loans, l)

		return nil
	})

	return loans, err
}

func scanLoan(rows adapters.DBRows) (ledger.Loan, error) {
	var (
		l                           ledger.Loan
		rawID, rawItem, rawBorrower string
		state                       string
		closedOn, remindedOn        sql.NullTime
		fine                        sql.NullString
	)

	if err := rows.Scan(&rawID, &rawItem, &rawBorrower, &l.OpenedOn, &l.DueOn, &closedOn, &state, &fine, &l.Version, &remindedOn); err != nil {
		return l, err
	}

	var err error
	if l.ID, err = uuid.Parse(rawID); err != nil {
		return l, err
	}
	if l.ItemID, err = uuid.Parse(rawItem); err != nil {
		return l, err
	}
	if l.BorrowerID, err = uuid.Parse(rawBorrower); err != nil {
		return l, err
	}

	l.State = ledger.LoanState(state)
	l.OpenedOn = ledger.Day(l.OpenedOn)
	l.DueOn = ledger.Day(l.DueOn)

	if closedOn.Valid {
		day := ledger.Day(closedOn.Time)
		l.ClosedOn = &day
	}

	if remindedOn.Valid {
		day := ledger.Day(remindedOn.Time)
		l.RemindedOn = &day
	}

	if fine.Valid {
		amount, parseErr := decimal.NewFromString(fine.String)
		if parseErr != nil {
			return l, parseErr
		}
		l.Fine = &amount
	}

	return l, nil
}

func (r repository) count(ctx context.Context, operation string, where exp.Expression) (int, error) {
	query, _, err := dialect.From(tableLoans).
		Select(goqu.COUNT(goqu.Star())).
		Where(where).
		ToSQL()
	if err != nil {
		return 0, buildErr(err)
	}

	var count int64
	err = r.query(ctx, operation, query, func(rows adapters.DBRows) error {
		return rows.Scan(&count)
	})

	return int(count), err
}

// query runs a select and calls scan once per row.
func (r repository) query(ctx context.Context, operation, query string, scan func(rows adapters.DBRows) error) error {
	start := time.Now()
	rows, err := r.q.Query(ctx, query)
	r.store.observe(ctx, operation, query, time.Since(start), err)
	if err != nil {
		return classify(err)
	}
	defer r.store.closeRows(ctx, rows)

	for rows.Next() {
		if scanErr := scan(rows); scanErr != nil {
			return errors.Join(ledger.ErrPersistenceFailure, scanErr)
		}
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return classify(rowsErr)
	}

	return nil
}

// execGuarded runs a statement that must affect exactly one row.
// Affecting none means the version guard did not match.
func (r repository) execGuarded(ctx context.Context, operation, query string) error {
	start := time.Now()
	result, err := r.q.Exec(ctx, query)
	r.store.observe(ctx, operation, query, time.Since(start), err)
	if err != nil {
		return classify(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Join(ledger.ErrPersistenceFailure, err)
	}

	if affected != 1 {
		r.store.conflict(ctx, operation)
		return errors.Join(ledger.ErrConcurrencyConflict, fmt.Errorf("%s affected %d rows", operation, affected))
	}

	return nil
}

func buildErr(err error) error {
	return errors.Join(ledger.ErrPersistenceFailure, fmt.Errorf("building sql: %w", err))
}

func dayLiteral(day time.Time) string {
	return ledger.Day(day).Format(time.DateOnly)
}

func nullableDay(day *time.Time) any {
	if day == nil {
		return nil
	}

	return dayLiteral(*day)
}

func nullableFine(fine *decimal.Decimal) any {
	if fine == nil {
		return nil
	}

	return fine.StringFixed(2)
}

var _ ledger.Store = (*Store)(nil)
