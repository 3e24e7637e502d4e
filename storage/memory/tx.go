package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// tx stages writes and remembers which committed version each one was based on.
// A loan base version of 0 means the loan is inserted by this transaction.
type tx struct {
	store    *Store
	items    map[uuid.UUID]ledger.Item
	loans    map[uuid.UUID]ledger.Loan
	itemBase map[uuid.UUID]int64
	loanBase map[uuid.UUID]int64
}

func newTx(s *Store) *tx {
	return &tx{
		store:    s,
		items:    make(map[uuid.UUID]ledger.Item),
		loans:    make(map[uuid.UUID]ledger.Loan),
		itemBase: make(map[uuid.UUID]int64),
		loanBase: make(map[uuid.UUID]int64),
	}
}

func (t *tx) begin(ctx context.Context, op Operation) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ledger.ErrPersistenceFailure, err)
	}

	return t.store.fault(op)
}

func (t *tx) GetItem(ctx context.Context, id uuid.UUID) (ledger.Item, error) {
	if err := t.begin(ctx, OpGetItem); err != nil {
		return ledger.Item{}, err
	}

	if item, ok := t.items[id]; ok {
		return item, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	item, ok := t.store.items[id]
	if !ok {
		return ledger.Item{}, fmt.Errorf("%w: %s", ledger.ErrItemNotFound, id)
	}

	return item, nil
}

func (t *tx) SaveItem(ctx context.Context, item ledger.Item) (ledger.Item, error) {
	if err := t.begin(ctx, OpSaveItem); err != nil {
		return item, err
	}

	current, err := t.GetItem(ctx, item.ID)
	if err != nil {
		return item, err
	}

	if current.Version != item.Version {
		return item, errors.Join(
			ledger.ErrConcurrencyConflict,
			fmt.Errorf("item %s is at version %d, not %d", item.ID, current.Version, item.Version),
		)
	}

	if item.AvailableCopies < 0 || item.AvailableCopies > current.TotalCopies {
		return item, fmt.Errorf("%w: item %s available %d of %d", ledger.ErrCopyCountOutOfRange, item.ID, item.AvailableCopies, current.TotalCopies)
	}

	if _, staged := t.itemBase[item.ID]; !staged {
		t.itemBase[item.ID] = item.Version
	}

	saved := current
	saved.AvailableCopies = item.AvailableCopies
	saved.Version++
	t.items[item.ID] = saved

	return saved, nil
}

func (t *tx) GetBorrower(ctx context.Context, id uuid.UUID) (ledger.Borrower, error) {
	if err := t.begin(ctx, OpGetBorrower); err != nil {
		return ledger.Borrower{}, err
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	borrower, ok := t.store.borrowers[id]
	if !ok {
		return ledger.Borrower{}, fmt.Errorf("%w: %s", ledger.ErrBorrowerNotFound, id)
	}

	return borrower, nil
}

func (t *tx) CountOpenLoans(ctx context.Context, borrowerID uuid.UUID) (int, error) {
	loans, err := t.matching(ctx, func(l ledger.Loan) bool {
		return l.BorrowerID == borrowerID && l.State != ledger.LoanClosed
	})

	return len(loans), err
}

func (t *tx) HasOverdueLoans(ctx context.Context, borrowerID uuid.UUID) (bool, error) {
	loans, err := t.matching(ctx, func(l ledger.Loan) bool {
		return l.BorrowerID == borrowerID && l.State == ledger.LoanOverdue
	})

	return len(loans) > 0, err
}

func (t *tx) GetLoan(ctx context.Context, id uuid.UUID) (ledger.Loan, error) {
	if err := t.begin(ctx, OpGetLoan); err != nil {
		return ledger.Loan{}, err
	}

	if l, ok := t.loans[id]; ok {
		return l, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	l, ok := t.store.loans[id]
	if !ok {
		return ledger.Loan{}, fmt.Errorf("%w: %s", ledger.ErrLoanNotFound, id)
	}

	return l, nil
}

func (t *tx) SaveLoan(ctx context.Context, l ledger.Loan) (ledger.Loan, error) {
	if err := t.begin(ctx, OpSaveLoan); err != nil {
		return l, err
	}

	if l.Version == 0 {
		return t.insertLoan(ctx, l)
	}

	current, err := t.GetLoan(ctx, l.ID)
	if err != nil {
		return l, err
	}

	if current.Version != l.Version {
		return l, errors.Join(
			ledger.ErrConcurrencyConflict,
			fmt.Errorf("loan %s is at version %d, not %d", l.ID, current.Version, l.Version),
		)
	}

	if _, staged := t.loanBase[l.ID]; !staged {
		t.loanBase[l.ID] = l.Version
	}

	saved := l
	saved.Version++
	t.loans[l.ID] = saved

	return saved, nil
}

func (t *tx) insertLoan(ctx context.Context, l ledger.Loan) (ledger.Loan, error) {
	if _, err := t.GetLoan(ctx, l.ID); err == nil {
		return l, errors.Join(ledger.ErrConcurrencyConflict, fmt.Errorf("loan %s already exists", l.ID))
	}

	t.loanBase[l.ID] = 0

	saved := l
	saved.Version = 1
	t.loans[l.ID] = saved

	return saved, nil
}

func (t *tx) ListOpenLoansDueBefore(ctx context.Context, day time.Time) ([]ledger.Loan, error) {
	loans, err := t.matching(ctx, func(l ledger.Loan) bool {
		return l.State == ledger.LoanOpen && l.DueOn.Before(ledger.Day(day))
	})

	return sortLoans(loans, compareLoansByDue), err
}

func (t *tx) ListOpenLoansDueBetween(ctx context.Context, from, to time.Time) ([]ledger.Loan, error) {
	first, last := ledger.Day(from), ledger.Day(to)
	loans, err := t.matching(ctx, func(l ledger.Loan) bool {
		return l.State == ledger.LoanOpen && !l.DueOn.Before(first) && !l.DueOn.After(last)
	})

	return sortLoans(loans, compareLoansByDue), err
}

func (t *tx) ListOverdueLoans(ctx context.Context) ([]ledger.Loan, error) {
	loans, err := t.matching(ctx, func(l ledger.Loan) bool {
		return l.State == ledger.LoanOverdue
	})

	return sortLoans(loans, compareLoansByDue), err
}

func (t *tx) ListLoansByBorrower(ctx context.Context, borrowerID uuid.UUID, q ledger.LoanQuery) ([]ledger.Loan, error) {
	loans, err := t.matching(ctx, func(l ledger.Loan) bool {
		return l.BorrowerID == borrowerID && (!q.CurrentOnly || l.State != ledger.LoanClosed)
	})
	if err != nil {
		return nil, err
	}

	loans = sortLoans(loans, compareLoansNewestFirst)

	if q.Offset >= len(loans) {
		return []ledger.Loan{}, nil
	}
	loans = loans[q.Offset:]

	if q.Limit > 0 && q.Limit < len(loans) {
		loans = loans[:q.Limit]
	}

	return loans, nil
}

func (t *tx) CountLoansOpenedOn(ctx context.Context, day time.Time) (int, error) {
	d := ledger.Day(day)
	loans, err := t.matching(ctx, func(l ledger.Loan) bool {
		return l.OpenedOn.Equal(d)
	})

	return len(loans), err
}

func (t *tx) CountLoansClosedOn(ctx context.Context, day time.Time) (int, error) {
	d := ledger.Day(day)
	loans, err := t.matching(ctx, func(l ledger.Loan) bool {
		return l.ClosedOn != nil && l.ClosedOn.Equal(d)
	})

	return len(loans), err
}

// matching returns the loans visible to this transaction for which keep returns true.
func (t *tx) matching(ctx context.Context, keep func(l ledger.Loan) bool) ([]ledger.Loan, error) {
	if err := t.begin(ctx, OpListLoans); err != nil {
		return nil, err
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	loans := make([]ledger.Loan, 0)
	for id, l := range t.store.loans {
		if staged, ok := t.loans[id]; ok {
			l = staged
		}
		if keep(l) {
			loans = append(loans, l)
		}
	}

	for id, l := range t.loans {
		if _, committed := t.store.loans[id]; !committed && keep(l) {
			loans = append(loans, l)
		}
	}

	return loans, nil
}

// commit validates every staged write against the committed versions and applies all of them,
// or none if any is stale.
func (t *tx) commit(ctx context.Context) error {
	if len(t.items) == 0 && len(t.loans) == 0 {
		return nil
	}

	if err := t.begin(ctx, OpCommit); err != nil {
		return err
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for id, base := range t.itemBase {
		if committed := t.store.items[id]; committed.Version != base {
			return errors.Join(ledger.ErrConcurrencyConflict, fmt.Errorf("item %s changed since it was read", id))
		}
	}

	for id, base := range t.loanBase {
		committed, exists := t.store.loans[id]
		if (base == 0 && exists) || (base != 0 && committed.Version != base) {
			return errors.Join(ledger.ErrConcurrencyConflict, fmt.Errorf("loan %s changed since it was read", id))
		}
	}

	for id, item := range t.items {
		t.store.items[id] = item
	}

	for id, l := range t.loans {
		t.store.loans[id] = l
	}

	return nil
}
