// Package memory provides an in-memory ledger.Store.
//
// Units of work are optimistic: writes are staged in the transaction and validated against the
// committed versions at commit time, so two transactions racing on the same item or loan behave
// like two processes racing on the Postgres store: one commits, the other gets
// ledger.ErrConcurrencyConflict. Faults can be injected per operation to exercise rollback paths.
package memory

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// Operation names a store operation for fault injection.
type Operation string

const (
	OpGetItem     Operation = "get_item"
	OpSaveItem    Operation = "save_item"
	OpGetBorrower Operation = "get_borrower"
	OpGetLoan     Operation = "get_loan"
	OpSaveLoan    Operation = "save_loan"
	OpListLoans   Operation = "list_loans"
	OpCommit      Operation = "commit"
)

// Store is an in-memory ledger.Store. The zero value is not usable, call NewStore.
type Store struct {
	mu        sync.RWMutex
	items     map[uuid.UUID]ledger.Item
	borrowers map[uuid.UUID]ledger.Borrower
	loans     map[uuid.UUID]ledger.Loan

	faultsMu sync.Mutex
	faults   map[Operation][]error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		items:     make(map[uuid.UUID]ledger.Item),
		borrowers: make(map[uuid.UUID]ledger.Borrower),
		loans:     make(map[uuid.UUID]ledger.Loan),
		faults:    make(map[Operation][]error),
	}
}

// PutItem adds or replaces a catalog item. A zero Version is stored as 1.
func (s *Store) PutItem(item ledger.Item) ledger.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Version == 0 {
		item.Version = 1
	}
	s.items[item.ID] = item

	return item
}

// PutBorrower adds or replaces a borrower.
func (s *Store) PutBorrower(borrower ledger.Borrower) ledger.Borrower {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.borrowers[borrower.ID] = borrower

	return borrower
}

// PutLoan adds or replaces a loan as is, bypassing the state machine. A zero Version is stored as 1.
func (s *Store) PutLoan(l ledger.Loan) ledger.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.Version == 0 {
		l.Version = 1
	}
	s.loans[l.ID] = l

	return l
}

// InjectFault makes the next call of op fail with err. Faults queue up per operation.
func (s *Store) InjectFault(op Operation, err error) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// InTx runs fn in a unit of work whose writes become visible together at commit.
func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	t := newTx(s)

	if err := fn(t); err != nil {
		return err
	}

	return t.commit(ctx)
}

func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (ledger.Item, error) {
	return newTx(s).GetItem(ctx, id)
}

func (s *Store) SaveItem(ctx context.Context, item ledger.Item) (ledger.Item, error) {
	var saved ledger.Item
	err := s.InTx(ctx, func(tx ledger.Tx) error {
		var err error
		saved, err = tx.SaveItem(ctx, item)
		return err
	})

	return saved, err
}

func (s *Store) GetBorrower(ctx context.Context, id uuid.UUID) (ledger.Borrower, error) {
	return newTx(s).GetBorrower(ctx, id)
}

func (s *Store) CountOpenLoans(ctx context.Context, borrowerID uuid.UUID) (int, error) {
	return newTx(s).CountOpenLoans(ctx, borrowerID)
}

func (s *Store) HasOverdueLoans(ctx context.Context, borrowerID uuid.UUID) (bool, error) {
	return newTx(s).HasOverdueLoans(ctx, borrowerID)
}

func (s *Store) GetLoan(ctx context.Context, id uuid.UUID) (ledger.Loan, error) {
	return newTx(s).GetLoan(ctx, id)
}

func (s *Store) SaveLoan(ctx context.Context, l ledger.Loan) (ledger.Loan, error) {
	var saved ledger.Loan
	err := s.InTx(ctx, func(tx ledger.Tx) error {
		var err error
		saved, err = tx.SaveLoan(ctx, l)
		return err
	})

	return saved, err
}

func (s *Store) ListOpenLoansDueBefore(ctx context.Context, day time.Time) ([]ledger.Loan, error) {
	return newTx(s).ListOpenLoansDueBefore(ctx, day)
}

func (s *Store) ListOpenLoansDueBetween(ctx context.Context, from, to time.Time) ([]ledger.Loan, error) {
	return newTx(s).ListOpenLoansDueBetween(ctx, from, to)
}

func (s *Store) ListOverdueLoans(ctx context.Context) ([]ledger.Loan, error) {
	return newTx(s).ListOverdueLoans(ctx)
}

func (s *Store) ListLoansByBorrower(ctx context.Context, borrowerID uuid.UUID, q ledger.LoanQuery) ([]ledger.Loan, error) {
	return newTx(s).ListLoansByBorrower(ctx, borrowerID, q)
}

func (s *Store) CountLoansOpenedOn(ctx context.Context, day time.Time) (int, error) {
	return newTx(s).CountLoansOpenedOn(ctx, day)
}

func (s *Store) CountLoansClosedOn(ctx context.Context, day time.Time) (int, error) {
	return newTx(s).CountLoansClosedOn(ctx, day)
}

func (s *Store) fault(op Operation) error {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()

	queued := s.faults[op]
	if len(queued) == 0 {
		return nil
	}
	s.faults[op] = queued[1:]

	return errors.Join(ledger.ErrPersistenceFailure, fmt.Errorf("injected fault on %s: %w", op, queued[0]))
}

func compareLoansByDue(a, b ledger.Loan) int {
	return cmp.Or(a.DueOn.Compare(b.DueOn), bytes.Compare(a.ID[:], b.ID[:]))
}

func compareLoansNewestFirst(a, b ledger.Loan) int {
	return cmp.Or(b.OpenedOn.Compare(a.OpenedOn), bytes.Compare(a.ID[:], b.ID[:]))
}

var _ ledger.Store = (*Store)(nil)

func sortLoans(loans []ledger.Loan, compare func(a, b ledger.Loan) int) []ledger.Loan {
	slices.SortFunc(loans, compare)
	return loans
}
