package adapters

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// SQLXAdapter implements DBAdapter for sqlx.DB.
type SQLXAdapter struct {
	db *sqlx.DB
}

// NewSQLXAdapter creates a SQLXAdapter.
func NewSQLXAdapter(db *sqlx.DB) *SQLXAdapter {
	return &SQLXAdapter{db: db}
}

// Query executes a query using the sqlx.DB and returns wrapped rows.
func (s *SQLXAdapter) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows.Rows}, nil
}

// Exec executes a statement using the sqlx.DB.
func (s *SQLXAdapter) Exec(ctx context.Context, query string) (DBResult, error) {
	return s.db.ExecContext(ctx, query)
}

// Begin opens a sqlx transaction.
func (s *SQLXAdapter) Begin(ctx context.Context) (DBTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &stdTx{tx: tx.Tx}, nil
}
