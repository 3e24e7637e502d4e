package adapters

import (
	"context"
	"database/sql"
)

// stdRows wraps sql.Rows to implement DBRows.
type stdRows struct {
	rows *sql.Rows
}

func (s *stdRows) Next() bool {
	return s.rows.Next()
}

func (s *stdRows) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

func (s *stdRows) Err() error {
	return s.rows.Err()
}

func (s *stdRows) Close() error {
	return s.rows.Close()
}

// stdTx wraps sql.Tx to implement DBTx. The context of Commit and Rollback is unused,
// database/sql binds the transaction to the context passed to BeginTx.
type stdTx struct {
	tx *sql.Tx
}

func (t *stdTx) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

func (t *stdTx) Exec(ctx context.Context, query string) (DBResult, error) {
	return t.tx.ExecContext(ctx, query)
}

func (t *stdTx) Commit(_ context.Context) error {
	return t.tx.Commit()
}

func (t *stdTx) Rollback(_ context.Context) error {
	return t.tx.Rollback()
}
