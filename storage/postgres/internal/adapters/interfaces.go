package adapters

import "context"

// Querier runs SQL text built by the store.
type Querier interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
}

// DBAdapter is a connection pool that can also open transactions.
type DBAdapter interface {
	Querier
	Begin(ctx context.Context) (DBTx, error)
}

// DBTx is an open transaction.
type DBTx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows is a result set.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult is the outcome of a statement.
type DBResult interface {
	RowsAffected() (int64, error)
}
