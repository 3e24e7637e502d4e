// Package postgreswrapper opens a postgres.Store on the test database with the adapter chosen by ADAPTER_TYPE.
package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/internal/config"
	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/storage/postgres"
)

// EnvTestDSN names the connection string of the test database. Tests skip when it is unset.
const EnvTestDSN = "LEDGER_TEST_POSTGRES_DSN"

// Adapter type constants
const (
	typePGXPool = "pgxpool"
	typeSQLDB   = "sqldb"
	typeSQLX    = "sqlx"
)

const truncateTables = "TRUNCATE TABLE audit_records, loans, borrowers, items"

// Wrapper abstracts over the different handles a Store can run on.
type Wrapper interface {
	Store() *postgres.Store
	Exec(ctx context.Context, query string, args ...any) error
	Close()
}

// PGXPoolWrapper wraps a pgxpool-based Store.
type PGXPoolWrapper struct {
	pool  *pgxpool.Pool
	store *postgres.Store
}

func (w *PGXPoolWrapper) Store() *postgres.Store { return w.store }

func (w *PGXPoolWrapper) Exec(ctx context.Context, query string, args ...any) error {
	_, err := w.pool.Exec(ctx, query, args...)
	return err
}

func (w *PGXPoolWrapper) Close() { w.pool.Close() }

// SQLDBWrapper wraps a database/sql-based Store.
type SQLDBWrapper struct {
	db    *sql.DB
	store *postgres.Store
}

func (w *SQLDBWrapper) Store() *postgres.Store { return w.store }

func (w *SQLDBWrapper) Exec(ctx context.Context, query string, args ...any) error {
	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

func (w *SQLDBWrapper) Close() { _ = w.db.Close() }

// SQLXWrapper wraps a sqlx-based Store.
type SQLXWrapper struct {
	db    *sqlx.DB
	store *postgres.Store
}

func (w *SQLXWrapper) Store() *postgres.Store { return w.store }

func (w *SQLXWrapper) Exec(ctx context.Context, query string, args ...any) error {
	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

func (w *SQLXWrapper) Close() { _ = w.db.Close() }

// CreateWrapperWithTestConfig opens the test database, migrates it and empties all tables.
// It skips t when EnvTestDSN is not set.
func CreateWrapperWithTestConfig(t testing.TB, options ...postgres.Option) Wrapper {
	t.Helper()

	dsn := os.Getenv(EnvTestDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvTestDSN)
	}

	ctx := context.Background()
	cfg := config.DefaultConfig().Postgres
	cfg.DSN = dsn

	var wrapper Wrapper
	adapterType := strings.ToLower(os.Getenv("ADAPTER_TYPE"))

	switch adapterType {
	case typePGXPool, "":
		pool, err := cfg.OpenPGXPool(ctx)
		require.NoError(t, err, "error connecting to DB pool in test setup")
		store, err := postgres.NewStoreFromPGXPool(pool, options...)
		require.NoError(t, err)
		wrapper = &PGXPoolWrapper{pool: pool, store: store}

	case typeSQLDB:
		db, err := cfg.OpenSQLDB(ctx)
		require.NoError(t, err, "error connecting to DB in test setup")
		store, err := postgres.NewStoreFromSQLDB(db, options...)
		require.NoError(t, err)
		wrapper = &SQLDBWrapper{db: db, store: store}

	case typeSQLX:
		db, err := cfg.OpenSQLX(ctx)
		require.NoError(t, err, "error connecting to DB in test setup")
		store, err := postgres.NewStoreFromSQLX(db, options...)
		require.NoError(t, err)
		wrapper = &SQLXWrapper{db: db, store: store}

	default:
		panic(fmt.Sprintf("unsupported wrapper type from env: %s", adapterType))
	}

	t.Cleanup(wrapper.Close)

	require.NoError(t, wrapper.Store().Migrate(ctx), "error migrating the test DB")
	CleanUp(t, wrapper)

	return wrapper
}

// CleanUp empties all ledger tables.
func CleanUp(t testing.TB, wrapper Wrapper) {
	t.Helper()

	require.NoError(t, wrapper.Exec(context.Background(), truncateTables), "error cleaning up the ledger tables")
}

// GivenItem inserts an item with all copies available.
func GivenItem(t testing.TB, wrapper Wrapper, title string, copies int, restricted bool) ledger.Item {
	t.Helper()

	item := ledger.Item{
		ID:              uuid.New(),
		Title:           title,
		TotalCopies:     copies,
		AvailableCopies: copies,
		Restricted:      restricted,
		Version:         1,
	}

	err := wrapper.Exec(context.Background(),
		`INSERT INTO items (id, title, total_copies, available_copies, restricted, version) VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID.String(), item.Title, item.TotalCopies, item.AvailableCopies, item.Restricted, item.Version,
	)
	require.NoError(t, err, "error in arranging test data")

	return item
}

// GivenBorrower inserts a borrower.
func GivenBorrower(t testing.TB, wrapper Wrapper, name string, standing ledger.Standing) ledger.Borrower {
	t.Helper()

	borrower := ledger.Borrower{
		ID:       uuid.New(),
		Name:     name,
		Contact:  strings.ToLower(name) + "@example.org",
		Standing: standing,
	}

	err := wrapper.Exec(context.Background(),
		`INSERT INTO borrowers (id, name, contact, standing) VALUES ($1, $2, $3, $4)`,
		borrower.ID.String(), borrower.Name, borrower.Contact, string(borrower.Standing),
	)
	require.NoError(t, err, "error in arranging test data")

	return borrower
}
