package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/storage/postgres/internal/adapters"
)

const (
	logMsgSQLExecuted     = "executed sql for: "
	logMsgDBQueryFailed   = "database query execution failed"
	logMsgCloseRowsFailed = "failed to close database rows"
	logMsgRollbackFailed  = "failed to roll back transaction"
	logMsgConflict        = "concurrency conflict detected"
	logAttrError          = "error"
	logAttrQuery          = "query"
	logAttrDurationMS     = "duration_ms"
	logAttrOperation      = "operation"
	metricQueryDuration   = "ledger_store_query_duration_seconds"
	metricConflictsTotal  = "ledger_store_conflicts_total"
	spanTransaction       = "ledger_store.transaction"
	spanAttrOperation     = "operation"
)

// Store is a ledger.Store on PostgreSQL.
// Its embedded repository runs outside any transaction; InTx hands out one bound to a transaction.
type Store struct {
	repository

	db               adapters.DBAdapter
	logger           ledger.Logger
	contextualLogger ledger.ContextualLogger
	metrics          ledger.MetricsCollector
	tracing          ledger.TracingCollector
}

// NewStoreFromPGXPool creates a Store on a pgx connection pool.
func NewStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*Store, error) {
	return newStore(adapters.NewPGXAdapter(db), options...)
}

// NewStoreFromPGXPoolAndReplica creates a Store that sends reads outside transactions to replica.
func NewStoreFromPGXPoolAndReplica(db *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (*Store, error) {
	return newStore(adapters.NewPGXAdapterWithReplica(db, replica), options...)
}

// NewStoreFromSQLDB creates a Store on a database/sql handle.
func NewStoreFromSQLDB(db *sql.DB, options ...Option) (*Store, error) {
	return newStore(adapters.NewSQLAdapter(db), options...)
}

// NewStoreFromSQLX creates a Store on a sqlx handle.
func NewStoreFromSQLX(db *sqlx.DB, options ...Option) (*Store, error) {
	return newStore(adapters.NewSQLXAdapter(db), options...)
}

func newStore(db adapters.DBAdapter, options ...Option) (*Store, error) {
	s := &Store{db: db}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	s.repository = repository{q: db, store: s}

	return s, nil
}

// InTx runs fn in a database transaction. The transaction commits if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) (err error) {
	ctx, span := s.startSpan(ctx, spanTransaction)
	defer func() { s.finishSpan(span, err) }()

	dbTx, beginErr := s.db.Begin(ctx)
	if beginErr != nil {
		return classify(beginErr)
	}

	defer func() {
		if r := recover(); r != nil {
			s.rollback(ctx, dbTx)
			panic(r)
		}
	}()

	if fnErr := fn(repository{q: dbTx, store: s, inTx: true}); fnErr != nil {
		s.rollback(ctx, dbTx)
		return fnErr
	}

	if commitErr := dbTx.Commit(ctx); commitErr != nil {
		return classify(commitErr)
	}

	return nil
}

// AuditJournal returns the audit journal sharing this store's connection.
func (s *Store) AuditJournal() *AuditJournal {
	return &AuditJournal{db: s.db, store: s}
}

func (s *Store) rollback(ctx context.Context, dbTx adapters.DBTx) {
	if err := dbTx.Rollback(ctx); err != nil {
		s.logWarn(ctx, logMsgRollbackFailed, logAttrError, err.Error())
	}
}

// classify maps a driver error to the ledger error taxonomy.
func classify(err error) error {
	switch sqlState(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
		return errors.Join(ledger.ErrConcurrencyConflict, err)
	case codeCheckViolation:
		return errors.Join(ledger.ErrCopyCountOutOfRange, err)
	default:
		return errors.Join(ledger.ErrPersistenceFailure, err)
	}
}

func (s *Store) observe(ctx context.Context, operation, query string, duration time.Duration, err error) {
	if s.contextualLogger != nil {
		s.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+operation, logAttrDurationMS, durationToMilliseconds(duration), logAttrQuery, query)
	} else if s.logger != nil {
		s.logger.Debug(logMsgSQLExecuted+operation, logAttrDurationMS, durationToMilliseconds(duration), logAttrQuery, query)
	}

	if err != nil {
		s.logError(ctx, logMsgDBQueryFailed, logAttrOperation, operation, logAttrError, err.Error(), logAttrQuery, query)
	}

	if s.metrics != nil {
		s.metrics.RecordDuration(metricQueryDuration, duration, map[string]string{
			"operation": operation,
			"status":    ledger.StatusOf(classifyIfErr(err)),
		})
	}
}

func (s *Store) conflict(ctx context.Context, operation string) {
	s.logWarn(ctx, logMsgConflict, logAttrOperation, operation)

	if s.metrics != nil {
		s.metrics.IncrementCounter(metricConflictsTotal, map[string]string{"operation": operation})
	}
}

func (s *Store) closeRows(ctx context.Context, rows adapters.DBRows) {
	if err := rows.Close(); err != nil {
		s.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, err.Error())
	}
}

func (s *Store) logWarn(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.WarnContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Store) logError(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.ErrorContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}

func (s *Store) startSpan(ctx context.Context, name string) (context.Context, ledger.SpanContext) {
	if s.tracing == nil {
		return ctx, nil
	}

	return s.tracing.StartSpan(ctx, name, map[string]string{spanAttrOperation: name})
}

func (s *Store) finishSpan(span ledger.SpanContext, err error) {
	if s.tracing == nil || span == nil {
		return
	}

	s.tracing.FinishSpan(span, ledger.StatusOf(err), nil)
}

func classifyIfErr(err error) error {
	if err == nil {
		return nil
	}

	return classify(err)
}

// durationToMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func durationToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
