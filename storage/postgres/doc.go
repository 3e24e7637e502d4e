// Package postgres implements ledger.Store on PostgreSQL.
//
// Items and loans carry a version column; every update is guarded by the version that was read,
// so a concurrent writer in another process makes the update affect no rows, which is reported
// as ledger.ErrConcurrencyConflict. Queries are built with goqu and executed through one of three
// adapters, so the store can run on a pgxpool.Pool, a sql.DB (lib/pq) or a sqlx.DB:
//
//	pool, _ := pgxpool.NewWithConfig(ctx, cfg)
//	store, err := postgres.NewStoreFromPGXPool(pool, postgres.WithLogger(slog.Default()))
//	if err != nil {
//		// handle error
//	}
//
//	err = store.InTx(ctx, func(tx ledger.Tx) error {
//		item, err := tx.GetItem(ctx, itemID)
//		// ...
//	})
//
// The same package provides AuditJournal, an append-only audit.Record table on the same connection.
package postgres
