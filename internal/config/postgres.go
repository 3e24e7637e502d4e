package config

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

const postgresDriverName = "postgres"

// PGXPoolConfig creates a pgxpool.Config from the postgres settings.
func (c PostgresConfig) PGXPoolConfig() (*pgxpool.Config, error) {
	dbConfig, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	dbConfig.MaxConns = int32(c.MaxConns) //nolint:gosec
	dbConfig.MinConns = int32(c.MinConns) //nolint:gosec
	dbConfig.MaxConnLifetime = c.MaxConnLifetime
	dbConfig.MaxConnIdleTime = c.MaxConnIdleTime
	dbConfig.ConnConfig.ConnectTimeout = c.ConnectTimeout

	return dbConfig, nil
}

// OpenPGXPool opens a pgx pool and checks that the database is reachable.
func (c PostgresConfig) OpenPGXPool(ctx context.Context) (*pgxpool.Pool, error) {
	dbConfig, err := c.PGXPoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}

	if pingErr := pool.Ping(ctx); pingErr != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	return pool, nil
}

// OpenPGXReplicaPool opens a pgx pool on the replica with the same pool settings.
func (c PostgresConfig) OpenPGXReplicaPool(ctx context.Context) (*pgxpool.Pool, error) {
	replica := c
	replica.DSN = c.ReplicaDSN

	return replica.OpenPGXPool(ctx)
}

// OpenSQLDB opens a database/sql pool on lib/pq and checks that the database is reachable.
func (c PostgresConfig) OpenSQLDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(postgresDriverName, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}

	c.configurePool(db)

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	return db, nil
}

// OpenSQLX opens a sqlx pool on lib/pq and checks that the database is reachable.
func (c PostgresConfig) OpenSQLX(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.Open(postgresDriverName, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}

	c.configurePool(db.DB)

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	return db, nil
}

func (c PostgresConfig) configurePool(db *sql.DB) {
	db.SetMaxOpenConns(c.MaxConns)
	db.SetMaxIdleConns(c.MinConns)
	db.SetConnMaxLifetime(c.MaxConnLifetime)
	db.SetConnMaxIdleTime(c.MaxConnIdleTime)
}
