// Package config resolves the configuration of the lending ledger binary.
//
// Values come from defaults, a TOML file, LEDGER_* environment variables and command line
// flags, in increasing order of precedence. The package also opens the Postgres connection
// pools for the three supported drivers: pgx, database/sql and sqlx.
package config
