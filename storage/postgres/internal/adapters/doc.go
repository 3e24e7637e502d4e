// Package adapters lets the Postgres store run on pgxpool.Pool, sql.DB or sqlx.DB.
//
// All three are reduced to the same small surface: plain queries and statements,
// and transactions that expose that same surface until they are committed or rolled back.
package adapters
