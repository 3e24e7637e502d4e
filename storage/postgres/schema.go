package postgres

import (
	"context"
	"time"
)

// schemaStatements create the ledger tables. Each statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id               UUID PRIMARY KEY,
		title            TEXT NOT NULL,
		total_copies     INTEGER NOT NULL CHECK (total_copies >= 1),
		available_copies INTEGER NOT NULL,
		restricted       BOOLEAN NOT NULL DEFAULT FALSE,
		version          BIGINT NOT NULL DEFAULT 1,
		CONSTRAINT items_available_in_range CHECK (available_copies BETWEEN 0 AND total_copies)
	)`,
	`CREATE TABLE IF NOT EXISTS borrowers (
		id       UUID PRIMARY KEY,
		name     TEXT NOT NULL,
		contact  TEXT NOT NULL DEFAULT '',
		standing TEXT NOT NULL CHECK (standing IN ('active', 'suspended', 'inactive'))
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id          UUID PRIMARY KEY,
		item_id     UUID NOT NULL REFERENCES items (id),
		borrower_id UUID NOT NULL REFERENCES borrowers (id),
		opened_on   DATE NOT NULL,
		due_on      DATE NOT NULL,
		closed_on   DATE,
		state       TEXT NOT NULL CHECK (state IN ('open', 'overdue', 'closed')),
		fine        NUMERIC(12, 2),
		version     BIGINT NOT NULL,
		reminded_on DATE,
		CONSTRAINT loans_closed_on_when_closed CHECK ((state = 'closed') = (closed_on IS NOT NULL))
	)`,
	`ALTER TABLE loans ADD COLUMN IF NOT EXISTS reminded_on DATE`,
	`CREATE INDEX IF NOT EXISTS loans_state_due_on_idx ON loans (state, due_on)`,
	`CREATE INDEX IF NOT EXISTS loans_borrower_state_idx ON loans (borrower_id, state)`,
	`CREATE INDEX IF NOT EXISTS loans_item_idx ON loans (item_id)`,
	`CREATE TABLE IF NOT EXISTS audit_records (
		id          UUID PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL,
		operation   TEXT NOT NULL,
		actor       TEXT NOT NULL,
		loan_id     UUID NOT NULL,
		item_id     UUID NOT NULL,
		borrower_id UUID NOT NULL,
		item_title  TEXT NOT NULL DEFAULT '',
		details     JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS audit_records_loan_idx ON audit_records (loan_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS audit_records_details_idx ON audit_records USING gin (details)`,
}

// Migrate creates the tables and indexes the store needs if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, statement := range schemaStatements {
		start := time.Now()
		_, err := s.db.Exec(ctx, statement)
		s.observe(ctx, "migrate", statement, time.Since(start), err)

		if err != nil {
			return classify(err)
		}
	}

	return nil
}
