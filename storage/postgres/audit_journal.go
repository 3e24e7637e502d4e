package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/lending-ledger-go/ledger/audit"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/outbound"
	"github.com/AntonStoeckl/lending-ledger-go/storage/postgres/internal/adapters"
)

const (
	tableAuditRecords = "audit_records"
	colOccurredAt     = "occurred_at"
	colOperation      = "operation"
	colActor          = "actor"
	colLoanID         = "loan_id"
	colItemTitle      = "item_title"
	colDetails        = "details"
	castJsonb         = "?::jsonb"
	castTimestamptz   = "?::timestamptz"
)

// ErrMarshalingDetailsFailed is returned when audit details cannot be encoded.
var ErrMarshalingDetailsFailed = errors.New("marshaling audit details failed")

// AuditJournal appends audit records to the audit_records table and reads them back.
type AuditJournal struct {
	db    adapters.DBAdapter
	store *Store
}

// Deliver appends record. It implements outbound.Sink so the journal can sit behind an outbound.Queue.
func (j *AuditJournal) Deliver(ctx context.Context, record audit.Record) error {
	details, err := jsoniter.ConfigFastest.MarshalToString(detailsOrEmpty(record.Details))
	if err != nil {
		return errors.Join(ErrMarshalingDetailsFailed, err)
	}

	query, _, err := dialect.Insert(tableAuditRecords).
		Rows(goqu.Record{
			colID:         record.ID.String(),
			colOccurredAt: goqu.L(castTimestamptz, record.OccurredAt.UTC().Format(time.RFC3339Nano)),
			colOperation:  string(record.Operation),
			colActor:      record.Actor,
			colLoanID:     record.LoanID.String(),
			colItemID:     record.ItemID.String(),
			colBorrowerID: record.BorrowerID.String(),
			colItemTitle:  record.ItemTitle,
			colDetails:    goqu.L(castJsonb, details),
		}).
		ToSQL()
	if err != nil {
		return buildErr(err)
	}

	return repository{q: j.db, store: j.store}.execGuarded(ctx, "append_audit_record", query)
}

// Query returns the records matching filter, oldest first.
func (j *AuditJournal) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	selectStmt, err := j.buildSelectQuery(filter)
	if err != nil {
		return nil, err
	}

	query, _, err := selectStmt.ToSQL()
	if err != nil {
		return nil, buildErr(err)
	}

	records := make([]audit.Record, 0)
	err = repository{q: j.db, store: j.store}.query(ctx, "query_audit_records", query, func(rows adapters.DBRows) error {
		record, scanErr := scanAuditRecord(rows)
		if scanErr != nil {
			return scanErr
		}
		records = append(records, record)

		return nil
	})

	return records, err
}

func (j *AuditJournal) buildSelectQuery(filter audit.Filter) (*goqu.SelectDataset, error) {
	conditions := make([]exp.Expression, 0)

	if filter.LoanID != uuid.Nil {
		conditions = append(conditions, goqu.C(colLoanID).Eq(filter.LoanID.String()))
	}

	if filter.ItemID != uuid.Nil {
		conditions = append(conditions, goqu.C(colItemID).Eq(filter.ItemID.String()))
	}

	if filter.BorrowerID != uuid.Nil {
		conditions = append(conditions, goqu.C(colBorrowerID).Eq(filter.BorrowerID.String()))
	}

	if len(filter.Operations) > 0 {
		operations := make([]string, 0, len(filter.Operations))
		for _, operation := range filter.Operations {
			operations = append(operations, string(operation))
		}
		conditions = append(conditions, goqu.C(colOperation).In(operations))
	}

	if len(filter.Details) > 0 {
		containment, err := jsoniter.ConfigFastest.MarshalToString(filter.Details)
		if err != nil {
			return nil, errors.Join(ErrMarshalingDetailsFailed, err)
		}
		conditions = append(conditions, goqu.L(colDetails+" @> "+castJsonb, containment))
	}

	if !filter.From.IsZero() {
		conditions = append(conditions, goqu.C(colOccurredAt).Gte(goqu.L(castTimestamptz, filter.From.UTC().Format(time.RFC3339Nano))))
	}

	if !filter.Until.IsZero() {
		conditions = append(conditions, goqu.C(colOccurredAt).Lte(goqu.L(castTimestamptz, filter.Until.UTC().Format(time.RFC3339Nano))))
	}

	selectStmt := dialect.From(tableAuditRecords).
		Select(
			goqu.C(colID).Cast(castText),
			goqu.C(colOccurredAt),
			goqu.C(colOperation),
			goqu.C(colActor),
			goqu.C(colLoanID).Cast(castText),
			goqu.C(colItemID).Cast(castText),
			goqu.C(colBorrowerID).Cast(castText),
			goqu.C(colItemTitle),
			goqu.C(colDetails).Cast(castText),
		).
		Order(goqu.C(colOccurredAt).Asc(), goqu.C(colID).Asc())

	if len(conditions) > 0 {
		selectStmt = selectStmt.Where(conditions...)
	}

	return selectStmt, nil
}

func scanAuditRecord(rows adapters.DBRows) (audit.Record, error) {
	var (
		record                             audit.Record
		rawID, rawLoan, rawItem, rawBorrow string
		operation, details                 string
	)

	if err := rows.Scan(&rawID, &record.OccurredAt, &operation, &record.Actor, &rawLoan, &rawItem, &rawBorrow, &record.ItemTitle, &details); err != nil {
		return record, err
	}

	ids := make([]uuid.UUID, 4)
	for i, raw := range []string{rawID, rawLoan, rawItem, rawBorrow} {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return record, fmt.Errorf("parsing audit record id %q: %w", raw, err)
		}
		ids[i] = parsed
	}

	record.ID, record.LoanID, record.ItemID, record.BorrowerID = ids[0], ids[1], ids[2], ids[3]
	record.Operation = audit.Operation(operation)
	record.OccurredAt = record.OccurredAt.UTC()

	if err := jsoniter.ConfigFastest.UnmarshalFromString(details, &record.Details); err != nil {
		return record, fmt.Errorf("unmarshaling audit details: %w", err)
	}

	return record, nil
}

func detailsOrEmpty(details map[string]string) map[string]string {
	if details == nil {
		return map[string]string{}
	}

	return details
}

var _ outbound.Sink[audit.Record] = (*AuditJournal)(nil)
