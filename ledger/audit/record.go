// Package audit defines the append-only records the ledger writes for every loan transition.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/outbound"
)

// Operation is the transition an audit record describes.
type Operation string

const (
	OperationBorrow  Operation = "BORROW"
	OperationReturn  Operation = "RETURN"
	OperationOverdue Operation = "OVERDUE"
)

// Detail keys.
const (
	DetailState    = "state"
	DetailDueOn    = "due_on"
	DetailClosedOn = "closed_on"
	DetailFine     = "fine"
)

const timestampLayout = "2006-01-02 15:04:05"

// Record is one append-only audit entry.
type Record struct {
	ID         uuid.UUID
	OccurredAt time.Time
	Operation  Operation
	Actor      string
	LoanID     uuid.UUID
	ItemID     uuid.UUID
	BorrowerID uuid.UUID
	ItemTitle  string
	Details    map[string]string
}

// NewRecord builds the record of a transition of l, performed by actor at occurredAt.
func NewRecord(operation Operation, actor string, l ledger.Loan, item ledger.Item, occurredAt time.Time) Record {
	details := map[string]string{
		DetailState: string(l.State),
		DetailDueOn: l.DueOn.Format(time.DateOnly),
	}

	if l.ClosedOn != nil {
		details[DetailClosedOn] = l.ClosedOn.Format(time.DateOnly)
	}

	if l.Fine != nil {
		details[DetailFine] = l.Fine.StringFixed(2)
	}

	return Record{
		ID:         uuid.New(),
		OccurredAt: occurredAt.UTC().Truncate(time.Microsecond),
		Operation:  operation,
		Actor:      actor,
		LoanID:     l.ID,
		ItemID:     l.ItemID,
		BorrowerID: l.BorrowerID,
		ItemTitle:  item.Title,
		Details:    details,
	}
}

// String renders the record as a single audit log line.
func (r Record) String() string {
	return fmt.Sprintf(
		"[%s] User: %s | Operation: %s | Item: %s | Loan: %s",
		r.OccurredAt.Format(timestampLayout), r.Actor, r.Operation, r.ItemTitle, r.LoanID,
	)
}

// Filter selects audit records. Zero fields do not restrict.
type Filter struct {
	LoanID     uuid.UUID
	ItemID     uuid.UUID
	BorrowerID uuid.UUID
	Operations []Operation
	Details    map[string]string
	From       time.Time
	Until      time.Time
}

const (
	logMsgAudit = "audit"
	logAttrLine = "line"
)

// LogSink writes audit records to a logger.
type LogSink struct {
	logger ledger.ContextualLogger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger ledger.ContextualLogger) *LogSink {
	return &LogSink{logger: logger}
}

// Deliver implements outbound.Sink.
func (s *LogSink) Deliver(ctx context.Context, record Record) error {
	s.logger.InfoContext(ctx, logMsgAudit, logAttrLine, record.String())

	return nil
}

var _ outbound.Sink[Record] = (*LogSink)(nil)
