// Package notify describes the notifications a borrower receives about their loans
// and the sinks that deliver them.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// Kind is the kind of a notification.
type Kind string

const (
	KindOpened   Kind = "opened"
	KindReturned Kind = "returned"
	KindDueSoon  Kind = "due-soon"
	KindOverdue  Kind = "overdue"
	KindFine     Kind = "fine"
)

// Event is one notification payload.
// Date is the due date for opened and due-soon, the return date for returned and fine,
// and the sweep day for overdue.
type Event struct {
	Kind            Kind             `json:"kind"`
	LoanID          uuid.UUID        `json:"loanId"`
	ItemTitle       string           `json:"itemTitle"`
	BorrowerName    string           `json:"borrowerName,omitempty"`
	BorrowerContact string           `json:"borrowerContact"`
	Date            time.Time        `json:"date"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	DaysOverdue     int              `json:"daysOverdue,omitempty"`
}

// Opened builds the confirmation for a newly opened loan.
func Opened(l ledger.Loan, item ledger.Item, borrower ledger.Borrower) Event {
	return build(KindOpened, l, item, borrower, l.DueOn)
}

// Returned builds the confirmation for a closed loan.
func Returned(l ledger.Loan, item ledger.Item, borrower ledger.Borrower) Event {
	return build(KindReturned, l, item, borrower, closedOn(l))
}

// DueSoon builds the reminder for an open loan that is due shortly.
func DueSoon(l ledger.Loan, item ledger.Item, borrower ledger.Borrower) Event {
	return build(KindDueSoon, l, item, borrower, l.DueOn)
}

// Overdue builds the notice for a loan that became overdue on today.
func Overdue(l ledger.Loan, item ledger.Item, borrower ledger.Borrower, today time.Time) Event {
	event := build(KindOverdue, l, item, borrower, ledger.Day(today))
	event.Amount = l.Fine
	event.DaysOverdue = ledger.DaysBetween(l.DueOn, today)

	return event
}

// Fine builds the notice for a fine finalized at return.
func Fine(l ledger.Loan, item ledger.Item, borrower ledger.Borrower) Event {
	event := build(KindFine, l, item, borrower, closedOn(l))
	event.Amount = l.Fine

	return event
}

// Message is the human-readable form of an Event.
type Message struct {
	Subject string
	Body    string
}

// Render turns the event into a message addressed to the borrower.
func (e Event) Render() Message {
	date := e.Date.Format(time.DateOnly)
	amount := formatAmount(e.Amount)

	var subject string
	var lines []string

	switch e.Kind {
	case KindOpened:
		subject = "Item Borrowed Successfully"
		lines = []string{
			fmt.Sprintf("You have successfully borrowed '%s'.", e.ItemTitle),
			"Due Date: " + date,
			"",
			"Please return the item on or before the due date to avoid late fees.",
		}

	case KindReturned:
		subject = "Item Returned"
		lines = []string{
			fmt.Sprintf("We have received '%s' back on %s.", e.ItemTitle, date),
		}

	case KindDueSoon:
		subject = "Item Due Date Reminder"
		lines = []string{
			fmt.Sprintf("This is a friendly reminder that '%s' is due on %s.", e.ItemTitle, date),
			fmt.Sprintf("Please return the item on time to avoid late fees (%s per day).", formatAmount(&ledger.FinePerDay)),
		}

	case KindOverdue:
		subject = "Overdue Item Notice"
		lines = []string{
			fmt.Sprintf("Your borrowed item '%s' is %d day(s) overdue.", e.ItemTitle, e.DaysOverdue),
			"Current fine amount: " + amount,
			"",
			"Please return the item immediately to prevent additional charges.",
			"You cannot borrow new items until all overdue items are returned.",
		}

	case KindFine:
		subject = "Late Return Fine Notice"
		lines = []string{
			fmt.Sprintf("You have returned '%s' late.", e.ItemTitle),
			"Fine amount: " + amount,
			"",
			"Please pay this fine at the library desk.",
		}

	default:
		subject = string(e.Kind)
	}

	greeting := "Dear Patron,"
	if e.BorrowerName != "" {
		greeting = fmt.Sprintf("Dear %s,", e.BorrowerName)
	}

	body := greeting + "\n\n" + strings.Join(lines, "\n") + "\n\nBest regards,\nLibrary Lending Desk"

	return Message{Subject: subject, Body: body}
}

func build(kind Kind, l ledger.Loan, item ledger.Item, borrower ledger.Borrower, date time.Time) Event {
	return Event{
		Kind:            kind,
		LoanID:          l.ID,
		ItemTitle:       item.Title,
		BorrowerName:    borrower.Name,
		BorrowerContact: borrower.Contact,
		Date:            date,
	}
}

func closedOn(l ledger.Loan) time.Time {
	if l.ClosedOn == nil {
		return time.Time{}
	}

	return *l.ClosedOn
}

func formatAmount(amount *decimal.Decimal) string {
	if amount == nil {
		return "$0.00"
	}

	return "$" + amount.StringFixed(2)
}
