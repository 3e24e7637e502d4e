// Package sweep runs the time-driven passes over loans.
//
// RunOverdueSweep moves every open loan that is past due into overdue and recomputes the fines
// of loans that already are. It is idempotent for a given day: a loan is announced as overdue
// only when it enters the state, never on a recompute. SendDueReminders announces open loans
// due tomorrow or the day after. Both take "today" as an argument and never read the wall clock;
// Scheduler is the only part that does.
package sweep
