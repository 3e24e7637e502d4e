package sweep_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/audit"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/notify"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/retry"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/sweep"
	"github.com/AntonStoeckl/lending-ledger-go/storage/memory"
	"github.com/AntonStoeckl/lending-ledger-go/testutil/helper"
)

var day0 = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store         *memory.Store
	engine        *engine.Engine
	sweeper       *sweep.Sweeper
	notifications *helper.EmitterRecorder[notify.Event]
	audit         *helper.EmitterRecorder[audit.Record]
}

func Test_Sweeper_RunOverdueSweep_TransitionsLoansPastDue(t *testing.T) {
	// arrange
	f := givenFixture(t)
	dueSoon := f.givenLoanOpenedOn(day0.AddDate(0, 0, 3))
	pastDue := f.givenLoanOpenedOn(day0)
	dueToday := f.givenLoanOpenedOn(day0.AddDate(0, 0, 2))
	day16 := day0.AddDate(0, 0, 16)

	// act
	transitioned, err := f.sweeper.RunOverdueSweep(context.Background(), day16)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, transitioned)
	f.assertLoan(t, pastDue.ID, ledger.LoanOverdue, 2)
	f.assertLoanState(t, dueToday.ID, ledger.LoanOpen)
	f.assertLoanState(t, dueSoon.ID, ledger.LoanOpen)

	overdue := f.notifications.Filter(isKind(notify.KindOverdue))
	require.Len(t, overdue, 1)
	assert.Equal(t, pastDue.ID, overdue[0].LoanID)
	assert.Equal(t, 2, overdue[0].DaysOverdue)

	records := f.audit.Filter(func(r audit.Record) bool { return r.Operation == audit.OperationOverdue })
	require.Len(t, records, 1)
	assert.Equal(t, ledger.SystemActor, records[0].Actor)
}

func Test_Sweeper_RunOverdueSweep_IsIdempotentForTheSameDay(t *testing.T) {
	// arrange
	f := givenFixture(t)
	first := f.givenLoanOpenedOn(day0)
	second := f.givenLoanOpenedOn(day0.AddDate(0, 0, 1))
	day20 := day0.AddDate(0, 0, 20)
	_, err := f.sweeper.RunOverdueSweep(context.Background(), day20)
	require.NoError(t, err)

	// act
	transitioned, err := f.sweeper.RunOverdueSweep(context.Background(), day20)

	// assert
	require.NoError(t, err)
	assert.Zero(t, transitioned)
	f.assertLoan(t, first.ID, ledger.LoanOverdue, 6)
	f.assertLoan(t, second.ID, ledger.LoanOverdue, 5)
	assert.Len(t, f.notifications.Filter(isKind(notify.KindOverdue)), 2, "exactly one overdue notification per loan")
	assert.Len(t, f.audit.Filter(func(r audit.Record) bool { return r.Operation == audit.OperationOverdue }), 2)
}

func Test_Sweeper_RunOverdueSweep_RecomputesFinesOnLaterDays(t *testing.T) {
	// arrange
	f := givenFixture(t)
	l := f.givenLoanOpenedOn(day0)
	_, err := f.sweeper.RunOverdueSweep(context.Background(), day0.AddDate(0, 0, 16))
	require.NoError(t, err)

	// act
	transitioned, err := f.sweeper.RunOverdueSweep(context.Background(), day0.AddDate(0, 0, 19))

	// assert
	require.NoError(t, err)
	assert.Zero(t, transitioned)
	f.assertLoan(t, l.ID, ledger.LoanOverdue, 5)
	assert.Len(t, f.notifications.Filter(isKind(notify.KindOverdue)), 1)
}

func Test_Sweeper_RunOverdueSweep_ThenReturnFinalizesFine(t *testing.T) {
	// arrange
	clock := day0
	f := givenFixtureWithClock(t, func() time.Time { return clock })
	l := f.givenLoanOpenedOn(day0)
	_, err := f.sweeper.RunOverdueSweep(context.Background(), day0.AddDate(0, 0, 16))
	require.NoError(t, err)
	clock = day0.AddDate(0, 0, 20)

	// act
	closed, err := f.engine.Return(context.Background(), l.ID)

	// assert
	require.NoError(t, err)
	require.NotNil(t, closed.Fine)
	assert.True(t, closed.Fine.Equal(decimal.NewFromInt(6)))
	item, err := f.store.GetItem(context.Background(), l.ItemID)
	require.NoError(t, err)
	assert.Equal(t, item.TotalCopies, item.AvailableCopies)
}

func Test_Sweeper_RunOverdueSweep_ContinuesPastFailingLoans(t *testing.T) {
	// arrange
	f := givenFixture(t)
	f.givenLoanOpenedOn(day0)
	f.givenLoanOpenedOn(day0)
	f.store.InjectFault(memory.OpSaveLoan, errors.New("connection reset"))

	// act
	transitioned, err := f.sweeper.RunOverdueSweep(context.Background(), day0.AddDate(0, 0, 16))

	// assert
	assert.ErrorIs(t, err, ledger.ErrPersistenceFailure)
	assert.Equal(t, 1, transitioned)
	assert.Len(t, f.notifications.Filter(isKind(notify.KindOverdue)), 1)

	again, err := f.sweeper.RunOverdueSweep(context.Background(), day0.AddDate(0, 0, 16))
	require.NoError(t, err)
	assert.Equal(t, 1, again, "the failed loan is picked up by the next run")
}

func Test_Sweeper_RunOverdueSweep_RetriesConflicts(t *testing.T) {
	// arrange
	f := givenFixture(t)
	l := f.givenLoanOpenedOn(day0)
	conflicting := &conflictOnce{Transitioner: f.engine}
	s, err := sweep.NewSweeper(f.store, conflicting,
		sweep.WithNotifications(f.notifications),
		sweep.WithRetryOptions(retry.WithBaseDelay(time.Millisecond)),
	)
	require.NoError(t, err)

	// act
	transitioned, err := s.RunOverdueSweep(context.Background(), day0.AddDate(0, 0, 16))

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, transitioned)
	assert.Equal(t, int32(2), conflicting.calls.Load())
	f.assertLoanState(t, l.ID, ledger.LoanOverdue)
}

func Test_Sweeper_RunOverdueSweep_SkipsLoansClosedConcurrently(t *testing.T) {
	// arrange
	f := givenFixture(t)
	l := f.givenLoanOpenedOn(day0)
	racing := &returnFirst{Engine: f.engine}
	s, err := sweep.NewSweeper(f.store, racing, sweep.WithNotifications(f.notifications))
	require.NoError(t, err)

	// act
	transitioned, err := s.RunOverdueSweep(context.Background(), day0.AddDate(0, 0, 16))

	// assert
	require.NoError(t, err)
	assert.Zero(t, transitioned)
	f.assertLoanState(t, l.ID, ledger.LoanClosed)
	assert.Empty(t, f.notifications.Filter(isKind(notify.KindOverdue)))
}

func Test_Sweeper_SendDueReminders_CoversTomorrowAndTheDayAfter(t *testing.T) {
	// arrange
	f := givenFixture(t)
	today := day0.AddDate(0, 0, 14)
	dueToday := f.givenLoanOpenedOn(day0)
	dueTomorrow := f.givenLoanOpenedOn(day0.AddDate(0, 0, 1))
	dueInTwoDays := f.givenLoanOpenedOn(day0.AddDate(0, 0, 2))
	dueInThreeDays := f.givenLoanOpenedOn(day0.AddDate(0, 0, 3))

	// act
	reminded, err := f.sweeper.SendDueReminders(context.Background(), today)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 2, reminded)
	reminders := f.notifications.Filter(isKind(notify.KindDueSoon))
	require.Len(t, reminders, 2)
	assert.Equal(t, dueTomorrow.ID, reminders[0].LoanID)
	assert.Equal(t, dueInTwoDays.ID, reminders[1].LoanID)
	for _, r := range reminders {
		assert.NotEqual(t, dueToday.ID, r.LoanID)
		assert.NotEqual(t, dueInThreeDays.ID, r.LoanID)
	}
}

func Test_Sweeper_SendDueReminders_RemindsEachLoanOncePerDay(t *testing.T) {
	// arrange
	f := givenFixture(t)
	today := day0.AddDate(0, 0, 14)
	dueInTwoDays := f.givenLoanOpenedOn(day0.AddDate(0, 0, 2))

	// act
	first, firstErr := f.sweeper.SendDueReminders(context.Background(), today)
	second, secondErr := f.sweeper.SendDueReminders(context.Background(), today.Add(6*time.Hour))
	nextDay, nextDayErr := f.sweeper.SendDueReminders(context.Background(), today.AddDate(0, 0, 1))

	// assert
	require.NoError(t, firstErr)
	require.NoError(t, secondErr)
	require.NoError(t, nextDayErr)
	assert.Equal(t, 1, first)
	assert.Zero(t, second)
	assert.Equal(t, 1, nextDay)
	assert.Len(t, f.notifications.Filter(isKind(notify.KindDueSoon)), 2)

	stored, err := f.store.GetLoan(context.Background(), dueInTwoDays.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RemindedOn)
	assert.Equal(t, today.AddDate(0, 0, 1), *stored.RemindedOn)
	assert.Equal(t, ledger.LoanOpen, stored.State)
}

func Test_Sweeper_SendDueReminders_RetriesConflictsAndSkipsClosedLoans(t *testing.T) {
	// arrange
	f := givenFixture(t)
	today := day0.AddDate(0, 0, 14)
	dueTomorrow := f.givenLoanOpenedOn(day0.AddDate(0, 0, 1))
	conflicting := &conflictOnce{Transitioner: f.engine}
	retrying, err := sweep.NewSweeper(f.store, conflicting,
		sweep.WithNotifications(f.notifications),
		sweep.WithRetryOptions(retry.WithBaseDelay(time.Millisecond)),
	)
	require.NoError(t, err)
	racing, err := sweep.NewSweeper(f.store, &returnFirst{Engine: f.engine}, sweep.WithNotifications(f.notifications))
	require.NoError(t, err)

	// act
	reminded, retryErr := retrying.SendDueReminders(context.Background(), today)
	closedLoan := f.givenLoanOpenedOn(day0.AddDate(0, 0, 2))
	skipped, skipErr := racing.SendDueReminders(context.Background(), today)

	// assert
	require.NoError(t, retryErr)
	require.NoError(t, skipErr)
	assert.Equal(t, 1, reminded)
	assert.Equal(t, int32(2), conflicting.reminderCalls.Load())
	assert.Zero(t, skipped)
	reminders := f.notifications.Filter(isKind(notify.KindDueSoon))
	require.Len(t, reminders, 1)
	assert.Equal(t, dueTomorrow.ID, reminders[0].LoanID)
	f.assertLoanState(t, closedLoan.ID, ledger.LoanClosed)
}

func Test_Scheduler_Tick_RunsEachPassOncePerDay(t *testing.T) {
	// arrange
	f := givenFixture(t)
	f.givenLoanOpenedOn(day0)
	f.givenLoanOpenedOn(day0.AddDate(0, 0, 3))
	now := day0.AddDate(0, 0, 16).Add(2 * time.Hour)
	scheduler, err := sweep.NewScheduler(f.sweeper, sweep.WithSchedulerClock(func() time.Time { return now }))
	require.NoError(t, err)

	// act
	scheduler.Tick(context.Background())
	now = now.Add(3 * time.Hour)
	scheduler.Tick(context.Background())

	// assert
	require.NoError(t, scheduler.LastError())
	assert.Len(t, f.notifications.Filter(isKind(notify.KindOverdue)), 1)
	assert.Len(t, f.notifications.Filter(isKind(notify.KindDueSoon)), 1, "reminders are sent once per day")
}

func Test_Scheduler_Run_StopsWhenContextIsDone(t *testing.T) {
	// arrange
	f := givenFixture(t)
	scheduler, err := sweep.NewScheduler(f.sweeper, sweep.WithInterval(time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	// act
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()
	cancel()

	// assert
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func Test_NewSweeper_InvalidOptions(t *testing.T) {
	f := givenFixture(t)

	_, err := sweep.NewSweeper(f.store, f.engine, sweep.WithWorkers(0))
	assert.ErrorIs(t, err, sweep.ErrInvalidWorkers)

	_, err = sweep.NewScheduler(f.sweeper, sweep.WithInterval(0))
	assert.ErrorIs(t, err, sweep.ErrInvalidInterval)

	_, err = sweep.NewScheduler(f.sweeper, sweep.WithSchedulerClock(nil))
	assert.ErrorIs(t, err, sweep.ErrNilClock)
}

func givenFixture(t *testing.T) fixture {
	t.Helper()

	return givenFixtureWithClock(t, func() time.Time { return day0 })
}

func givenFixtureWithClock(t *testing.T, clock func() time.Time) fixture {
	t.Helper()

	f := fixture{
		store:         memory.NewStore(),
		notifications: helper.NewEmitterRecorder[notify.Event](),
		audit:         helper.NewEmitterRecorder[audit.Record](),
	}

	e, err := engine.NewEngine(f.store, engine.WithClock(clock), engine.WithNotifications(f.notifications))
	require.NoError(t, err)
	f.engine = e

	s, err := sweep.NewSweeper(f.store, f.engine,
		sweep.WithWorkers(2),
		sweep.WithNotifications(f.notifications),
		sweep.WithAudit(f.audit),
	)
	require.NoError(t, err)
	f.sweeper = s

	return f
}

// givenLoanOpenedOn stores an open loan of a one-copy item, as a Borrow on openedOn would leave it.
func (f fixture) givenLoanOpenedOn(openedOn time.Time) ledger.Loan {
	item := f.store.PutItem(ledger.Item{ID: uuid.New(), Title: "Solaris", TotalCopies: 1, AvailableCopies: 0})
	borrower := f.store.PutBorrower(ledger.Borrower{ID: uuid.New(), Name: "Kris", Contact: "kris@example.org", Standing: ledger.StandingActive})

	return f.store.PutLoan(ledger.Loan{
		ID:         uuid.New(),
		ItemID:     item.ID,
		BorrowerID: borrower.ID,
		OpenedOn:   openedOn,
		DueOn:      ledger.AddDays(openedOn, ledger.LoanPeriodDays),
		State:      ledger.LoanOpen,
	})
}

func (f fixture) assertLoanState(t *testing.T, loanID uuid.UUID, state ledger.LoanState) {
	t.Helper()

	l, err := f.store.GetLoan(context.Background(), loanID)
	require.NoError(t, err)
	assert.Equal(t, state, l.State)
}

func (f fixture) assertLoan(t *testing.T, loanID uuid.UUID, state ledger.LoanState, fine int64) {
	t.Helper()

	l, err := f.store.GetLoan(context.Background(), loanID)
	require.NoError(t, err)
	assert.Equal(t, state, l.State)
	require.NotNil(t, l.Fine)
	assert.True(t, l.Fine.Equal(decimal.NewFromInt(fine)), "fine is %s, want %d", l.Fine, fine)
}

func isKind(kind notify.Kind) func(notify.Event) bool {
	return func(e notify.Event) bool { return e.Kind == kind }
}

// conflictOnce fails the first MarkOverdue and the first MarkReminded with a concurrency conflict.
type conflictOnce struct {
	sweep.Transitioner
	calls         atomic.Int32
	reminderCalls atomic.Int32
}

func (c *conflictOnce) MarkOverdue(ctx context.Context, loanID uuid.UUID, today time.Time) (engine.OverdueResult, error) {
	if c.calls.Add(1) == 1 {
		return engine.OverdueResult{}, ledger.ErrConcurrencyConflict
	}

	return c.Transitioner.MarkOverdue(ctx, loanID, today)
}

func (c *conflictOnce) MarkReminded(ctx context.Context, loanID uuid.UUID, today time.Time) (engine.ReminderResult, error) {
	if c.reminderCalls.Add(1) == 1 {
		return engine.ReminderResult{}, ledger.ErrConcurrencyConflict
	}

	return c.Transitioner.MarkReminded(ctx, loanID, today)
}

// returnFirst returns the loan just before the sweep gets to it.
type returnFirst struct {
	*engine.Engine
}

func (r *returnFirst) MarkOverdue(ctx context.Context, loanID uuid.UUID, today time.Time) (engine.OverdueResult, error) {
	if _, err := r.Return(ctx, loanID); err != nil {
		return engine.OverdueResult{}, err
	}

	return r.Engine.MarkOverdue(ctx, loanID, today)
}

func (r *returnFirst) MarkReminded(ctx context.Context, loanID uuid.UUID, today time.Time) (engine.ReminderResult, error) {
	if _, err := r.Return(ctx, loanID); err != nil {
		return engine.ReminderResult{}, err
	}

	return r.Engine.MarkReminded(ctx, loanID, today)
}
