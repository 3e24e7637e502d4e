package httpapi_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/internal/httpapi"
	"github.com/AntonStoeckl/lending-ledger-go/internal/observability"
	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/audit"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/eligibility"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/retry"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/sweep"
	"github.com/AntonStoeckl/lending-ledger-go/storage/memory"
	"github.com/AntonStoeckl/lending-ledger-go/testutil/helper"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var day0 = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	audit  *helper.EmitterRecorder[audit.Record]
	now    *time.Time
	server http.Handler
}

func Test_Server_Borrow_CreatesLoan(t *testing.T) {
	// arrange
	f := givenFixture(t)
	item := f.givenItem(1, false)
	borrower := f.givenBorrower(ledger.StandingActive)

	// act
	rec := f.do(t, http.MethodPost, "/loans", borrowBody(item.ID, borrower.ID), "librarian-7")

	// assert
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	response := decode[httpapi.LoanResponse](t, rec)
	assert.Equal(t, item.ID.String(), response.ItemID)
	assert.Equal(t, borrower.ID.String(), response.BorrowerID)
	assert.Equal(t, "2025-03-01", response.OpenedOn)
	assert.Equal(t, "2025-03-15", response.DueOn)
	assert.Equal(t, string(ledger.LoanOpen), response.State)
	assert.Nil(t, response.ClosedOn)

	records := f.audit.Items()
	require.Len(t, records, 1)
	assert.Equal(t, "librarian-7", records[0].Actor)
}

func Test_Server_Borrow_RejectionCarriesRule(t *testing.T) {
	// arrange
	f := givenFixture(t)
	item := f.givenItem(1, false)
	borrower := f.givenBorrower(ledger.StandingSuspended)

	// act
	rec := f.do(t, http.MethodPost, "/loans", borrowBody(item.ID, borrower.ID), "")

	// assert
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	response := decode[httpapi.ErrorResponse](t, rec)
	assert.Equal(t, eligibility.RuleNotInGoodStanding, response.Rule)
	assert.Equal(t, "borrower not in good standing", response.Reason)
}

func Test_Server_Borrow_ErrorStatuses(t *testing.T) {
	f := givenFixture(t)
	item := f.givenItem(1, false)
	borrower := f.givenBorrower(ledger.StandingActive)

	testCases := []struct {
		name     string
		body     string
		expected int
	}{
		{name: "unknown item", body: borrowBody(uuid.New(), borrower.ID), expected: http.StatusNotFound},
		{name: "unknown borrower", body: borrowBody(item.ID, uuid.New()), expected: http.StatusNotFound},
		{name: "malformed json", body: "{", expected: http.StatusBadRequest},
		{name: "malformed id", body: `{"itemId":"nope","borrowerId":"nope"}`, expected: http.StatusBadRequest},
		{name: "missing ids", body: `{}`, expected: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			rec := f.do(t, http.MethodPost, "/loans", tc.body, "")

			// assert
			assert.Equal(t, tc.expected, rec.Code, rec.Body.String())
		})
	}
}

func Test_Server_Borrow_PersistenceFailureIsUnavailable(t *testing.T) {
	// arrange
	f := givenFixture(t)
	item := f.givenItem(1, false)
	borrower := f.givenBorrower(ledger.StandingActive)
	f.store.InjectFault(memory.OpCommit, errors.New("disk full"))

	// act
	rec := f.do(t, http.MethodPost, "/loans", borrowBody(item.ID, borrower.ID), "")

	// assert
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func Test_Server_Borrow_RetriesAConflict(t *testing.T) {
	// arrange
	f := givenFixture(t)
	item := f.givenItem(1, false)
	borrower := f.givenBorrower(ledger.StandingActive)
	f.store.InjectFault(memory.OpCommit, ledger.ErrConcurrencyConflict)

	// act
	rec := f.do(t, http.MethodPost, "/loans", borrowBody(item.ID, borrower.ID), "")

	// assert
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func Test_Server_Borrow_ExhaustedConflictIsConflict(t *testing.T) {
	// arrange
	f := givenFixture(t)
	item := f.givenItem(1, false)
	borrower := f.givenBorrower(ledger.StandingActive)
	f.store.InjectFault(memory.OpCommit, ledger.ErrConcurrencyConflict)
	f.store.InjectFault(memory.OpCommit, ledger.ErrConcurrencyConflict)

	// act
	rec := f.do(t, http.MethodPost, "/loans", borrowBody(item.ID, borrower.ID), "")

	// assert
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func Test_Server_Return_ClosesLoanOnce(t *testing.T) {
	// arrange
	f := givenFixture(t)
	opened := f.givenBorrowedLoan(t)
	*f.now = day0.AddDate(0, 0, 20)

	// act
	first := f.do(t, http.MethodPost, "/loans/"+opened.ID+"/return", "", "")
	second := f.do(t, http.MethodPost, "/loans/"+opened.ID+"/return", "", "")

	// assert
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	closed := decode[httpapi.LoanResponse](t, first)
	assert.Equal(t, string(ledger.LoanClosed), closed.State)
	require.NotNil(t, closed.ClosedOn)
	assert.Equal(t, "2025-03-21", *closed.ClosedOn)
	require.NotNil(t, closed.Fine)
	assert.Equal(t, "6.00", *closed.Fine)

	assert.Equal(t, http.StatusUnprocessableEntity, second.Code)
}

func Test_Server_Return_UnknownOrMalformedLoan(t *testing.T) {
	// arrange
	f := givenFixture(t)

	// act
	unknown := f.do(t, http.MethodPost, "/loans/"+uuid.NewString()+"/return", "", "")
	malformed := f.do(t, http.MethodPost, "/loans/not-a-uuid/return", "", "")

	// assert
	assert.Equal(t, http.StatusNotFound, unknown.Code)
	assert.Equal(t, http.StatusBadRequest, malformed.Code)
}

func Test_Server_GetLoan_ShowsDisplayStateBeforeSweep(t *testing.T) {
	// arrange
	f := givenFixture(t)
	opened := f.givenBorrowedLoan(t)
	*f.now = day0.AddDate(0, 0, 16)

	// act
	rec := f.do(t, http.MethodGet, "/loans/"+opened.ID, "", "")

	// assert
	require.Equal(t, http.StatusOK, rec.Code)
	response := decode[httpapi.LoanResponse](t, rec)
	assert.Equal(t, string(ledger.LoanOpen), response.State)
	assert.Equal(t, string(ledger.LoanOverdue), response.DisplayState)
}

func Test_Server_Sweep_TransitionsAndReminds(t *testing.T) {
	// arrange
	f := givenFixture(t)
	opened := f.givenBorrowedLoan(t)
	dueSoon := f.givenBorrowedLoanOn(t, day0.AddDate(0, 0, 3))

	// act
	rec := f.do(t, http.MethodPost, "/sweeps", `{"today":"2025-03-16"}`, "")
	overdue := f.do(t, http.MethodGet, "/loans/overdue", "", "")

	// assert
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	response := decode[httpapi.SweepResponse](t, rec)
	assert.Equal(t, "2025-03-16", response.Day)
	assert.Equal(t, 1, response.Transitioned)
	assert.Equal(t, 1, response.Reminded, "loan %s is due on 2025-03-18", dueSoon.ID)
	assert.Empty(t, response.Error)

	require.Equal(t, http.StatusOK, overdue.Code)
	loans := decode[[]httpapi.LoanResponse](t, overdue)
	require.Len(t, loans, 1)
	assert.Equal(t, opened.ID, loans[0].ID)
	require.NotNil(t, loans[0].Fine)
	assert.Equal(t, "1.00", *loans[0].Fine)
}

func Test_Server_Sweep_DefaultsToToday(t *testing.T) {
	// arrange
	f := givenFixture(t)
	f.givenBorrowedLoan(t)
	*f.now = day0.AddDate(0, 0, 15)

	// act
	rec := f.do(t, http.MethodPost, "/sweeps", "", "")

	// assert
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	response := decode[httpapi.SweepResponse](t, rec)
	assert.Equal(t, "2025-03-16", response.Day)
	assert.Equal(t, 1, response.Transitioned)
}

func Test_Server_BorrowerLoans_CurrentAndHistory(t *testing.T) {
	// arrange
	f := givenFixture(t)
	borrower := f.givenBorrower(ledger.StandingActive)
	first := f.borrow(t, f.givenItem(1, false).ID, borrower.ID)
	f.borrow(t, f.givenItem(1, false).ID, borrower.ID)
	returned := f.do(t, http.MethodPost, "/loans/"+first.ID+"/return", "", "")
	require.Equal(t, http.StatusOK, returned.Code)
	base := "/borrowers/" + borrower.ID.String() + "/loans"

	// act
	current := f.do(t, http.MethodGet, base, "", "")
	history := f.do(t, http.MethodGet, base+"?history=true", "", "")
	paged := f.do(t, http.MethodGet, base+"?history=true&limit=1&offset=5", "", "")
	badLimit := f.do(t, http.MethodGet, base+"?history=true&limit=-1", "", "")
	unknown := f.do(t, http.MethodGet, "/borrowers/"+uuid.NewString()+"/loans", "", "")

	// assert
	require.Equal(t, http.StatusOK, current.Code)
	assert.Len(t, decode[[]httpapi.LoanResponse](t, current), 1)

	require.Equal(t, http.StatusOK, history.Code)
	assert.Len(t, decode[[]httpapi.LoanResponse](t, history), 2)

	require.Equal(t, http.StatusOK, paged.Code)
	assert.Empty(t, decode[[]httpapi.LoanResponse](t, paged))

	assert.Equal(t, http.StatusBadRequest, badLimit.Code)
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func Test_Server_DailyActivity(t *testing.T) {
	// arrange
	f := givenFixture(t)
	opened := f.givenBorrowedLoan(t)
	returned := f.do(t, http.MethodPost, "/loans/"+opened.ID+"/return", "", "")
	require.Equal(t, http.StatusOK, returned.Code)

	// act
	rec := f.do(t, http.MethodGet, "/activity/2025-03-01", "", "")
	malformed := f.do(t, http.MethodGet, "/activity/yesterday", "", "")

	// assert
	require.Equal(t, http.StatusOK, rec.Code)
	response := decode[httpapi.ActivityResponse](t, rec)
	assert.Equal(t, httpapi.ActivityResponse{Day: "2025-03-01", Opened: 1, Closed: 1}, response)
	assert.Equal(t, http.StatusBadRequest, malformed.Code)
}

func Test_Server_HealthAndMetrics(t *testing.T) {
	// arrange
	f := givenFixture(t)

	// act
	health := f.do(t, http.MethodGet, "/health", "", "")
	metrics := f.do(t, http.MethodGet, "/metrics", "", "")

	// assert
	assert.Equal(t, http.StatusOK, health.Code)
	assert.JSONEq(t, `{"status":"ok"}`, health.Body.String())
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "go_goroutines")
}

func Test_NewServer_InvalidOptions(t *testing.T) {
	_, err := httpapi.NewServer(nil)
	assert.ErrorIs(t, err, httpapi.ErrNilLedger)

	e, err := engine.NewEngine(memory.NewStore())
	require.NoError(t, err)

	_, err = httpapi.NewServer(e, httpapi.WithRequestTimeout(0))
	assert.ErrorIs(t, err, httpapi.ErrInvalidRequestTimeout)
}

func givenFixture(t *testing.T) fixture {
	t.Helper()

	now := day0.Add(9 * time.Hour)
	f := fixture{
		store: memory.NewStore(),
		audit: helper.NewEmitterRecorder[audit.Record](),
		now:   &now,
	}

	e, err := engine.NewEngine(f.store,
		engine.WithClock(func() time.Time { return *f.now }),
		engine.WithAudit(f.audit),
	)
	require.NoError(t, err)

	sweeper, err := sweep.NewSweeper(f.store, e)
	require.NoError(t, err)

	metrics := observability.NewPrometheusMetrics()

	server, err := httpapi.NewServer(e,
		httpapi.WithSweeps(sweeper),
		httpapi.WithMetricsHandler(metrics.Handler()),
		httpapi.WithMetrics(metrics),
		httpapi.WithRetryOptions(retry.WithMaxAttempts(2), retry.WithBaseDelay(0)),
	)
	require.NoError(t, err)
	f.server = server.Handler()

	return f
}

func (f fixture) givenItem(copies int, restricted bool) ledger.Item {
	return f.store.PutItem(ledger.Item{
		ID: uuid.New(), Title: "Invisible Cities", TotalCopies: copies, AvailableCopies: copies, Restricted: restricted,
	})
}

func (f fixture) givenBorrower(standing ledger.Standing) ledger.Borrower {
	return f.store.PutBorrower(ledger.Borrower{ID: uuid.New(), Name: "Marco", Contact: "marco@example.org", Standing: standing})
}

func (f fixture) givenBorrowedLoan(t *testing.T) httpapi.LoanResponse {
	t.Helper()

	return f.borrow(t, f.givenItem(1, false).ID, f.givenBorrower(ledger.StandingActive).ID)
}

// givenBorrowedLoanOn borrows on openedOn and restores the clock afterward.
func (f fixture) givenBorrowedLoanOn(t *testing.T, openedOn time.Time) httpapi.LoanResponse {
	t.Helper()

	previous := *f.now
	*f.now = openedOn
	defer func() { *f.now = previous }()

	return f.givenBorrowedLoan(t)
}

func (f fixture) borrow(t *testing.T, itemID, borrowerID uuid.UUID) httpapi.LoanResponse {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/loans", borrowBody(itemID, borrowerID), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	return decode[httpapi.LoanResponse](t, rec)
}

func (f fixture) do(t *testing.T, method, path, body, actor string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(httpapi.HeaderActor, actor)
	}

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	return rec
}

func borrowBody(itemID, borrowerID uuid.UUID) string {
	return `{"itemId":"` + itemID.String() + `","borrowerId":"` + borrowerID.String() + `"}`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}
