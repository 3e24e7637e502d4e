package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

type borrowRequest struct {
	ItemID     uuid.UUID `json:"itemId"`
	BorrowerID uuid.UUID `json:"borrowerId"`
}

type sweepRequest struct {
	Today string `json:"today"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	if req.ItemID == uuid.Nil || req.BorrowerID == uuid.Nil {
		writeBadRequest(w, "itemId and borrowerId are required")
		return
	}

	var opened ledger.Loan
	err := s.withRetry(r.Context(), operationBorrow, func(ctx context.Context) error {
		var err error
		opened, err = s.ledger.Borrow(ctx, req.ItemID, req.BorrowerID)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLoanResponse(opened, s.ledger.Today()))
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanID")
	if !ok {
		return
	}

	var closed ledger.Loan
	err := s.withRetry(r.Context(), operationReturn, func(ctx context.Context) error {
		var err error
		closed, err = s.ledger.Return(ctx, loanID)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanResponse(closed, s.ledger.Today()))
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loanID")
	if !ok {
		return
	}

	l, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanResponse(l, s.ledger.Today()))
}

// handleBorrowerLoans lists the current loans, or with ?history=true all loans newest first,
// paged by ?limit= and ?offset=.
func (s *Server) handleBorrowerLoans(w http.ResponseWriter, r *http.Request) {
	borrowerID, ok := pathID(w, r, "borrowerID")
	if !ok {
		return
	}

	history := false
	if raw := r.URL.Query().Get("history"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "history must be true or false")
			return
		}
		history = parsed
	}

	var loans []ledger.Loan
	var err error

	if history {
		limit, ok := queryInt(w, r, "limit")
		if !ok {
			return
		}

		offset, ok := queryInt(w, r, "offset")
		if !ok {
			return
		}

		loans, err = s.ledger.LoanHistory(r.Context(), borrowerID, limit, offset)
	} else {
		loans, err = s.ledger.CurrentLoans(r.Context(), borrowerID)
	}

	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanResponses(loans, s.ledger.Today()))
}

func (s *Server) handleOverdueLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.OverdueLoans(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanResponses(loans, s.ledger.Today()))
}

func (s *Server) handleDailyActivity(w http.ResponseWriter, r *http.Request) {
	day, err := ledger.ParseDay(chi.URLParam(r, "day"))
	if err != nil {
		writeBadRequest(w, "day must be formatted as YYYY-MM-DD")
		return
	}

	activity, err := s.ledger.DailyActivity(r.Context(), day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ActivityResponse{
		Day:    activity.Day.Format(dateLayout),
		Opened: activity.Opened,
		Closed: activity.Closed,
	})
}

// handleSweep runs the overdue sweep and then the due reminders for the requested day,
// or for today when the body is empty.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	today := s.ledger.Today()
	if req.Today != "" {
		parsed, err := ledger.ParseDay(req.Today)
		if err != nil {
			writeBadRequest(w, "today must be formatted as YYYY-MM-DD")
			return
		}
		today = parsed
	}

	transitioned, sweepErr := s.sweeps.RunOverdueSweep(r.Context(), today)
	reminded, remindErr := s.sweeps.SendDueReminders(r.Context(), today)

	response := SweepResponse{
		Day:          today.Format(dateLayout),
		Transitioned: transitioned,
		Reminded:     reminded,
	}

	if err := errors.Join(sweepErr, remindErr); err != nil {
		response.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, response)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeBadRequest(w, param+" must be a UUID")
		return uuid.Nil, false
	}

	return id, true
}

// queryInt parses an optional non-negative integer query parameter, 0 when absent.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}

	return value, true
}
