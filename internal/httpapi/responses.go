package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/loan"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LoanResponse is the wire form of a loan.
// DisplayState shows an open loan past its due date as overdue before the sweep has run.
type LoanResponse struct {
	ID           string  `json:"id"`
	ItemID       string  `json:"itemId"`
	BorrowerID   string  `json:"borrowerId"`
	OpenedOn     string  `json:"openedOn"`
	DueOn        string  `json:"dueOn"`
	ClosedOn     *string `json:"closedOn,omitempty"`
	State        string  `json:"state"`
	DisplayState string  `json:"displayState"`
	Fine         *string `json:"fine,omitempty"`
}

// ErrorResponse is the body of every failed request. Rule and Reason are set for rejections.
type ErrorResponse struct {
	Error  string `json:"error"`
	Rule   string `json:"rule,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SweepResponse reports the outcome of POST /sweeps.
type SweepResponse struct {
	Day          string `json:"day"`
	Transitioned int    `json:"transitioned"`
	Reminded     int    `json:"reminded"`
	Error        string `json:"error,omitempty"`
}

// ActivityResponse reports the loans opened and closed on a day.
type ActivityResponse struct {
	Day    string `json:"day"`
	Opened int    `json:"opened"`
	Closed int    `json:"closed"`
}

func toLoanResponse(l ledger.Loan, today time.Time) LoanResponse {
	response := LoanResponse{
		ID:           l.ID.String(),
		ItemID:       l.ItemID.String(),
		BorrowerID:   l.BorrowerID.String(),
		OpenedOn:     l.OpenedOn.Format(dateLayout),
		DueOn:        l.DueOn.Format(dateLayout),
		State:        string(l.State),
		DisplayState: string(loan.DisplayState(l, today)),
	}

	if l.ClosedOn != nil {
		closedOn := l.ClosedOn.Format(dateLayout)
		response.ClosedOn = &closedOn
	}

	if l.Fine != nil {
		fine := l.Fine.StringFixed(2)
		response.Fine = &fine
	}

	return response
}

func toLoanResponses(loans []ledger.Loan, today time.Time) []LoanResponse {
	responses := make([]LoanResponse, 0, len(loans))
	for _, l := range loans {
		responses = append(responses, toLoanResponse(l, today))
	}

	return responses
}

// statusOf maps the ledger error taxonomy to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrIneligibleOperation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrPersistenceFailure),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	response := ErrorResponse{Error: err.Error()}

	if rejection, ok := ledger.AsRejection(err); ok {
		response.Rule = rejection.Rule
		response.Reason = rejection.Reason
	}

	if status >= http.StatusInternalServerError && s.logger != nil {
		s.logger.ErrorContext(
			r.Context(),
			logMsgRequestFailed,
			logAttrMethod, r.Method,
			logAttrPath, r.URL.Path,
			logAttrStatus, status,
			logAttrError, err.Error(),
			logAttrRequestID, middleware.GetReqID(r.Context()),
		)
	}

	writeJSON(w, status, response)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
