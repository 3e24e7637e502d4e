package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/retry"
)

// HeaderActor carries the identity of the caller, as established by the authentication layer.
const HeaderActor = "X-Actor"

const defaultRequestTimeout = 30 * time.Second

const dateLayout = time.DateOnly

const (
	operationBorrow = "borrow"
	operationReturn = "return"
)

const (
	logMsgRequestFailed = "request failed"
	logAttrMethod       = "method"
	logAttrPath         = "path"
	logAttrStatus       = "status"
	logAttrError        = "error"
	logAttrRequestID    = "request_id"
)

// Ledger is what the HTTP surface needs from the engine.
type Ledger interface {
	Today() time.Time
	Borrow(ctx context.Context, itemID, borrowerID uuid.UUID) (ledger.Loan, error)
	Return(ctx context.Context, loanID uuid.UUID) (ledger.Loan, error)
	GetLoan(ctx context.Context, loanID uuid.UUID) (ledger.Loan, error)
	CurrentLoans(ctx context.Context, borrowerID uuid.UUID) ([]ledger.Loan, error)
	LoanHistory(ctx context.Context, borrowerID uuid.UUID, limit, offset int) ([]ledger.Loan, error)
	OverdueLoans(ctx context.Context) ([]ledger.Loan, error)
	DailyActivity(ctx context.Context, day time.Time) (engine.Activity, error)
}

// Sweeps triggers the daily passes on demand.
type Sweeps interface {
	RunOverdueSweep(ctx context.Context, today time.Time) (int, error)
	SendDueReminders(ctx context.Context, today time.Time) (int, error)
}

// ErrNilLedger is returned when NewServer is called without a ledger.
var ErrNilLedger = errors.New("ledger must not be nil")

// Server is the HTTP API of the lending ledger.
type Server struct {
	ledger         Ledger
	sweeps         Sweeps
	metricsHandler http.Handler
	retryOptions   []retry.Option
	requestTimeout time.Duration

	logger  ledger.ContextualLogger
	metrics ledger.MetricsCollector
}

// NewServer creates a Server on top of l.
func NewServer(l Ledger, options ...Option) (*Server, error) {
	if l == nil {
		return nil, ErrNilLedger
	}

	s := &Server{
		ledger:         l,
		requestTimeout: defaultRequestTimeout,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(actorMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/loans", func(r chi.Router) {
		r.Post("/", s.handleBorrow)
		r.Get("/overdue", s.handleOverdueLoans)
		r.Get("/{loanID}", s.handleGetLoan)
		r.Post("/{loanID}/return", s.handleReturn)
	})

	r.Get("/borrowers/{borrowerID}/loans", s.handleBorrowerLoans)
	r.Get("/activity/{day}", s.handleDailyActivity)

	if s.sweeps != nil {
		r.Post("/sweeps", s.handleSweep)
	}

	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}

	return r
}

// actorMiddleware puts the X-Actor header into the request context.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get(HeaderActor); actor != "" {
			r = r.WithContext(ledger.WithActor(r.Context(), actor))
		}

		next.ServeHTTP(w, r)
	})
}

// withRetry runs fn until it no longer hits a concurrency conflict, as configured.
func (s *Server) withRetry(ctx context.Context, operation string, fn retry.Func) error {
	options := s.retryOptions
	if s.metrics != nil {
		options = append(options[:len(options):len(options)], retry.WithMetrics(s.metrics, operation))
	}

	_, err := retry.Do(ctx, fn, options...)

	return err
}
