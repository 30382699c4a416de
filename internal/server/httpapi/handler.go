// Package httpapi serves the circulation operations as a JSON API over
// gorilla/mux.
package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/circulation/internal/common"
	"github.com/dmitrijs2005/circulation/internal/logging"
	"github.com/dmitrijs2005/circulation/internal/server/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MsgCheckedOut is returned with a successful checkout.
const MsgCheckedOut = "Book checked out successfully."

type Circulation interface {
	Checkout(ctx context.Context, isbn, cardID string) (*models.CheckoutResult, error)
	CheckIn(ctx context.Context, loanIDs []int64) ([]models.CheckInResult, error)
	SearchActiveLoans(ctx context.Context, term string) ([]models.ActiveLoan, error)
	BorrowerLoans(ctx context.Context, cardID string) ([]models.BorrowerLoan, error)
}

type Fines interface {
	Reconcile(ctx context.Context) (*models.ReconcileResult, error)
	PayAll(ctx context.Context, cardID string) (*models.PaymentResult, error)
	ListByBorrower(ctx context.Context, includePaid bool) ([]models.BorrowerFines, error)
	UnpaidTotal(ctx context.Context, cardID string) (decimal.Decimal, error)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	circ   Circulation
	fines  Fines
	db     Pinger
	logger logging.Logger
}

func NewHandler(c Circulation, f Fines, db Pinger, l logging.Logger) *Handler {
	return &Handler{circ: c, fines: f, db: db, logger: l.With("module", "http_api")}
}

// Routes builds the router with request-id and access-log middleware.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestIDMiddleware, h.loggingMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/checkout", h.Checkout).Methods(http.MethodPost)
	api.HandleFunc("/checkin", h.SearchActive).Methods(http.MethodGet)
	api.HandleFunc("/checkin", h.CheckIn).Methods(http.MethodPost)
	api.HandleFunc("/borrowers/{cardId}/loans", h.BorrowerLoans).Methods(http.MethodGet)
	api.HandleFunc("/borrowers/{cardId}/fines/total", h.UnpaidTotal).Methods(http.MethodGet)
	api.HandleFunc("/fines", h.ListFines).Methods(http.MethodGet)
	api.HandleFunc("/fines/update", h.Reconcile).Methods(http.MethodPost)
	api.HandleFunc("/fines/pay", h.PayAll).Methods(http.MethodPost)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	return r
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	res, err := h.circ.Checkout(r.Context(), req.ISBN, req.CardID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, checkoutResponse{
		LoanID:  res.LoanID,
		DueDate: formatDate(res.DueDate),
		Message: MsgCheckedOut,
	})
}

func (h *Handler) SearchActive(w http.ResponseWriter, r *http.Request) {
	loans, err := h.circ.SearchActiveLoans(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toActiveLoans(loans))
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	results, err := h.circ.CheckIn(r.Context(), req.LoanIDs)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCheckInResults(results))
}

func (h *Handler) BorrowerLoans(w http.ResponseWriter, r *http.Request) {
	cardID := mux.Vars(r)["cardId"]

	loans, err := h.circ.BorrowerLoans(r.Context(), cardID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Data: toBorrowerLoans(loans)})
}

func (h *Handler) UnpaidTotal(w http.ResponseWriter, r *http.Request) {
	cardID := mux.Vars(r)["cardId"]

	total, err := h.fines.UnpaidTotal(r.Context(), cardID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, totalResponse{CardID: cardID, Total: total.StringFixed(2)})
}

func (h *Handler) ListFines(w http.ResponseWriter, r *http.Request) {
	includePaid := false
	if v := r.URL.Query().Get("includePaid"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "includePaid must be a boolean")
			return
		}
		includePaid = b
	}

	groups, err := h.fines.ListByBorrower(r.Context(), includePaid)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Data: toBorrowerFines(groups)})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.fines.Reconcile(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Result: reconcileResponse{
		Inserted:    res.Inserted,
		Updated:     res.Updated,
		SkippedPaid: res.SkippedPaid,
	}})
}

func (h *Handler) PayAll(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	res, err := h.fines.PayAll(r.Context(), req.CardID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Result: paymentResponse{PaidCount: res.PaidCount}})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.Warn(r.Context(), "health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, envelope{Success: false, Error: message})
}

// respondServiceError maps domain errors to status codes. Messages of
// unclassified errors are logged and replaced.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case common.IsInvalidInput(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case common.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case common.IsBusinessRule(err):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
