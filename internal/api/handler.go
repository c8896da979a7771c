// Package api exposes the ledger over HTTP. It maps the service's error
// taxonomy onto status codes: validation failures become 400 with a
// field-keyed error map, lock conflicts become retryable 409s, storage
// failures 500s.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nvp85/payments-api/internal/domain"
	"github.com/nvp85/payments-api/internal/service"
	"github.com/nvp85/payments-api/internal/store"
)

type Handler struct {
	store     store.Store
	transfers *service.TransferService
	logger    *slog.Logger
}

func NewHandler(s store.Store, transfers *service.TransferService, logger *slog.Logger) *Handler {
	return &Handler{store: s, transfers: transfers, logger: logger}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createUserRequest struct {
	Username string `json:"username"`
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Username == "" {
		respondWithError(w, http.StatusBadRequest, "Username is required")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, domain.ErrUsernameTaken) {
			respondWithError(w, http.StatusConflict, "Username already taken")
			return
		}
		h.internalError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, user)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, users)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.internalError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	switch err := h.store.DeleteUser(r.Context(), id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrUserNotFound):
		respondWithError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, domain.ErrUserHasAccounts):
		respondWithError(w, http.StatusConflict, "User still owns accounts")
	default:
		h.internalError(w, r, err)
	}
}

type createAccountRequest struct {
	OwnerID  int64  `json:"owner_id"`
	Currency string `json:"balance_currency"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	account, err := h.store.CreateAccount(r.Context(), req.OwnerID, req.Currency)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			respondWithError(w, http.StatusBadRequest, "Owner does not exist")
			return
		}
		h.internalError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, account)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, accounts)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	account, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.internalError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	switch err := h.store.DeleteAccount(r.Context(), id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrAccountNotFound):
		respondWithError(w, http.StatusNotFound, "Account not found")
	default:
		h.internalError(w, r, err)
	}
}

// amountField accepts the amount as either a JSON number or a quoted decimal
// string; the service parses and validates the value either way.
type amountField string

func (a *amountField) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*a = amountField(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = amountField(s)
	return nil
}

// createPaymentRequest mirrors the transfer entry point: optional account
// ids, a decimal amount and its explicit currency.
type createPaymentRequest struct {
	FromAccount *int64      `json:"from_account"`
	ToAccount   *int64      `json:"to_account"`
	Amount      amountField `json:"amount"`
	Currency    string      `json:"amount_currency"`
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	payment, err := h.transfers.CreateTransfer(r.Context(), service.TransferRequest{
		FromAccountID: req.FromAccount,
		ToAccountID:   req.ToAccount,
		Amount:        string(req.Amount),
		Currency:      req.Currency,
	})
	if err != nil {
		var verrs domain.ValidationErrors
		var conflict *domain.ConcurrencyError
		switch {
		case errors.As(err, &verrs):
			respondWithJSON(w, http.StatusBadRequest, map[string]any{"errors": verrs})
		case errors.As(err, &conflict):
			respondWithJSON(w, http.StatusConflict, map[string]any{
				"error":     "Concurrent transfer conflict, retry the request",
				"retryable": true,
			})
		default:
			h.internalError(w, r, err)
		}
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%d", payment.ID))
	respondWithJSON(w, http.StatusCreated, payment)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.store.ListPayments(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payments)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payment, err := h.store.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			respondWithError(w, http.StatusNotFound, "Payment not found")
			return
		}
		h.internalError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payment)
}

func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	switch err := h.store.DeletePayment(r.Context(), id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrPaymentNotFound):
		respondWithError(w, http.StatusNotFound, "Payment not found")
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
