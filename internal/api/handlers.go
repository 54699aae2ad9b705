/**
 * @description
 * HTTP handlers for the wallet service. Thin layer: decode, authenticate,
 * call the app service, map sentinel errors onto status codes.
 *
 * @dependencies
 * - net/http, encoding/json: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: application core.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vendapay/wallet-service/internal/app"
	"github.com/vendapay/wallet-service/internal/domain"
	"github.com/vendapay/wallet-service/internal/store"
)

// WalletHandlers bundles the HTTP handlers around the app service.
type WalletHandlers struct {
	service           *app.Service
	paystackSecretKey string
}

// NewWalletHandlers creates the handler set.
func NewWalletHandlers(service *app.Service, paystackSecretKey string) *WalletHandlers {
	return &WalletHandlers{service: service, paystackSecretKey: paystackSecretKey}
}

func (h *WalletHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *WalletHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps sentinel errors from the app and store layers onto
// HTTP status codes.
func (h *WalletHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusBadRequest, "Insufficient available balance.")
	case errors.Is(err, app.ErrPINNotSet):
		h.writeError(w, http.StatusPreconditionFailed, "Transaction PIN is not set. Please create your PIN first.")
	case errors.Is(err, app.ErrPINLocked):
		h.writeError(w, http.StatusLocked, "Too many incorrect PIN attempts. Please wait and try again.")
	case errors.Is(err, app.ErrInvalidPIN):
		h.writeError(w, http.StatusUnauthorized, "Invalid transaction PIN.")
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many requests. Please slow down.")
	case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrInvalidService):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrGroupForbidden):
		h.writeError(w, http.StatusForbidden, "Your group role does not permit this operation.")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrWalletNotFound), errors.Is(err, store.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "Not found.")
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}

func (h *WalletHandlers) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	return id, true
}

// FundWalletHandler opens a gateway checkout session for a deposit.
func (h *WalletHandlers) FundWalletHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req domain.FundWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := h.service.InitiateFunding(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// PaystackWebhookHandler verifies and applies one gateway webhook delivery.
// Unauthenticated: trust comes from the HMAC-SHA512 signature over the raw
// body, compared in constant time.
func (h *WalletHandlers) PaystackWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Unable to read body")
		return
	}

	signature := r.Header.Get("X-Paystack-Signature")
	mac := hmac.New(sha512.New, []byte(h.paystackSecretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if signature == "" || !hmac.Equal([]byte(signature), []byte(expected)) {
		log.Printf("level=warn component=api op=webhook msg=\"signature verification failed\"")
		h.writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var event app.PaystackWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	if err := h.service.ProcessDepositWebhook(r.Context(), event); err != nil {
		// Transient fault: let the gateway redeliver.
		h.writeError(w, http.StatusInternalServerError, "Temporary processing failure")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetBalanceHandler returns the caller's available and locked balances.
func (h *WalletHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// ListTransactionsHandler returns the caller's ledger entries, newest first.
func (h *WalletHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	entries, err := h.service.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// SetPINHandler creates or replaces the caller's transaction PIN.
func (h *WalletHandlers) SetPINHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.service.SetTransactionPIN(r.Context(), userID, req.PIN); err != nil {
		if errors.Is(err, app.ErrInvalidPIN) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "pin set"})
}

// CreateAutoTopUpHandler creates a recurring top-up schedule.
func (h *WalletHandlers) CreateAutoTopUpHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req domain.CreateAutoTopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sched, err := h.service.CreateAutoTopUp(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sched)
}

// ListAutoTopUpsHandler lists the caller's schedules.
func (h *WalletHandlers) ListAutoTopUpsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	schedules, err := h.service.ListSchedules(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if schedules == nil {
		schedules = []domain.AutoTopUp{}
	}
	h.writeJSON(w, http.StatusOK, schedules)
}

func (h *WalletHandlers) scheduleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid schedule id")
		return uuid.Nil, false
	}
	return id, true
}

// CancelAutoTopUpHandler deactivates a schedule and returns its held funds.
func (h *WalletHandlers) CancelAutoTopUpHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.scheduleID(w, r)
	if !ok {
		return
	}
	sched, err := h.service.CancelSchedule(r.Context(), id, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sched)
}

// ReactivateAutoTopUpHandler turns a deactivated schedule back on.
func (h *WalletHandlers) ReactivateAutoTopUpHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.scheduleID(w, r)
	if !ok {
		return
	}
	sched, err := h.service.ReactivateSchedule(r.Context(), id, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sched)
}

// DeleteAutoTopUpHandler removes a schedule.
func (h *WalletHandlers) DeleteAutoTopUpHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.scheduleID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteSchedule(r.Context(), id, userID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateGroupHandler creates a group owned by the caller.
func (h *WalletHandlers) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req domain.CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := h.service.CreateGroup(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// GetGroupHandler returns a group visible to one of its members.
func (h *WalletHandlers) GetGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid group id")
		return
	}
	resp, err := h.service.GetGroup(r.Context(), id, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CreateGroupPaymentHandler runs a multi-wallet purchase end to end.
func (h *WalletHandlers) CreateGroupPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req domain.CreateGroupPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := h.service.CreateGroupPayment(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyGroup),
			errors.Is(err, domain.ErrBadPercentages),
			errors.Is(err, domain.ErrMissingPercentage),
			errors.Is(err, domain.ErrDuplicateMember):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.writeServiceError(w, err)
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// GetGroupPaymentHandler returns a payment visible to one of its members.
func (h *WalletHandlers) GetGroupPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment id")
		return
	}
	resp, err := h.service.GetGroupPaymentStatus(r.Context(), id, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// PurchaseHandler performs a single-wallet airtime or data purchase.
func (h *WalletHandlers) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	service := domain.ServiceKind(chi.URLParam(r, "service"))
	switch service {
	case "airtime":
		service = domain.ServiceAirtime
	case "data":
		service = domain.ServiceData
	}
	var req domain.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := h.service.Purchase(r.Context(), userID, service, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Classification == domain.ClassificationIndeterminate {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, resp)
}
