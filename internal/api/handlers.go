/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's payment and
 * wallet endpoints. Handlers are responsible for parsing incoming requests,
 * calling the appropriate methods on the application service, and writing the
 * HTTP response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/connecta/ledger-service/internal/app"
	"github.com/connecta/ledger-service/internal/domain"
	"github.com/connecta/ledger-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service     *app.Service
	webhookHash string
}

// NewLedgerHandlers creates a new instance of LedgerHandlers. webhookHash is
// the shared secret Flutterwave echoes in the verif-hash header.
func NewLedgerHandlers(service *app.Service, webhookHash string) *LedgerHandlers {
	return &LedgerHandlers{service: service, webhookHash: webhookHash}
}

// requireUserID pulls the authenticated user out of the context; a missing ID
// means the auth middleware did not run, which is a server fault.
func (h *LedgerHandlers) requireUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	return userID, true
}

// respondServiceError maps service and store errors onto HTTP statuses. Every
// handler funnels unexpected errors through here so the taxonomy stays in one
// place.
func (h *LedgerHandlers) respondServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrWalletNotFound),
		errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrInsufficientSparks):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, store.ErrEscrowNotHeld),
		errors.Is(err, store.ErrRewardAlreadyClaimed):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrNotPaymentOwner):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrGatewayUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "Payment gateway is unavailable, please retry")
	case errors.Is(err, app.ErrUnderpaid),
		errors.Is(err, app.ErrVerificationFailed):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrSelfTransfer),
		errors.Is(err, app.ErrInvalidSparkType),
		errors.Is(err, app.ErrInvalidTier),
		errors.Is(err, app.ErrInvalidDuration):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// InitializeJobVerificationHandler starts a job verification fee payment.
func (h *LedgerHandlers) InitializeJobVerificationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	var req domain.InitializeJobVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=initialize_job_verification outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	resp, err := h.service.InitializeJobVerification(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, "initialize_job_verification", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// InitializeProjectFundingHandler starts an escrow payment for a project milestone.
func (h *LedgerHandlers) InitializeProjectFundingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	var req domain.InitializeProjectFundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=initialize_project_funding outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	resp, err := h.service.InitializeProjectFunding(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, "initialize_project_funding", err)
		return
	}

	log.Printf("level=info component=api endpoint=initialize_project_funding outcome=accepted payer_id=%s amount=%d", userID, req.Amount)
	h.writeJSON(w, http.StatusCreated, resp)
}

// VerifyPaymentHandler confirms a payment with the gateway after the checkout
// redirect. Safe to call repeatedly; a completed payment is returned as-is.
func (h *LedgerHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	var req domain.VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payment, err := h.service.VerifyPayment(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, "verify_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// GetPaymentHandler fetches a single payment visible to the caller.
func (h *LedgerHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment ID format")
		return
	}

	payment, err := h.service.GetPayment(r.Context(), userID, paymentID)
	if err != nil {
		h.respondServiceError(w, "get_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// ListPaymentsHandler returns the caller's payment history.
func (h *LedgerHandlers) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 20)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	payments, err := h.service.ListPayments(r.Context(), userID, domain.PaymentListOptions{
		Limit:       limit,
		Offset:      offset,
		Status:      strings.TrimSpace(r.URL.Query().Get("status")),
		PaymentType: strings.TrimSpace(r.URL.Query().Get("type")),
	})
	if err != nil {
		h.respondServiceError(w, "list_payments", err)
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	h.writeJSON(w, http.StatusOK, payments)
}

// ReleaseEscrowHandler releases a held payment to the payee. Payer only.
func (h *LedgerHandlers) ReleaseEscrowHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment ID format")
		return
	}

	payment, err := h.service.ReleaseEscrow(r.Context(), userID, paymentID)
	if err != nil {
		h.respondServiceError(w, "release_escrow", err)
		return
	}
	log.Printf("level=info component=api endpoint=release_escrow outcome=released payment_id=%s user_id=%s", paymentID, userID)
	h.writeJSON(w, http.StatusOK, payment)
}

// RefundPaymentHandler refunds a held payment back to the payer. Payer only.
func (h *LedgerHandlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment ID format")
		return
	}

	var req domain.RefundPaymentRequest
	if r.Body != nil {
		// The reason is optional; an empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	payment, err := h.service.RefundPayment(r.Context(), userID, paymentID, req.Reason)
	if err != nil {
		h.respondServiceError(w, "refund_payment", err)
		return
	}
	log.Printf("level=info component=api endpoint=refund_payment outcome=refunded payment_id=%s user_id=%s", paymentID, userID)
	h.writeJSON(w, http.StatusOK, payment)
}

// GetWalletHandler returns the caller's wallet, creating it on first read.
func (h *LedgerHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "get_wallet", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":            wallet,
		"available_balance": wallet.AvailableBalance(),
	})
}

// RequestWithdrawalHandler debits the caller's spendable balance.
func (h *LedgerHandlers) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	var req domain.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.service.RequestWithdrawal(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, "request_withdrawal", err)
		return
	}
	log.Printf("level=info component=api endpoint=request_withdrawal outcome=accepted user_id=%s amount=%d", userID, req.Amount)
	h.writeJSON(w, http.StatusCreated, tx)
}

// ListTransactionsHandler returns the caller's wallet ledger history.
func (h *LedgerHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 20)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	transactions, err := h.service.ListTransactions(r.Context(), userID, domain.TransactionListOptions{
		Limit:  limit,
		Offset: offset,
		Type:   strings.TrimSpace(r.URL.Query().Get("type")),
	})
	if err != nil {
		h.respondServiceError(w, "list_transactions", err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// ReconcileWalletHandler replays a user's ledger against the stored wallet
// counters. Internal endpoint for support and audit tooling.
func (h *LedgerHandlers) ReconcileWalletHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	result, err := h.service.ReconcileWallet(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "reconcile_wallet", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ReconcileSparksHandler replays a user's spark ledger against the stored
// counter. Internal endpoint for support and audit tooling.
func (h *LedgerHandlers) ReconcileSparksHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	result, err := h.service.ReconcileSparks(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "reconcile_sparks", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// PaymentStatsHandler returns platform-wide payment aggregates. Internal endpoint.
func (h *LedgerHandlers) PaymentStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetPaymentStats(r.Context())
	if err != nil {
		h.respondServiceError(w, "payment_stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// parseOptionalInt parses a non-negative integer query parameter, falling back
// to def when the value is empty.
func parseOptionalInt(value string, def int) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def, nil
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", value)
	}
	return n, nil
}
