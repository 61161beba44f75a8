/**
 * @description
 * Flutterwave webhook handler. The webhook is a hint, not a source of truth:
 * on receipt the payment is re-verified against the gateway through the same
 * idempotent path the client-side redirect uses, so a spoofed or duplicated
 * webhook can never move funds.
 */

package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/connecta/ledger-service/internal/app"
	"github.com/connecta/ledger-service/internal/domain"
	"github.com/connecta/ledger-service/internal/store"
	"github.com/google/uuid"
)

type flutterwaveWebhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID     json.Number `json:"id"`
		TxRef  string      `json:"tx_ref"`
		Status string      `json:"status"`
	} `json:"data"`
}

// FlutterwaveWebhookHandler processes charge notifications. Flutterwave echoes
// the configured secret in the verif-hash header; anything else is rejected.
func (h *LedgerHandlers) FlutterwaveWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if h.webhookHash == "" {
		log.Printf("level=warn component=api endpoint=flutterwave_webhook outcome=reject reason=webhook_hash_unconfigured")
		h.writeError(w, http.StatusForbidden, "Webhook not configured")
		return
	}
	provided := r.Header.Get("verif-hash")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.webhookHash)) != 1 {
		log.Printf("level=warn component=api endpoint=flutterwave_webhook outcome=reject reason=invalid_hash")
		h.writeError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	var payload flutterwaveWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("level=warn component=api endpoint=flutterwave_webhook outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if payload.Event != "charge.completed" || payload.Data.TxRef == "" {
		// Acknowledge uninteresting events so the gateway stops retrying them.
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	transactionID := ""
	if id, err := payload.Data.ID.Int64(); err == nil && id > 0 {
		transactionID = strconv.FormatInt(id, 10)
	}

	// uuid.Nil skips the ownership check: webhooks carry no caller identity.
	_, err := h.service.VerifyPayment(r.Context(), uuid.Nil, domain.VerifyPaymentRequest{
		Reference:            payload.Data.TxRef,
		GatewayTransactionID: transactionID,
	})
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
	case errors.Is(err, app.ErrGatewayUnavailable):
		// 5xx makes Flutterwave redeliver; nothing was recorded.
		log.Printf("level=warn component=api endpoint=flutterwave_webhook outcome=retryable tx_ref=%s err=%v", payload.Data.TxRef, err)
		h.writeError(w, http.StatusServiceUnavailable, "Verification temporarily unavailable")
	case errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, app.ErrVerificationFailed),
		errors.Is(err, app.ErrUnderpaid):
		// Terminal outcomes are acknowledged so the gateway does not retry.
		log.Printf("level=warn component=api endpoint=flutterwave_webhook outcome=terminal tx_ref=%s err=%v", payload.Data.TxRef, err)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	default:
		log.Printf("level=error component=api endpoint=flutterwave_webhook outcome=failed tx_ref=%s err=%v", payload.Data.TxRef, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
