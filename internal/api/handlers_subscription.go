/**
 * @description
 * HTTP handlers for subscription entitlements: initializing and verifying
 * upgrade payments, reading the current entitlement and cancelling renewal.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/connecta/ledger-service/internal/domain"
)

// InitializeSubscriptionUpgradeHandler starts a subscription upgrade payment.
func (h *LedgerHandlers) InitializeSubscriptionUpgradeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	var req domain.InitializeUpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.service.InitializeSubscriptionUpgrade(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, "initialize_subscription_upgrade", err)
		return
	}
	log.Printf("level=info component=api endpoint=initialize_subscription_upgrade outcome=accepted user_id=%s tier=%s", userID, req.Tier)
	h.writeJSON(w, http.StatusCreated, resp)
}

// VerifySubscriptionUpgradeHandler confirms an upgrade payment and returns the
// resulting entitlement.
func (h *LedgerHandlers) VerifySubscriptionUpgradeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	var req domain.VerifyUpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub, err := h.service.VerifySubscriptionUpgrade(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, "verify_subscription_upgrade", err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

// GetSubscriptionHandler returns the caller's current entitlement.
func (h *LedgerHandlers) GetSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "get_subscription", err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

// CancelSubscriptionHandler stops renewal; access runs until the paid expiry.
func (h *LedgerHandlers) CancelSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.CancelSubscription(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "cancel_subscription", err)
		return
	}
	log.Printf("level=info component=api endpoint=cancel_subscription outcome=cancelled user_id=%s", userID)
	h.writeJSON(w, http.StatusOK, sub)
}
