/**
 * @description
 * HTTP handlers for the spark economy endpoints: balance, daily reward,
 * spending, gifting, history and stats. Awarding sparks for platform events is
 * an internal endpoint called by other services.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/connecta/ledger-service/internal/domain"
	"github.com/google/uuid"
)

// GetSparkBalanceHandler returns the caller's spark balance.
func (h *LedgerHandlers) GetSparkBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetSparkBalance(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "get_spark_balance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// ClaimDailyRewardHandler credits the daily activity reward once per window.
func (h *LedgerHandlers) ClaimDailyRewardHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	row, err := h.service.ClaimDailyReward(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "claim_daily_reward", err)
		return
	}
	log.Printf("level=info component=api endpoint=claim_daily_reward outcome=claimed user_id=%s", userID)
	h.writeJSON(w, http.StatusCreated, row)
}

// SpendSparksHandler debits sparks for a platform feature.
func (h *LedgerHandlers) SpendSparksHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	var req domain.SpendSparksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	row, err := h.service.SpendSparks(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, "spend_sparks", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, row)
}

// TransferSparksHandler gifts sparks to another user resolved by email.
func (h *LedgerHandlers) TransferSparksHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	var req domain.TransferSparksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.TransferSparks(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, "transfer_sparks", err)
		return
	}
	log.Printf("level=info component=api endpoint=transfer_sparks outcome=transferred sender_id=%s amount=%d", userID, req.Amount)
	h.writeJSON(w, http.StatusCreated, result)
}

// SparkHistoryHandler returns a page of the caller's spark ledger.
func (h *LedgerHandlers) SparkHistoryHandler(w http.ResponseWriter, r *http.Request) {
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

	rows, err := h.service.ListSparkHistory(r.Context(), userID, domain.SparkListOptions{
		Limit:  limit,
		Offset: offset,
		Type:   strings.TrimSpace(r.URL.Query().Get("type")),
	})
	if err != nil {
		h.respondServiceError(w, "spark_history", err)
		return
	}
	if rows == nil {
		rows = []domain.SparkTransaction{}
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// SparkStatsHandler returns lifetime spark totals and the daily-reward streak.
func (h *LedgerHandlers) SparkStatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.GetSparkStats(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "spark_stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// AwardSparksHandler credits sparks for a platform event. This is an internal
// endpoint called by other services (project completion, referrals).
func (h *LedgerHandlers) AwardSparksHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      uuid.UUID              `json:"user_id"`
		Amount      int64                  `json:"amount"`
		Type        string                 `json:"type"`
		Description string                 `json:"description"`
		Metadata    map[string]interface{} `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	row, err := h.service.AwardSparks(r.Context(), req.UserID, req.Amount, req.Type, req.Description, req.Metadata)
	if err != nil {
		h.respondServiceError(w, "award_sparks", err)
		return
	}
	log.Printf("level=info component=api endpoint=award_sparks outcome=awarded user_id=%s type=%s amount=%d", req.UserID, req.Type, req.Amount)
	h.writeJSON(w, http.StatusCreated, row)
}
