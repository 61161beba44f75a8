/**
 * @description
 * Domain models for the spark economy: the platform's internal engagement
 * currency. Sparks never convert to money; they are earned through activity
 * and spent on platform features.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Spark transaction type values. Positive amounts for earn types, negative
// for spend and transfer_send.
const (
	SparkTypeDailyReward      = "daily_reward"
	SparkTypeProjectCompleted = "project_completed"
	SparkTypeReferral         = "referral"
	SparkTypeSpend            = "spend"
	SparkTypeBonus            = "bonus"
	SparkTypePurchase         = "purchase"
	SparkTypeTransferSend     = "transfer_send"
	SparkTypeTransferReceive  = "transfer_receive"
)

// Standard earn amounts.
const (
	DailyRewardSparks = 10
	ReferralSparks    = 25
)

// SparkTransaction is one append-only row in the spark ledger. balance_after
// snapshots the user's spark balance as of this row.
type SparkTransaction struct {
	ID           uuid.UUID              `json:"id"`
	UserID       uuid.UUID              `json:"user_id"`
	Type         string                 `json:"type"`
	Amount       int64                  `json:"amount"` // signed
	BalanceAfter int64                  `json:"balance_after"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// SparkBalance is the denormalized balance read straight off the user record.
type SparkBalance struct {
	UserID              uuid.UUID  `json:"user_id"`
	Sparks              int64      `json:"sparks"`
	LastRewardClaimedAt *time.Time `json:"last_reward_claimed_at,omitempty"`
}

// SpendSparksRequest is the DTO for spending sparks on a platform feature.
type SpendSparksRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// TransferSparksRequest is the DTO for gifting sparks to another user by email.
type TransferSparksRequest struct {
	RecipientEmail string `json:"recipient_email"`
	Amount         int64  `json:"amount"`
}

// TransferSparksResult reports both sides of a completed transfer.
type TransferSparksResult struct {
	SenderBalance    int64     `json:"sender_balance"`
	RecipientID      uuid.UUID `json:"recipient_id"`
	RecipientBalance int64     `json:"recipient_balance"`
	Amount           int64     `json:"amount"`
}

// SparkStats aggregates a user's spark ledger for profile display.
type SparkStats struct {
	Balance     int64 `json:"balance"`
	TotalEarned int64 `json:"total_earned"`
	TotalSpent  int64 `json:"total_spent"`
	// RewardStreak counts consecutive calendar days ending today (or yesterday
	// if today's reward is unclaimed) with a daily_reward row.
	RewardStreak int `json:"reward_streak"`
}

// SparkReconciliation reports drift between the denormalized spark counter on
// the user record and a replay of the user's spark ledger.
type SparkReconciliation struct {
	UserID         uuid.UUID `json:"user_id"`
	StoredSparks   int64     `json:"stored_sparks"`
	ReplayedSparks int64     `json:"replayed_sparks"`
	LedgerRows     int       `json:"ledger_rows"`
	Consistent     bool      `json:"consistent"`
}

// SparkListOptions controls pagination for spark ledger history.
type SparkListOptions struct {
	Limit  int
	Offset int
	Type   string
}
