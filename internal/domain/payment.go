/**
 * @description
 * This file defines the core payment and wallet domain models for the ledger-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (kobo), which avoids floating-point inaccuracies with financial data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment status values. A payment is created 'pending', may pass through
// 'processing' while a verification is in flight, and lands on exactly one
// of 'completed' or 'failed'.
const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
)

// Payment type values.
const (
	PaymentTypeJobVerification = "job_verification"
	PaymentTypeProjectFunding  = "project_funding"
	PaymentTypeSubscription    = "subscription"
)

// Escrow status values tracked on a payment.
const (
	EscrowStatusNone     = "none"
	EscrowStatusHeld     = "held"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
)

// Ledger transaction type values.
const (
	TransactionTypePaymentSent     = "payment_sent"
	TransactionTypePaymentReceived = "payment_received"
	TransactionTypeWithdrawal      = "withdrawal"
	TransactionTypeRefund          = "refund"
)

// Payment represents a single gateway-backed payment intent and its lifecycle.
// This struct maps directly to the `payments` table in the database.
type Payment struct {
	ID               uuid.UUID  `json:"id"`
	PayerID          uuid.UUID  `json:"payer_id"`
	PayeeID          *uuid.UUID `json:"payee_id,omitempty"`
	Amount           int64      `json:"amount"`       // in kobo
	PlatformFee      int64      `json:"platform_fee"` // in kobo
	NetAmount        int64      `json:"net_amount"`   // in kobo, amount - platform_fee
	Currency         string     `json:"currency"`
	PaymentType      string     `json:"payment_type"`
	Status           string     `json:"status"`
	EscrowStatus     string     `json:"escrow_status"`
	JobID            *uuid.UUID `json:"job_id,omitempty"`
	ProjectID        *uuid.UUID `json:"project_id,omitempty"`
	GatewayReference string     `json:"gateway_reference"`
	GatewayResponse  []byte     `json:"-"` // raw verification payload, stored as jsonb
	FailureReason    *string    `json:"failure_reason,omitempty"`
	SubscriptionTier *string    `json:"subscription_tier,omitempty"`
	DurationMonths   *int       `json:"duration_months,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	ReleasedAt       *time.Time `json:"released_at,omitempty"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Wallet represents a user's internal balance account. One wallet per user,
// created lazily on first use.
type Wallet struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Balance       int64     `json:"balance"`        // in kobo, includes escrowed funds
	EscrowBalance int64     `json:"escrow_balance"` // in kobo, subset of balance still held
	TotalEarned   int64     `json:"total_earned"`   // in kobo, lifetime released earnings
	TotalSpent    int64     `json:"total_spent"`    // in kobo, lifetime spend
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AvailableBalance is the portion of the wallet spendable right now.
func (w *Wallet) AvailableBalance() int64 {
	return w.Balance - w.EscrowBalance
}

// Transaction is one append-only ledger row recording a wallet movement.
// balance_before/balance_after snapshot the affected running dimension so the
// ledger can be replayed and audited without reading the wallet.
type Transaction struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	Type          string     `json:"type"`
	Amount        int64      `json:"amount"` // in kobo, signed
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	PaymentID     *uuid.UUID `json:"payment_id,omitempty"`
	ProjectID     *uuid.UUID `json:"project_id,omitempty"`
	BalanceBefore int64      `json:"balance_before"`
	BalanceAfter  int64      `json:"balance_after"`
	Description   string     `json:"description"`
	CreatedAt     time.Time  `json:"created_at"`
}

// InitializeJobVerificationRequest is the DTO for starting a job verification payment.
type InitializeJobVerificationRequest struct {
	JobID       uuid.UUID `json:"job_id"`
	Amount      int64     `json:"amount"` // in kobo
	Description string    `json:"description"`
}

// InitializeProjectFundingRequest is the DTO for starting a milestone/project escrow payment.
type InitializeProjectFundingRequest struct {
	ProjectID   uuid.UUID `json:"project_id"`
	PayeeID     uuid.UUID `json:"payee_id"`
	Amount      int64     `json:"amount"` // in kobo
	Description string    `json:"description"`
}

// InitializePaymentResponse is returned after a hosted checkout session is created.
type InitializePaymentResponse struct {
	PaymentID        uuid.UUID `json:"payment_id"`
	GatewayReference string    `json:"gateway_reference"`
	AuthorizationURL string    `json:"authorization_url"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
}

// VerifyPaymentRequest is the DTO for confirming a payment after checkout redirect.
type VerifyPaymentRequest struct {
	Reference            string `json:"reference"`
	GatewayTransactionID string `json:"transaction_id"`
}

// RefundPaymentRequest carries the optional reason for a refund.
type RefundPaymentRequest struct {
	Reason string `json:"reason"`
}

// WithdrawalRequest is the DTO for moving spendable balance out of the wallet.
type WithdrawalRequest struct {
	Amount int64 `json:"amount"` // in kobo
}

// PaymentListOptions controls pagination and filtering for payment history.
type PaymentListOptions struct {
	Limit       int
	Offset      int
	Status      string
	PaymentType string
}

// TransactionListOptions controls pagination for ledger history.
type TransactionListOptions struct {
	Limit  int
	Offset int
	Type   string
}

// PaymentStats summarizes platform-wide payment state for admin dashboards.
type PaymentStats struct {
	CompletedCount  int64 `json:"completed_count"`
	CompletedVolume int64 `json:"completed_volume"` // in kobo
	PendingCount    int64 `json:"pending_count"`
	FailedCount     int64 `json:"failed_count"`
	EscrowHeld      int64 `json:"escrow_held"` // in kobo, sum of net amounts currently held
	TotalFees       int64 `json:"total_fees"`  // in kobo
}

// WalletReconciliation reports drift between stored wallet counters and a
// replay of the user's transaction ledger.
type WalletReconciliation struct {
	UserID             uuid.UUID `json:"user_id"`
	StoredBalance      int64     `json:"stored_balance"`
	ReplayedBalance    int64     `json:"replayed_balance"`
	StoredTotalSpent   int64     `json:"stored_total_spent"`
	ReplayedTotalSpent int64     `json:"replayed_total_spent"`
	LedgerRows         int       `json:"ledger_rows"`
	Consistent         bool      `json:"consistent"`
}
