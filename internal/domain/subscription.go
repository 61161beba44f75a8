/**
 * @description
 * Domain models for subscription entitlements. Tier pricing lives here so
 * both the upgrade initializer and the verifier derive charges from the same
 * table rather than trusting client- or gateway-supplied values.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tier values.
const (
	SubscriptionTierFree       = "free"
	SubscriptionTierPremium    = "premium"
	SubscriptionTierEnterprise = "enterprise"
)

// Subscription status values.
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Monthly tier prices in kobo.
var SubscriptionTierPrices = map[string]int64{
	SubscriptionTierPremium:    500000,
	SubscriptionTierEnterprise: 2000000,
}

// SubscriptionTierPrice returns the monthly price for a paid tier.
func SubscriptionTierPrice(tier string) (int64, bool) {
	price, ok := SubscriptionTierPrices[tier]
	return price, ok
}

// Subscription is the entitlement view of a user, read from the user record.
type Subscription struct {
	UserID            uuid.UUID  `json:"user_id"`
	IsPremium         bool       `json:"is_premium"`
	Tier              string     `json:"tier"`
	Status            string     `json:"status"`
	PremiumExpiryDate *time.Time `json:"premium_expiry_date,omitempty"`
}

// InitializeUpgradeRequest is the DTO for starting a subscription upgrade payment.
type InitializeUpgradeRequest struct {
	Tier           string `json:"tier"`
	DurationMonths int    `json:"duration_months"`
}

// VerifyUpgradeRequest is the DTO for confirming a subscription payment.
type VerifyUpgradeRequest struct {
	Reference            string `json:"reference"`
	GatewayTransactionID string `json:"transaction_id"`
}
