package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the slice of the shared users table this service reads and writes:
// spark balance and subscription entitlement columns. Profile data is owned
// by the user-service.
type User struct {
	ID                  uuid.UUID  `json:"id"`
	Email               string     `json:"email"`
	Sparks              int64      `json:"sparks"`
	LastRewardClaimedAt *time.Time `json:"last_reward_claimed_at,omitempty"`
	IsPremium           bool       `json:"is_premium"`
	SubscriptionTier    string     `json:"subscription_tier"`
	SubscriptionStatus  string     `json:"subscription_status"`
	PremiumExpiryDate   *time.Time `json:"premium_expiry_date,omitempty"`
}
