/**
 * @description
 * PostgreSQL implementation of subscription entitlement reads and the lapse
 * handling. Expiry is lazy: reads run a conditional downgrade first, and a
 * periodic sweep catches users who are never read.
 */

package store

import (
	"context"

	"github.com/connecta/ledger-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (r *PostgresRepository) scanSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	var s domain.Subscription
	query := `
		SELECT id, is_premium, COALESCE(subscription_tier, 'free'),
		       COALESCE(subscription_status, 'expired'), premium_expiry_date
		FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.IsPremium, &s.Tier, &s.Status, &s.PremiumExpiryDate,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &s, nil
}

// GetSubscription returns the user's entitlement after applying lazy expiry.
func (r *PostgresRepository) GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	if _, err := r.ExpireSubscriptionIfLapsed(ctx, userID); err != nil {
		return nil, err
	}
	return r.scanSubscription(ctx, userID)
}

// ExpireSubscriptionIfLapsed downgrades a single user whose paid entitlement
// has passed its expiry date. Returns true when a downgrade was applied.
func (r *PostgresRepository) ExpireSubscriptionIfLapsed(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `
		UPDATE users
		SET is_premium = FALSE, subscription_tier = 'free',
		    subscription_status = 'expired', updated_at = NOW()
		WHERE id = $1 AND is_premium = TRUE
		  AND premium_expiry_date IS NOT NULL AND premium_expiry_date < NOW()`
	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// CancelSubscription stops renewal intent. Access is retained until the
// already-paid expiry date; lazy expiry handles the downgrade.
func (r *PostgresRepository) CancelSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `
		UPDATE users
		SET subscription_status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND is_premium = TRUE`
	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		// Not premium or unknown user; distinguish via the read below.
		if _, err := r.FindUserByID(ctx, userID); err != nil {
			return nil, err
		}
	}
	return r.scanSubscription(ctx, userID)
}

// ExpireLapsedSubscriptions bulk-downgrades every user past their expiry date.
// Run from the periodic sweep.
func (r *PostgresRepository) ExpireLapsedSubscriptions(ctx context.Context) (int64, error) {
	query := `
		UPDATE users
		SET is_premium = FALSE, subscription_tier = 'free',
		    subscription_status = 'expired', updated_at = NOW()
		WHERE is_premium = TRUE
		  AND premium_expiry_date IS NOT NULL AND premium_expiry_date < NOW()`
	result, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
