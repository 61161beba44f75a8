/**
 * @description
 * Subscription upgrade use cases. The tier and duration being purchased are
 * written onto the payment record at initialization and re-read from it at
 * verification; gateway metadata never drives the entitlement.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/connecta/ledger-service/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrInvalidTier rejects upgrades to unknown or unpaid tiers.
	ErrInvalidTier = errors.New("unknown subscription tier")
	// ErrInvalidDuration rejects out-of-range upgrade durations.
	ErrInvalidDuration = errors.New("duration must be between 1 and 12 months")
)

// InitializeSubscriptionUpgrade creates a pending subscription payment priced
// from the tier table and returns its checkout session.
func (s *Service) InitializeSubscriptionUpgrade(ctx context.Context, userID uuid.UUID, req domain.InitializeUpgradeRequest) (*domain.InitializePaymentResponse, error) {
	price, ok := domain.SubscriptionTierPrice(req.Tier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, req.Tier)
	}
	months := req.DurationMonths
	if months == 0 {
		months = 1
	}
	if months < 1 || months > 12 {
		return nil, ErrInvalidDuration
	}
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	tier := req.Tier
	payment := &domain.Payment{
		ID:               uuid.New(),
		PayerID:          userID,
		Amount:           price * int64(months),
		PlatformFee:      price * int64(months),
		NetAmount:        0,
		Currency:         "NGN",
		PaymentType:      domain.PaymentTypeSubscription,
		Status:           domain.PaymentStatusPending,
		EscrowStatus:     domain.EscrowStatusNone,
		GatewayReference: fmt.Sprintf("SUB_%s_%d", userID, s.now().Unix()),
		SubscriptionTier: &tier,
		DurationMonths:   &months,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	session, err := s.createCheckoutSession(ctx, payment, user.Email, "Subscription upgrade", map[string]interface{}{
		"payment_type":    payment.PaymentType,
		"tier":            tier,
		"duration_months": months,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=service op=initialize_subscription_upgrade payment_id=%s user_id=%s tier=%s months=%d amount=%d", payment.ID, userID, tier, months, payment.Amount)
	return &domain.InitializePaymentResponse{
		PaymentID:        payment.ID,
		GatewayReference: payment.GatewayReference,
		AuthorizationURL: session.AuthorizationURL,
		Amount:           payment.Amount,
		Currency:         payment.Currency,
	}, nil
}

// VerifySubscriptionUpgrade confirms the upgrade payment and returns the
// resulting entitlement.
func (s *Service) VerifySubscriptionUpgrade(ctx context.Context, userID uuid.UUID, req domain.VerifyUpgradeRequest) (*domain.Subscription, error) {
	_, err := s.VerifyPayment(ctx, userID, domain.VerifyPaymentRequest{
		Reference:            req.Reference,
		GatewayTransactionID: req.GatewayTransactionID,
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetSubscription(ctx, userID)
}

// GetSubscription returns the caller's entitlement. Lapsed entitlements are
// downgraded on read.
func (s *Service) GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	return s.repo.GetSubscription(ctx, userID)
}

// CancelSubscription stops renewal; access runs until the paid expiry date.
func (s *Service) CancelSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.repo.CancelSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=service op=cancel_subscription user_id=%s", userID)
	return sub, nil
}

// ExpireLapsedSubscriptions bulk-downgrades lapsed entitlements. Run from the
// periodic sweep; lazy expiry on read remains the correctness mechanism.
func (s *Service) ExpireLapsedSubscriptions(ctx context.Context) (int64, error) {
	count, err := s.repo.ExpireLapsedSubscriptions(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		log.Printf("level=info component=service op=expire_lapsed_subscriptions count=%d", count)
	}
	return count, nil
}
