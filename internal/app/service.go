/**
 * @description
 * This file contains the core business logic for the ledger-service's payment
 * orchestration: initializing hosted checkout sessions, verifying gateway
 * payments idempotently, and moving escrowed funds. The service coordinates
 * the repository (atomic persistence), the payment gateway client, and the
 * event producer.
 *
 * Verification is the critical path. The rules, in order:
 *   1. An already-completed payment returns unchanged with no writes.
 *   2. A gateway fault leaves the payment untouched so the caller can retry.
 *   3. A gateway rejection, reference mismatch, unsuccessful charge or
 *      under-payment marks the payment failed.
 *   4. Success applies the payment-type side effects through a single
 *      repository transaction; concurrent verifiers race on a conditional
 *      status flip and the loser returns the winner's record.
 *
 * @dependencies
 * - internal/store: Repository interface and sentinel errors.
 * - internal/domain: Domain models.
 * - pkg/flutterwave: Payment gateway client.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/connecta/ledger-service/internal/domain"
	"github.com/connecta/ledger-service/internal/store"
	"github.com/connecta/ledger-service/pkg/flutterwave"
	"github.com/connecta/ledger-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

var (
	// ErrGatewayUnavailable wraps transport faults and gateway 5xx responses.
	// The payment state is unchanged and the verification can be retried.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrVerificationFailed marks a terminal verification failure: the gateway
	// rejected the charge or the transaction does not match the payment.
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrUnderpaid is the under-payment case of verification failure: the
	// charge succeeded at the gateway but for less than the recorded amount.
	ErrUnderpaid = errors.New("paid amount is below the recorded amount")
	// ErrNotPaymentOwner rejects callers acting on payments they did not create.
	ErrNotPaymentOwner = errors.New("caller does not own this payment")
	// ErrInvalidAmount rejects non-positive amounts before any state change.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrRateLimited signals the caller to back off.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// PlatformFeePercent is the marketplace cut of project funding payments.
const PlatformFeePercent = 10

// Rate limit scopes. Each scope carries its own per-minute limit, configured
// on the limiter.
const (
	RateLimitScopeVerify   = "payment_verify"
	RateLimitScopeTransfer = "spark_transfer"
)

// PaymentGateway is the slice of the Flutterwave client the service uses.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req flutterwave.CheckoutRequest) (*flutterwave.CheckoutSession, error)
	VerifyTransaction(ctx context.Context, transactionID string) (*flutterwave.VerificationData, error)
	VerifyTransactionByReference(ctx context.Context, txRef string) (*flutterwave.VerificationData, error)
}

// RateLimiter is the distributed limiter contract. The limiter owns the
// per-scope limits; scopes it does not know always allow. A nil limiter
// disables rate limiting.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string) (allowed bool, retryAfterSeconds int, err error)
}

// Service implements the ledger-service use cases.
type Service struct {
	repo        store.Repository
	gateway     PaymentGateway
	events      rabbitmq.Publisher
	redirectURL string
	rateLimiter RateLimiter

	now func() time.Time
}

// NewService creates the application service.
func NewService(repo store.Repository, gateway PaymentGateway, events rabbitmq.Publisher, redirectURL string) *Service {
	if events == nil {
		events = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		repo:        repo,
		gateway:     gateway,
		events:      events,
		redirectURL: redirectURL,
		now:         time.Now,
	}
}

// SetRateLimiter wires the distributed limiter.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

// checkRateLimit consumes one token. Limiter faults degrade open: a broken
// Redis must not block payments.
func (s *Service) checkRateLimit(ctx context.Context, scope, subject string) error {
	if s.rateLimiter == nil {
		return nil
	}
	allowed, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, subject)
	if err != nil {
		log.Printf("level=warn component=service msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
		return nil
	}
	if !allowed {
		return fmt.Errorf("%w: retry after %ds", ErrRateLimited, retryAfter)
	}
	return nil
}

// InitializeJobVerification creates a pending job verification payment and a
// hosted checkout session for it. The fee is platform revenue; no wallet is
// touched when it later completes.
func (s *Service) InitializeJobVerification(ctx context.Context, payerID uuid.UUID, req domain.InitializeJobVerificationRequest) (*domain.InitializePaymentResponse, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	payer, err := s.repo.FindUserByID(ctx, payerID)
	if err != nil {
		return nil, err
	}

	payment := &domain.Payment{
		ID:               uuid.New(),
		PayerID:          payerID,
		Amount:           req.Amount,
		PlatformFee:      req.Amount,
		NetAmount:        0,
		Currency:         "NGN",
		PaymentType:      domain.PaymentTypeJobVerification,
		Status:           domain.PaymentStatusPending,
		EscrowStatus:     domain.EscrowStatusNone,
		JobID:            &req.JobID,
		GatewayReference: fmt.Sprintf("JOB_%s_%d", payerID, s.now().Unix()),
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	session, err := s.createCheckoutSession(ctx, payment, payer.Email, "Job verification fee", map[string]interface{}{
		"payment_type": payment.PaymentType,
		"job_id":       req.JobID.String(),
	})
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=service op=initialize_job_verification payment_id=%s payer_id=%s amount=%d", payment.ID, payerID, req.Amount)
	return &domain.InitializePaymentResponse{
		PaymentID:        payment.ID,
		GatewayReference: payment.GatewayReference,
		AuthorizationURL: session.AuthorizationURL,
		Amount:           payment.Amount,
		Currency:         payment.Currency,
	}, nil
}

// InitializeProjectFunding creates (or resumes) a pending escrow payment for a
// project milestone and returns its checkout session.
func (s *Service) InitializeProjectFunding(ctx context.Context, payerID uuid.UUID, req domain.InitializeProjectFundingRequest) (*domain.InitializePaymentResponse, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.PayeeID == payerID {
		return nil, fmt.Errorf("%w: payer and payee must differ", ErrVerificationFailed)
	}
	payer, err := s.repo.FindUserByID(ctx, payerID)
	if err != nil {
		return nil, err
	}

	fee := req.Amount * PlatformFeePercent / 100
	payment, err := s.repo.FindReusablePendingPayment(ctx, payerID, req.ProjectID)
	if err != nil && !errors.Is(err, store.ErrPaymentNotFound) {
		return nil, err
	}
	if payment == nil || payment.Amount != req.Amount || payment.PayeeID == nil || *payment.PayeeID != req.PayeeID {
		payment = &domain.Payment{
			ID:               uuid.New(),
			PayerID:          payerID,
			PayeeID:          &req.PayeeID,
			Amount:           req.Amount,
			PlatformFee:      fee,
			NetAmount:        req.Amount - fee,
			Currency:         "NGN",
			PaymentType:      domain.PaymentTypeProjectFunding,
			Status:           domain.PaymentStatusPending,
			EscrowStatus:     domain.EscrowStatusNone,
			ProjectID:        &req.ProjectID,
			GatewayReference: fmt.Sprintf("PRJ_%s_%d", payerID, s.now().Unix()),
		}
		if err := s.repo.CreatePayment(ctx, payment); err != nil {
			return nil, err
		}
	}

	session, err := s.createCheckoutSession(ctx, payment, payer.Email, "Project funding", map[string]interface{}{
		"payment_type": payment.PaymentType,
		"project_id":   req.ProjectID.String(),
		"payee_id":     req.PayeeID.String(),
	})
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=service op=initialize_project_funding payment_id=%s payer_id=%s payee_id=%s amount=%d fee=%d", payment.ID, payerID, req.PayeeID, req.Amount, fee)
	return &domain.InitializePaymentResponse{
		PaymentID:        payment.ID,
		GatewayReference: payment.GatewayReference,
		AuthorizationURL: session.AuthorizationURL,
		Amount:           payment.Amount,
		Currency:         payment.Currency,
	}, nil
}

func (s *Service) createCheckoutSession(ctx context.Context, payment *domain.Payment, email, title string, meta map[string]interface{}) (*flutterwave.CheckoutSession, error) {
	session, err := s.gateway.CreateCheckoutSession(ctx, flutterwave.CheckoutRequest{
		TxRef:         payment.GatewayReference,
		AmountKobo:    payment.Amount,
		Currency:      payment.Currency,
		RedirectURL:   s.redirectURL,
		CustomerEmail: email,
		Title:         title,
		Meta:          meta,
	})
	if err != nil {
		if flutterwave.IsRetryable(err) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, err
	}
	return session, nil
}

// VerifyPayment confirms a payment against the gateway and applies its side
// effects exactly once. callerID may be uuid.Nil for webhook-driven
// verification, which skips the ownership check.
func (s *Service) VerifyPayment(ctx context.Context, callerID uuid.UUID, req domain.VerifyPaymentRequest) (*domain.Payment, error) {
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return nil, store.ErrPaymentNotFound
	}
	if err := s.checkRateLimit(ctx, RateLimitScopeVerify, reference); err != nil {
		return nil, err
	}

	payment, err := s.repo.FindPaymentByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if callerID != uuid.Nil && payment.PayerID != callerID {
		return nil, ErrNotPaymentOwner
	}
	if payment.Status == domain.PaymentStatusCompleted {
		log.Printf("level=info component=service op=verify_payment outcome=noop payment_id=%s msg=\"already completed\"", payment.ID)
		return payment, nil
	}
	if payment.Status == domain.PaymentStatusFailed {
		return payment, fmt.Errorf("%w: payment already failed", ErrVerificationFailed)
	}

	if err := s.repo.MarkPaymentProcessing(ctx, payment.ID); err != nil {
		log.Printf("level=warn component=service op=verify_payment payment_id=%s msg=\"processing flip failed; continuing\" err=%v", payment.ID, err)
	}

	var data *flutterwave.VerificationData
	if strings.TrimSpace(req.GatewayTransactionID) != "" {
		data, err = s.gateway.VerifyTransaction(ctx, strings.TrimSpace(req.GatewayTransactionID))
	} else {
		data, err = s.gateway.VerifyTransactionByReference(ctx, reference)
	}
	if err != nil {
		if flutterwave.IsRetryable(err) {
			// No state change: the charge may have gone through and a retry
			// must still be able to complete it.
			log.Printf("level=warn component=service op=verify_payment outcome=retryable payment_id=%s err=%v", payment.ID, err)
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		failed, failErr := s.failPayment(ctx, payment, fmt.Sprintf("gateway rejected verification: %v", err), nil)
		if failErr != nil {
			return nil, failErr
		}
		return failed, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if data.TxRef != payment.GatewayReference {
		failed, failErr := s.failPayment(ctx, payment, "gateway transaction reference mismatch", data.Raw)
		if failErr != nil {
			return nil, failErr
		}
		return failed, fmt.Errorf("%w: reference mismatch", ErrVerificationFailed)
	}
	if !data.Successful() {
		failed, failErr := s.failPayment(ctx, payment, fmt.Sprintf("gateway charge status %q", data.Status), data.Raw)
		if failErr != nil {
			return nil, failErr
		}
		return failed, fmt.Errorf("%w: charge status %q", ErrVerificationFailed, data.Status)
	}
	if data.AmountKobo < payment.Amount {
		failed, failErr := s.failPayment(ctx, payment, fmt.Sprintf("underpaid: got %d kobo, expected %d kobo", data.AmountKobo, payment.Amount), data.Raw)
		if failErr != nil {
			return nil, failErr
		}
		return failed, fmt.Errorf("%w: got %d, expected %d", ErrUnderpaid, data.AmountKobo, payment.Amount)
	}

	completed, applied, err := s.completeByType(ctx, payment, data)
	if err != nil {
		return nil, err
	}
	if applied {
		s.publishPaymentEvent(ctx, completed)
		log.Printf("level=info component=service op=verify_payment outcome=completed payment_id=%s type=%s amount=%d", completed.ID, completed.PaymentType, completed.Amount)
	} else {
		log.Printf("level=info component=service op=verify_payment outcome=lost_race payment_id=%s", completed.ID)
	}
	return completed, nil
}

func (s *Service) completeByType(ctx context.Context, payment *domain.Payment, data *flutterwave.VerificationData) (*domain.Payment, bool, error) {
	switch payment.PaymentType {
	case domain.PaymentTypeJobVerification:
		return s.repo.CompleteJobVerificationPayment(ctx, payment.ID, data.Raw)
	case domain.PaymentTypeProjectFunding:
		return s.repo.CompleteProjectFundingPayment(ctx, payment.ID, data.Raw)
	case domain.PaymentTypeSubscription:
		// Tier and duration come from the stored payment record, never from
		// gateway-echoed metadata. The metadata is only cross-checked.
		if payment.SubscriptionTier == nil || payment.DurationMonths == nil {
			return nil, false, fmt.Errorf("subscription payment %s is missing tier or duration", payment.ID)
		}
		if metaTier, ok := data.Meta["tier"].(string); ok && metaTier != *payment.SubscriptionTier {
			log.Printf("level=warn component=service op=verify_payment payment_id=%s msg=\"gateway metadata tier disagrees with stored payment\" stored=%s meta=%s", payment.ID, *payment.SubscriptionTier, metaTier)
		}
		expiry := s.now().AddDate(0, *payment.DurationMonths, 0)
		return s.repo.CompleteSubscriptionPayment(ctx, payment.ID, data.Raw, *payment.SubscriptionTier, expiry)
	default:
		return nil, false, fmt.Errorf("unknown payment type %q", payment.PaymentType)
	}
}

func (s *Service) failPayment(ctx context.Context, payment *domain.Payment, reason string, gatewayResponse []byte) (*domain.Payment, error) {
	failed, err := s.repo.MarkPaymentFailed(ctx, payment.ID, reason, gatewayResponse)
	if err != nil {
		return nil, err
	}
	if failed.Status == domain.PaymentStatusFailed {
		s.publishPaymentEvent(ctx, failed)
	}
	log.Printf("level=warn component=service op=verify_payment outcome=failed payment_id=%s reason=%q", payment.ID, reason)
	return failed, nil
}

func (s *Service) publishPaymentEvent(ctx context.Context, p *domain.Payment) {
	event := domain.PaymentEvent{
		EventID:       uuid.New(),
		PaymentID:     p.ID,
		PayerID:       p.PayerID,
		PayeeID:       p.PayeeID,
		PaymentType:   p.PaymentType,
		Status:        p.Status,
		Amount:        p.Amount,
		NetAmount:     p.NetAmount,
		Currency:      p.Currency,
		FailureReason: p.FailureReason,
		OccurredAt:    s.now(),
	}
	if err := s.events.PublishPaymentEvent(ctx, event); err != nil {
		log.Printf("level=warn component=service msg=\"payment event publish failed\" payment_id=%s err=%v", p.ID, err)
	}
}

// ReleaseEscrow moves a held payment's funds to the payee's spendable balance.
// Only the payer may release.
func (s *Service) ReleaseEscrow(ctx context.Context, callerID uuid.UUID, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != callerID {
		return nil, ErrNotPaymentOwner
	}

	released, err := s.repo.ReleaseEscrowPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if released.PayeeID != nil {
		event := domain.EscrowEvent{
			EventID:    uuid.New(),
			PaymentID:  released.ID,
			PayeeID:    *released.PayeeID,
			Action:     "released",
			NetAmount:  released.NetAmount,
			OccurredAt: s.now(),
		}
		if err := s.events.PublishEscrowEvent(ctx, event); err != nil {
			log.Printf("level=warn component=service msg=\"escrow event publish failed\" payment_id=%s err=%v", released.ID, err)
		}
	}
	log.Printf("level=info component=service op=release_escrow payment_id=%s net_amount=%d", released.ID, released.NetAmount)
	return released, nil
}

// RefundPayment reverses a held escrow back to the payer. Only the payer may
// request a refund.
func (s *Service) RefundPayment(ctx context.Context, callerID uuid.UUID, paymentID uuid.UUID, reason string) (*domain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != callerID {
		return nil, ErrNotPaymentOwner
	}

	refunded, err := s.repo.RefundEscrowPayment(ctx, paymentID, reason)
	if err != nil {
		return nil, err
	}
	if refunded.PayeeID != nil {
		event := domain.EscrowEvent{
			EventID:    uuid.New(),
			PaymentID:  refunded.ID,
			PayeeID:    *refunded.PayeeID,
			Action:     "refunded",
			NetAmount:  refunded.NetAmount,
			OccurredAt: s.now(),
		}
		if err := s.events.PublishEscrowEvent(ctx, event); err != nil {
			log.Printf("level=warn component=service msg=\"escrow event publish failed\" payment_id=%s err=%v", refunded.ID, err)
		}
	}
	log.Printf("level=info component=service op=refund_payment payment_id=%s net_amount=%d", refunded.ID, refunded.NetAmount)
	return refunded, nil
}

// WithdrawalFee returns the flat fee for a withdrawal of the given amount.
// Amounts under 5,000 NGN carry a 10 NGN fee, larger ones 50 NGN.
func WithdrawalFee(amountKobo int64) int64 {
	if amountKobo < 500000 {
		return 1000
	}
	return 5000
}

// RequestWithdrawal debits the spendable balance. Escrowed funds are never
// withdrawable.
func (s *Service) RequestWithdrawal(ctx context.Context, userID uuid.UUID, req domain.WithdrawalRequest) (*domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	tx, err := s.repo.WithdrawFromWallet(ctx, userID, req.Amount, WithdrawalFee(req.Amount))
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=service op=request_withdrawal user_id=%s amount=%d", userID, req.Amount)
	return tx, nil
}

// GetWallet returns the caller's wallet, creating it on first read.
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return s.repo.GetOrCreateWallet(ctx, userID)
}

// GetPayment returns a payment visible to the caller.
func (s *Service) GetPayment(ctx context.Context, callerID uuid.UUID, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != callerID && (payment.PayeeID == nil || *payment.PayeeID != callerID) {
		return nil, store.ErrPaymentNotFound
	}
	return payment, nil
}

// ListPayments returns the caller's payment history.
func (s *Service) ListPayments(ctx context.Context, userID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	return s.repo.ListPaymentsByUser(ctx, userID, opts)
}

// ListTransactions returns the caller's money ledger.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	return s.repo.ListTransactionsByUser(ctx, userID, opts)
}

// GetPaymentStats returns platform aggregates for the admin dashboard.
func (s *Service) GetPaymentStats(ctx context.Context) (*domain.PaymentStats, error) {
	return s.repo.GetPaymentStats(ctx)
}
