/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the ledger-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/connecta/ledger-service/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the database.
//
// Methods suffixed with "Atomic" or documented as atomic units execute all of
// their writes inside a single database transaction; either every write lands
// or none do.
type Repository interface {
	// User methods
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// Wallet methods
	GetOrCreateWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)

	// Payment methods
	CreatePayment(ctx context.Context, p *domain.Payment) error
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	FindPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error)
	FindReusablePendingPayment(ctx context.Context, payerID uuid.UUID, projectID uuid.UUID) (*domain.Payment, error)
	MarkPaymentProcessing(ctx context.Context, paymentID uuid.UUID) error
	MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, reason string, gatewayResponse []byte) (*domain.Payment, error)
	ListPaymentsByUser(ctx context.Context, userID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error)
	GetPaymentStats(ctx context.Context) (*domain.PaymentStats, error)

	// Payment completion atomic units. Each flips the payment
	// pending/processing -> completed with a conditional update and applies
	// the side effects for its payment type in the same transaction. The
	// returned bool is false when another verifier already completed the
	// payment, in which case the stored record is returned untouched.
	CompleteJobVerificationPayment(ctx context.Context, paymentID uuid.UUID, gatewayResponse []byte) (*domain.Payment, bool, error)
	CompleteProjectFundingPayment(ctx context.Context, paymentID uuid.UUID, gatewayResponse []byte) (*domain.Payment, bool, error)
	CompleteSubscriptionPayment(ctx context.Context, paymentID uuid.UUID, gatewayResponse []byte, tier string, expiry time.Time) (*domain.Payment, bool, error)

	// Escrow atomic units
	ReleaseEscrowPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	RefundEscrowPayment(ctx context.Context, paymentID uuid.UUID, reason string) (*domain.Payment, error)

	// Withdrawal atomic unit. Debits available (non-escrowed) balance and
	// appends the ledger row; ErrInsufficientFunds when the guard fails.
	WithdrawFromWallet(ctx context.Context, userID uuid.UUID, amount int64, fee int64) (*domain.Transaction, error)

	// Ledger methods
	ListTransactionsByUser(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)
	ListAllTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error)

	// Spark methods
	GetSparkBalance(ctx context.Context, userID uuid.UUID) (*domain.SparkBalance, error)
	EarnSparks(ctx context.Context, userID uuid.UUID, amount int64, sparkType string, description string, metadata map[string]interface{}) (*domain.SparkTransaction, error)
	SpendSparks(ctx context.Context, userID uuid.UUID, amount int64, description string) (*domain.SparkTransaction, error)
	TransferSparks(ctx context.Context, senderID uuid.UUID, recipientID uuid.UUID, amount int64) (senderBalance int64, recipientBalance int64, err error)
	ClaimDailyReward(ctx context.Context, userID uuid.UUID, amount int64, window time.Duration) (*domain.SparkTransaction, error)
	ListSparkTransactions(ctx context.Context, userID uuid.UUID, opts domain.SparkListOptions) ([]domain.SparkTransaction, error)
	ListAllSparkTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.SparkTransaction, error)
	GetSparkTotals(ctx context.Context, userID uuid.UUID) (earned int64, spent int64, err error)
	ListDailyRewardDays(ctx context.Context, userID uuid.UUID, limit int) ([]time.Time, error)

	// Subscription methods
	GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	ExpireSubscriptionIfLapsed(ctx context.Context, userID uuid.UUID) (bool, error)
	CancelSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	ExpireLapsedSubscriptions(ctx context.Context) (int64, error)
}
