/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * for users, wallets, payments and the money ledger. It contains the SQL for the
 * atomic completion units: every wallet mutation commits in the same database
 * transaction as its ledger row and the payment status flip that caused it.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/connecta/ledger-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientSparks   = errors.New("insufficient sparks")
	ErrEscrowNotHeld        = errors.New("payment escrow is not held")
	ErrRewardAlreadyClaimed = errors.New("daily reward already claimed")
)

const paymentColumns = `
	id, payer_id, payee_id, amount, platform_fee, net_amount, currency,
	payment_type, status, escrow_status, job_id, project_id,
	gateway_reference, gateway_response, failure_reason,
	subscription_tier, duration_months, paid_at, released_at, refunded_at,
	created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.PayerID, &p.PayeeID, &p.Amount, &p.PlatformFee, &p.NetAmount,
		&p.Currency, &p.PaymentType, &p.Status, &p.EscrowStatus, &p.JobID,
		&p.ProjectID, &p.GatewayReference, &p.GatewayResponse, &p.FailureReason,
		&p.SubscriptionTier, &p.DurationMonths, &p.PaidAt, &p.ReleasedAt,
		&p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindUserByID retrieves the ledger-relevant slice of a user record.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `
		SELECT id, email, sparks, last_reward_claimed_at, is_premium,
		       COALESCE(subscription_tier, 'free'), COALESCE(subscription_status, 'expired'),
		       premium_expiry_date
		FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&user.ID, &user.Email, &user.Sparks, &user.LastRewardClaimedAt,
		&user.IsPremium, &user.SubscriptionTier, &user.SubscriptionStatus,
		&user.PremiumExpiryDate,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByEmail resolves a user by email, used for spark transfers.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `
		SELECT id, email, sparks, last_reward_claimed_at, is_premium,
		       COALESCE(subscription_tier, 'free'), COALESCE(subscription_status, 'expired'),
		       premium_expiry_date
		FROM users WHERE lower(btrim(email)) = lower(btrim($1))`
	err := r.db.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.Sparks, &user.LastRewardClaimedAt,
		&user.IsPremium, &user.SubscriptionTier, &user.SubscriptionStatus,
		&user.PremiumExpiryDate,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetOrCreateWallet returns the user's wallet, creating an empty one on first use.
func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	wallet, err := getOrCreateWalletTx(ctx, tx, userID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return wallet, nil
}

// getOrCreateWalletTx upserts and reads a wallet inside an existing transaction.
// When forUpdate is true the returned row is locked until the transaction ends.
func getOrCreateWalletTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, forUpdate bool) (*domain.Wallet, error) {
	insert := `
		INSERT INTO wallets (id, user_id, balance, escrow_balance, total_earned, total_spent, currency)
		VALUES ($1, $2, 0, 0, 0, 0, 'NGN')
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := tx.Exec(ctx, insert, uuid.New(), userID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, balance, escrow_balance, total_earned, total_spent, currency, created_at, updated_at
		FROM wallets WHERE user_id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var w domain.Wallet
	err := tx.QueryRow(ctx, query, userID).Scan(
		&w.ID, &w.UserID, &w.Balance, &w.EscrowBalance, &w.TotalEarned,
		&w.TotalSpent, &w.Currency, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CreatePayment inserts a new pending payment record.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, payer_id, payee_id, amount, platform_fee, net_amount, currency,
			payment_type, status, escrow_status, job_id, project_id,
			gateway_reference, subscription_tier, duration_months
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		p.ID, p.PayerID, p.PayeeID, p.Amount, p.PlatformFee, p.NetAmount,
		p.Currency, p.PaymentType, p.Status, p.EscrowStatus, p.JobID,
		p.ProjectID, p.GatewayReference, p.SubscriptionTier, p.DurationMonths,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// FindPaymentByID retrieves a payment by its primary key.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// FindPaymentByReference retrieves a payment by its gateway reference.
func (r *PostgresRepository) FindPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_reference = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, strings.TrimSpace(reference)))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// FindReusablePendingPayment looks for an existing pending project-funding payment
// so an abandoned checkout can be resumed instead of duplicated.
func (r *PostgresRepository) FindReusablePendingPayment(ctx context.Context, payerID uuid.UUID, projectID uuid.UUID) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE payer_id = $1 AND project_id = $2
		  AND payment_type = 'project_funding' AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, payerID, projectID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// MarkPaymentProcessing advances a pending payment to processing. Losing the
// race to another verifier is not an error; completion remains conditional.
func (r *PostgresRepository) MarkPaymentProcessing(ctx context.Context, paymentID uuid.UUID) error {
	query := `UPDATE payments SET status = 'processing', updated_at = NOW() WHERE id = $1 AND status = 'pending'`
	_, err := r.db.Exec(ctx, query, paymentID)
	return err
}

// MarkPaymentFailed records a terminal verification failure. Already-completed
// payments are never demoted.
func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, reason string, gatewayResponse []byte) (*domain.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'failed', failure_reason = $2,
		    gateway_response = COALESCE($3, gateway_response), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING ` + paymentColumns
	p, err := scanPayment(r.db.QueryRow(ctx, query, paymentID, reason, gatewayResponse))
	if err != nil {
		if err == pgx.ErrNoRows {
			return r.FindPaymentByID(ctx, paymentID)
		}
		return nil, err
	}
	return p, nil
}

// ListPaymentsByUser returns payments where the user is payer or payee.
func (r *PostgresRepository) ListPaymentsByUser(ctx context.Context, userID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE (payer_id = $1 OR payee_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR payment_type = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`
	rows, err := r.db.Query(ctx, query, userID, opts.Status, opts.PaymentType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// GetPaymentStats aggregates platform-wide payment state for the admin dashboard.
func (r *PostgresRepository) GetPaymentStats(ctx context.Context) (*domain.PaymentStats, error) {
	var stats domain.PaymentStats
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COALESCE(SUM(amount) FILTER (WHERE status = 'completed'), 0),
			COUNT(*) FILTER (WHERE status IN ('pending', 'processing')),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(SUM(net_amount) FILTER (WHERE status = 'completed' AND escrow_status = 'held'), 0),
			COALESCE(SUM(platform_fee) FILTER (WHERE status = 'completed'), 0)
		FROM payments`
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.CompletedCount, &stats.CompletedVolume, &stats.PendingCount,
		&stats.FailedCount, &stats.EscrowHeld, &stats.TotalFees,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// completePaymentTx performs the conditional status flip shared by all
// completion units. Returns (nil, false, nil) when another verifier won.
func completePaymentTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID, gatewayResponse []byte, escrowStatus string) (*domain.Payment, bool, error) {
	query := `
		UPDATE payments
		SET status = 'completed', escrow_status = $3, gateway_response = $2,
		    paid_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING ` + paymentColumns
	p, err := scanPayment(tx.QueryRow(ctx, query, paymentID, gatewayResponse, escrowStatus))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return p, true, nil
}

func insertTransactionTx(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, user_id, type, amount, currency, status, payment_id, project_id,
			balance_before, balance_after, description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`
	return tx.QueryRow(ctx, query,
		t.ID, t.UserID, t.Type, t.Amount, t.Currency, t.Status, t.PaymentID,
		t.ProjectID, t.BalanceBefore, t.BalanceAfter, t.Description,
	).Scan(&t.CreatedAt)
}

// CompleteJobVerificationPayment flips the payment to completed and marks the
// job as payment-verified and active. Wallets are untouched: the fee is
// platform revenue, not a wallet movement.
func (r *PostgresRepository) CompleteJobVerificationPayment(ctx context.Context, paymentID uuid.UUID, gatewayResponse []byte) (*domain.Payment, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	p, applied, err := completePaymentTx(ctx, tx, paymentID, gatewayResponse, domain.EscrowStatusNone)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		existing, err := r.FindPaymentByID(ctx, paymentID)
		return existing, false, err
	}

	if p.JobID != nil {
		jobQuery := `
			UPDATE jobs
			SET payment_verified = TRUE, payment_status = 'escrow', status = 'active', updated_at = NOW()
			WHERE id = $1`
		if _, err := tx.Exec(ctx, jobQuery, *p.JobID); err != nil {
			return nil, false, fmt.Errorf("failed to mark job verified: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// CompleteProjectFundingPayment flips the payment to completed with escrow
// held, charges the payer's spend counter and credits the payee's wallet, and
// appends both ledger rows. All writes share one database transaction.
func (r *PostgresRepository) CompleteProjectFundingPayment(ctx context.Context, paymentID uuid.UUID, gatewayResponse []byte) (*domain.Payment, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	p, applied, err := completePaymentTx(ctx, tx, paymentID, gatewayResponse, domain.EscrowStatusHeld)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		existing, err := r.FindPaymentByID(ctx, paymentID)
		return existing, false, err
	}
	if p.PayeeID == nil {
		return nil, false, fmt.Errorf("project funding payment %s has no payee", p.ID)
	}

	// Payer side: lifetime spend counter plus a payment_sent ledger row on the
	// spend dimension (running balance is the negated cumulative spend, so
	// balance_after - balance_before = amount holds for debits too).
	payerWallet, err := getOrCreateWalletTx(ctx, tx, p.PayerID, true)
	if err != nil {
		return nil, false, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET total_spent = total_spent + $2, updated_at = NOW() WHERE user_id = $1`,
		p.PayerID, p.Amount,
	); err != nil {
		return nil, false, err
	}
	sentRow := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        p.PayerID,
		Type:          domain.TransactionTypePaymentSent,
		Amount:        -p.Amount,
		Currency:      p.Currency,
		Status:        "completed",
		PaymentID:     &p.ID,
		ProjectID:     p.ProjectID,
		BalanceBefore: -payerWallet.TotalSpent,
		BalanceAfter:  -(payerWallet.TotalSpent + p.Amount),
		Description:   "Project funding sent",
	}
	if err := insertTransactionTx(ctx, tx, sentRow); err != nil {
		return nil, false, err
	}

	// Payee side: the net amount lands in the wallet immediately but stays
	// escrowed until release.
	payeeWallet, err := getOrCreateWalletTx(ctx, tx, *p.PayeeID, true)
	if err != nil {
		return nil, false, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance + $2, escrow_balance = escrow_balance + $2, updated_at = NOW() WHERE user_id = $1`,
		*p.PayeeID, p.NetAmount,
	); err != nil {
		return nil, false, err
	}
	receivedRow := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        *p.PayeeID,
		Type:          domain.TransactionTypePaymentReceived,
		Amount:        p.NetAmount,
		Currency:      p.Currency,
		Status:        "completed",
		PaymentID:     &p.ID,
		ProjectID:     p.ProjectID,
		BalanceBefore: payeeWallet.Balance,
		BalanceAfter:  payeeWallet.Balance + p.NetAmount,
		Description:   "Project funding received (held in escrow)",
	}
	if err := insertTransactionTx(ctx, tx, receivedRow); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// CompleteSubscriptionPayment flips the payment to completed and applies the
// entitlement in the same transaction.
func (r *PostgresRepository) CompleteSubscriptionPayment(ctx context.Context, paymentID uuid.UUID, gatewayResponse []byte, tier string, expiry time.Time) (*domain.Payment, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	p, applied, err := completePaymentTx(ctx, tx, paymentID, gatewayResponse, domain.EscrowStatusNone)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		existing, err := r.FindPaymentByID(ctx, paymentID)
		return existing, false, err
	}

	userQuery := `
		UPDATE users
		SET is_premium = TRUE, subscription_tier = $2, subscription_status = 'active',
		    premium_expiry_date = $3, updated_at = NOW()
		WHERE id = $1`
	result, err := tx.Exec(ctx, userQuery, p.PayerID, tier, expiry)
	if err != nil {
		return nil, false, err
	}
	if result.RowsAffected() == 0 {
		return nil, false, ErrUserNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// ReleaseEscrowPayment moves the payee's held funds to spendable balance.
// Wallet balance is unchanged; only the escrow hold and lifetime earnings move.
func (r *PostgresRepository) ReleaseEscrowPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE payments
		SET escrow_status = 'released', released_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'completed' AND escrow_status = 'held'
		RETURNING ` + paymentColumns
	p, err := scanPayment(tx.QueryRow(ctx, query, paymentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			if _, findErr := r.FindPaymentByID(ctx, paymentID); findErr != nil {
				return nil, findErr
			}
			return nil, ErrEscrowNotHeld
		}
		return nil, err
	}
	if p.PayeeID == nil {
		return nil, fmt.Errorf("escrow payment %s has no payee", p.ID)
	}

	result, err := tx.Exec(ctx,
		`UPDATE wallets
		 SET escrow_balance = escrow_balance - $2, total_earned = total_earned + $2, updated_at = NOW()
		 WHERE user_id = $1 AND escrow_balance >= $2`,
		*p.PayeeID, p.NetAmount,
	)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrInsufficientFunds
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// RefundEscrowPayment reverses a held escrow: the payee loses the escrowed
// credit, the payer's spend counter is unwound, and both sides get refund
// ledger rows. All in one database transaction.
func (r *PostgresRepository) RefundEscrowPayment(ctx context.Context, paymentID uuid.UUID, reason string) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE payments
		SET escrow_status = 'refunded', refunded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'completed' AND escrow_status = 'held'
		RETURNING ` + paymentColumns
	p, err := scanPayment(tx.QueryRow(ctx, query, paymentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			if _, findErr := r.FindPaymentByID(ctx, paymentID); findErr != nil {
				return nil, findErr
			}
			return nil, ErrEscrowNotHeld
		}
		return nil, err
	}
	if p.PayeeID == nil {
		return nil, fmt.Errorf("escrow payment %s has no payee", p.ID)
	}

	description := "Payment refunded"
	if strings.TrimSpace(reason) != "" {
		description = "Payment refunded: " + strings.TrimSpace(reason)
	}

	payeeWallet, err := getOrCreateWalletTx(ctx, tx, *p.PayeeID, true)
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(ctx,
		`UPDATE wallets
		 SET balance = balance - $2, escrow_balance = escrow_balance - $2, updated_at = NOW()
		 WHERE user_id = $1 AND balance >= $2 AND escrow_balance >= $2`,
		*p.PayeeID, p.NetAmount,
	)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrInsufficientFunds
	}
	payeeRow := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        *p.PayeeID,
		Type:          domain.TransactionTypeRefund,
		Amount:        -p.NetAmount,
		Currency:      p.Currency,
		Status:        "completed",
		PaymentID:     &p.ID,
		ProjectID:     p.ProjectID,
		BalanceBefore: payeeWallet.Balance,
		BalanceAfter:  payeeWallet.Balance - p.NetAmount,
		Description:   description,
	}
	if err := insertTransactionTx(ctx, tx, payeeRow); err != nil {
		return nil, err
	}

	payerWallet, err := getOrCreateWalletTx(ctx, tx, p.PayerID, true)
	if err != nil {
		return nil, err
	}
	result, err = tx.Exec(ctx,
		`UPDATE wallets SET total_spent = total_spent - $2, updated_at = NOW()
		 WHERE user_id = $1 AND total_spent >= $2`,
		p.PayerID, p.Amount,
	)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrInsufficientFunds
	}
	payerRow := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        p.PayerID,
		Type:          domain.TransactionTypeRefund,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        "completed",
		PaymentID:     &p.ID,
		ProjectID:     p.ProjectID,
		BalanceBefore: -payerWallet.TotalSpent,
		BalanceAfter:  -(payerWallet.TotalSpent - p.Amount),
		Description:   description,
	}
	if err := insertTransactionTx(ctx, tx, payerRow); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// WithdrawFromWallet debits the spendable portion of the wallet and appends
// the withdrawal ledger row. The guard clause keeps escrowed funds untouchable
// and the balance non-negative under concurrent withdrawals.
func (r *PostgresRepository) WithdrawFromWallet(ctx context.Context, userID uuid.UUID, amount int64, fee int64) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	total := amount + fee
	var newBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance - $2, updated_at = NOW()
		 WHERE user_id = $1 AND balance - escrow_balance >= $2
		 RETURNING balance`,
		userID, total,
	).Scan(&newBalance)
	if err != nil {
		if err == pgx.ErrNoRows {
			if _, findErr := r.GetOrCreateWallet(ctx, userID); findErr != nil {
				return nil, findErr
			}
			return nil, ErrInsufficientFunds
		}
		return nil, err
	}

	row := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        userID,
		Type:          domain.TransactionTypeWithdrawal,
		Amount:        -total,
		Currency:      "NGN",
		Status:        "completed",
		BalanceBefore: newBalance + total,
		BalanceAfter:  newBalance,
		Description:   fmt.Sprintf("Withdrawal of %d kobo (fee %d kobo)", amount, fee),
	}
	if err := insertTransactionTx(ctx, tx, row); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Currency, &t.Status,
		&t.PaymentID, &t.ProjectID, &t.BalanceBefore, &t.BalanceAfter,
		&t.Description, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const transactionColumns = `
	id, user_id, type, amount, currency, status, payment_id, project_id,
	balance_before, balance_after, COALESCE(description, ''), created_at`

// ListTransactionsByUser returns a page of the user's money ledger, newest first.
func (r *PostgresRepository) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1 AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.db.Query(ctx, query, userID, opts.Type, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

// ListAllTransactionsByUser returns the user's full ledger oldest first, for replay.
func (r *PostgresRepository) ListAllTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}
