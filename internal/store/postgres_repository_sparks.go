/**
 * @description
 * PostgreSQL implementation of the spark ledger. The user's spark balance is
 * denormalized on the users table; every mutation pairs the balance change
 * with an append-only spark_transactions row in the same database
 * transaction. Spends and claims use conditional updates so the check and the
 * decrement are a single statement.
 */

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/connecta/ledger-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func insertSparkTransactionTx(ctx context.Context, tx pgx.Tx, t *domain.SparkTransaction) error {
	var metadata []byte
	if len(t.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(t.Metadata)
		if err != nil {
			return err
		}
	}
	query := `
		INSERT INTO spark_transactions (id, user_id, type, amount, balance_after, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	return tx.QueryRow(ctx, query,
		t.ID, t.UserID, t.Type, t.Amount, t.BalanceAfter, t.Description, metadata,
	).Scan(&t.CreatedAt)
}

// GetSparkBalance reads the denormalized spark balance off the user record.
func (r *PostgresRepository) GetSparkBalance(ctx context.Context, userID uuid.UUID) (*domain.SparkBalance, error) {
	var b domain.SparkBalance
	query := `SELECT id, sparks, last_reward_claimed_at FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&b.UserID, &b.Sparks, &b.LastRewardClaimedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &b, nil
}

// EarnSparks credits sparks and appends the ledger row atomically.
func (r *PostgresRepository) EarnSparks(ctx context.Context, userID uuid.UUID, amount int64, sparkType string, description string, metadata map[string]interface{}) (*domain.SparkTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET sparks = sparks + $2, updated_at = NOW() WHERE id = $1 RETURNING sparks`,
		userID, amount,
	).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	row := &domain.SparkTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         sparkType,
		Amount:       amount,
		BalanceAfter: balance,
		Description:  description,
		Metadata:     metadata,
	}
	if err := insertSparkTransactionTx(ctx, tx, row); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

// SpendSparks debits sparks with a single conditional statement. Concurrent
// spends race on the `sparks >= amount` guard; exactly one wins when the
// balance only covers one.
func (r *PostgresRepository) SpendSparks(ctx context.Context, userID uuid.UUID, amount int64, description string) (*domain.SparkTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET sparks = sparks - $2, updated_at = NOW()
		 WHERE id = $1 AND sparks >= $2
		 RETURNING sparks`,
		userID, amount,
	).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			if _, findErr := r.FindUserByID(ctx, userID); findErr != nil {
				return nil, findErr
			}
			return nil, ErrInsufficientSparks
		}
		return nil, err
	}

	row := &domain.SparkTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         domain.SparkTypeSpend,
		Amount:       -amount,
		BalanceAfter: balance,
		Description:  description,
	}
	if err := insertSparkTransactionTx(ctx, tx, row); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

// TransferSparks moves sparks between two users: conditional debit, credit,
// and both ledger rows in one database transaction.
func (r *PostgresRepository) TransferSparks(ctx context.Context, senderID uuid.UUID, recipientID uuid.UUID, amount int64) (int64, int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	var senderBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET sparks = sparks - $2, updated_at = NOW()
		 WHERE id = $1 AND sparks >= $2
		 RETURNING sparks`,
		senderID, amount,
	).Scan(&senderBalance)
	if err != nil {
		if err == pgx.ErrNoRows {
			if _, findErr := r.FindUserByID(ctx, senderID); findErr != nil {
				return 0, 0, findErr
			}
			return 0, 0, ErrInsufficientSparks
		}
		return 0, 0, err
	}

	var recipientBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET sparks = sparks + $2, updated_at = NOW() WHERE id = $1 RETURNING sparks`,
		recipientID, amount,
	).Scan(&recipientBalance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, err
	}

	sendRow := &domain.SparkTransaction{
		ID:           uuid.New(),
		UserID:       senderID,
		Type:         domain.SparkTypeTransferSend,
		Amount:       -amount,
		BalanceAfter: senderBalance,
		Description:  "Sparks sent",
		Metadata:     map[string]interface{}{"recipient_id": recipientID.String()},
	}
	if err := insertSparkTransactionTx(ctx, tx, sendRow); err != nil {
		return 0, 0, err
	}
	receiveRow := &domain.SparkTransaction{
		ID:           uuid.New(),
		UserID:       recipientID,
		Type:         domain.SparkTypeTransferReceive,
		Amount:       amount,
		BalanceAfter: recipientBalance,
		Description:  "Sparks received",
		Metadata:     map[string]interface{}{"sender_id": senderID.String()},
	}
	if err := insertSparkTransactionTx(ctx, tx, receiveRow); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return senderBalance, recipientBalance, nil
}

// ClaimDailyReward credits the daily reward at most once per window. The
// timestamp guard and the credit are one conditional statement, so two
// simultaneous claims cannot both succeed.
func (r *PostgresRepository) ClaimDailyReward(ctx context.Context, userID uuid.UUID, amount int64, window time.Duration) (*domain.SparkTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`UPDATE users
		 SET sparks = sparks + $2, last_reward_claimed_at = NOW(), updated_at = NOW()
		 WHERE id = $1
		   AND (last_reward_claimed_at IS NULL OR last_reward_claimed_at <= NOW() - make_interval(secs => $3))
		 RETURNING sparks`,
		userID, amount, window.Seconds(),
	).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			if _, findErr := r.FindUserByID(ctx, userID); findErr != nil {
				return nil, findErr
			}
			return nil, ErrRewardAlreadyClaimed
		}
		return nil, err
	}

	row := &domain.SparkTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         domain.SparkTypeDailyReward,
		Amount:       amount,
		BalanceAfter: balance,
		Description:  "Daily activity reward",
	}
	if err := insertSparkTransactionTx(ctx, tx, row); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

// ListSparkTransactions returns a page of the user's spark ledger, newest first.
func (r *PostgresRepository) ListSparkTransactions(ctx context.Context, userID uuid.UUID, opts domain.SparkListOptions) ([]domain.SparkTransaction, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, user_id, type, amount, balance_after, COALESCE(description, ''), metadata, created_at
		FROM spark_transactions
		WHERE user_id = $1 AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.db.Query(ctx, query, userID, opts.Type, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.SparkTransaction
	for rows.Next() {
		var t domain.SparkTransaction
		var metadata []byte
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Description, &metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, err
			}
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// ListAllSparkTransactionsByUser returns the user's full spark ledger oldest
// first, for replay.
func (r *PostgresRepository) ListAllSparkTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.SparkTransaction, error) {
	query := `
		SELECT id, user_id, type, amount, balance_after, COALESCE(description, ''), metadata, created_at
		FROM spark_transactions
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.SparkTransaction
	for rows.Next() {
		var t domain.SparkTransaction
		var metadata []byte
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Description, &metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, err
			}
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// GetSparkTotals sums lifetime earned and spent sparks from the ledger.
func (r *PostgresRepository) GetSparkTotals(ctx context.Context, userID uuid.UUID) (int64, int64, error) {
	var earned, spent int64
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0),
			COALESCE(-SUM(amount) FILTER (WHERE amount < 0), 0)
		FROM spark_transactions
		WHERE user_id = $1`
	if err := r.db.QueryRow(ctx, query, userID).Scan(&earned, &spent); err != nil {
		return 0, 0, err
	}
	return earned, spent, nil
}

// ListDailyRewardDays returns the distinct calendar days with a daily reward
// claim, newest first, for streak computation.
func (r *PostgresRepository) ListDailyRewardDays(ctx context.Context, userID uuid.UUID, limit int) ([]time.Time, error) {
	if limit <= 0 || limit > 366 {
		limit = 60
	}
	query := `
		SELECT DISTINCT date_trunc('day', created_at) AS day
		FROM spark_transactions
		WHERE user_id = $1 AND type = 'daily_reward'
		ORDER BY day DESC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}
