/**
 * @description
 * Spark economy use cases: daily rewards, activity awards, spends, gifts and
 * stats. All balance mutations go through single conditional statements in
 * the store, so the service layer only validates, orchestrates and publishes.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/connecta/ledger-service/internal/domain"
	"github.com/google/uuid"
)

// ErrSelfTransfer rejects spark gifts addressed to the sender.
var ErrSelfTransfer = errors.New("cannot transfer sparks to yourself")

// ErrInvalidSparkType rejects award requests with a non-earn type.
var ErrInvalidSparkType = errors.New("invalid spark earn type")

// DailyRewardWindow is the minimum spacing between daily reward claims.
const DailyRewardWindow = 24 * time.Hour

var sparkEarnTypes = map[string]bool{
	domain.SparkTypeProjectCompleted: true,
	domain.SparkTypeReferral:         true,
	domain.SparkTypeBonus:            true,
	domain.SparkTypePurchase:         true,
}

// GetSparkBalance returns the caller's denormalized spark balance.
func (s *Service) GetSparkBalance(ctx context.Context, userID uuid.UUID) (*domain.SparkBalance, error) {
	return s.repo.GetSparkBalance(ctx, userID)
}

// HasSparks reports whether the user could afford a spark-gated feature. Pure
// read; the balance can change before a subsequent Spend, which re-checks
// atomically.
func (s *Service) HasSparks(ctx context.Context, userID uuid.UUID, amount int64) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	balance, err := s.repo.GetSparkBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance.Sparks >= amount, nil
}

// ClaimDailyReward credits the daily reward once per 24-hour window.
func (s *Service) ClaimDailyReward(ctx context.Context, userID uuid.UUID) (*domain.SparkTransaction, error) {
	row, err := s.repo.ClaimDailyReward(ctx, userID, domain.DailyRewardSparks, DailyRewardWindow)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=service op=claim_daily_reward user_id=%s balance=%d", userID, row.BalanceAfter)
	return row, nil
}

// AwardSparks credits sparks for a platform event (project completion,
// referral, bonus, purchase). Called by internal services.
func (s *Service) AwardSparks(ctx context.Context, userID uuid.UUID, amount int64, sparkType, description string, metadata map[string]interface{}) (*domain.SparkTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !sparkEarnTypes[sparkType] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSparkType, sparkType)
	}
	return s.repo.EarnSparks(ctx, userID, amount, sparkType, description, metadata)
}

// SpendSparks debits sparks for a platform feature. The balance check and the
// decrement are one conditional statement in the store, so concurrent spends
// cannot overdraw.
func (s *Service) SpendSparks(ctx context.Context, userID uuid.UUID, req domain.SpendSparksRequest) (*domain.SparkTransaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	row, err := s.repo.SpendSparks(ctx, userID, req.Amount, req.Description)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=service op=spend_sparks user_id=%s amount=%d balance=%d", userID, req.Amount, row.BalanceAfter)
	return row, nil
}

// TransferSparks gifts sparks to another user resolved by email.
func (s *Service) TransferSparks(ctx context.Context, senderID uuid.UUID, req domain.TransferSparksRequest) (*domain.TransferSparksResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.checkRateLimit(ctx, RateLimitScopeTransfer, senderID.String()); err != nil {
		return nil, err
	}

	recipient, err := s.repo.FindUserByEmail(ctx, req.RecipientEmail)
	if err != nil {
		return nil, err
	}
	if recipient.ID == senderID {
		return nil, ErrSelfTransfer
	}

	senderBalance, recipientBalance, err := s.repo.TransferSparks(ctx, senderID, recipient.ID, req.Amount)
	if err != nil {
		return nil, err
	}

	event := domain.SparkTransferEvent{
		EventID:     uuid.New(),
		SenderID:    senderID,
		RecipientID: recipient.ID,
		Amount:      req.Amount,
		OccurredAt:  s.now(),
	}
	if err := s.events.PublishSparkTransferEvent(ctx, event); err != nil {
		log.Printf("level=warn component=service msg=\"spark transfer event publish failed\" sender_id=%s err=%v", senderID, err)
	}

	log.Printf("level=info component=service op=transfer_sparks sender_id=%s recipient_id=%s amount=%d", senderID, recipient.ID, req.Amount)
	return &domain.TransferSparksResult{
		SenderBalance:    senderBalance,
		RecipientID:      recipient.ID,
		RecipientBalance: recipientBalance,
		Amount:           req.Amount,
	}, nil
}

// ListSparkHistory returns a page of the caller's spark ledger.
func (s *Service) ListSparkHistory(ctx context.Context, userID uuid.UUID, opts domain.SparkListOptions) ([]domain.SparkTransaction, error) {
	return s.repo.ListSparkTransactions(ctx, userID, opts)
}

// GetSparkStats aggregates lifetime totals and the daily-reward streak.
func (s *Service) GetSparkStats(ctx context.Context, userID uuid.UUID) (*domain.SparkStats, error) {
	balance, err := s.repo.GetSparkBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	earned, spent, err := s.repo.GetSparkTotals(ctx, userID)
	if err != nil {
		return nil, err
	}
	days, err := s.repo.ListDailyRewardDays(ctx, userID, 60)
	if err != nil {
		return nil, err
	}

	return &domain.SparkStats{
		Balance:      balance.Sparks,
		TotalEarned:  earned,
		TotalSpent:   spent,
		RewardStreak: rewardStreak(days, s.now()),
	}, nil
}

// rewardStreak counts consecutive claim days ending today, or yesterday when
// today's reward has not been claimed yet. Days must be distinct calendar
// days sorted newest first.
func rewardStreak(days []time.Time, now time.Time) int {
	if len(days) == 0 {
		return 0
	}

	today := now.UTC().Truncate(24 * time.Hour)
	first := days[0].UTC().Truncate(24 * time.Hour)
	if first.Before(today.AddDate(0, 0, -1)) {
		return 0
	}

	streak := 1
	prev := first
	for _, day := range days[1:] {
		d := day.UTC().Truncate(24 * time.Hour)
		if !d.Equal(prev.AddDate(0, 0, -1)) {
			break
		}
		streak++
		prev = d
	}
	return streak
}
