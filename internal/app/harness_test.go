package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/connecta/ledger-service/internal/domain"
	"github.com/connecta/ledger-service/internal/store"
	"github.com/connecta/ledger-service/pkg/flutterwave"
	"github.com/google/uuid"
)

// memRepository is an in-memory store.Repository implementing the same
// conditional-update contracts as the PostgreSQL repository, so service tests
// can exercise idempotency, races and fault injection without a database.
type memRepository struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*domain.User
	wallets      map[uuid.UUID]*domain.Wallet
	payments     map[uuid.UUID]*domain.Payment
	jobs         map[uuid.UUID]*memJob
	transactions []domain.Transaction
	sparkTxs     []domain.SparkTransaction

	now func() time.Time

	// failCompletions makes every completion atomic unit fail before any
	// state change, simulating a rolled-back database transaction.
	failCompletions bool
}

type memJob struct {
	PaymentVerified bool
	PaymentStatus   string
	Status          string
}

func newMemRepository() *memRepository {
	return &memRepository{
		users:    make(map[uuid.UUID]*domain.User),
		wallets:  make(map[uuid.UUID]*domain.Wallet),
		payments: make(map[uuid.UUID]*domain.Payment),
		jobs:     make(map[uuid.UUID]*memJob),
		now:      time.Now,
	}
}

func (m *memRepository) addUser(email string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.users[id] = &domain.User{
		ID:                 id,
		Email:              email,
		SubscriptionTier:   domain.SubscriptionTierFree,
		SubscriptionStatus: domain.SubscriptionStatusExpired,
	}
	return id
}

func (m *memRepository) addJob() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.jobs[id] = &memJob{PaymentStatus: "unpaid", Status: "pending_payment"}
	return id
}

func clonePayment(p *domain.Payment) *domain.Payment {
	cp := *p
	return &cp
}

func (m *memRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (m *memRepository) getOrCreateWalletLocked(userID uuid.UUID) *domain.Wallet {
	if w, ok := m.wallets[userID]; ok {
		return w
	}
	w := &domain.Wallet{ID: uuid.New(), UserID: userID, Currency: "NGN", CreatedAt: m.now()}
	m.wallets[userID] = w
	return w
}

func (m *memRepository) GetOrCreateWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.getOrCreateWalletLocked(userID)
	return &cp, nil
}

func (m *memRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = m.now()
	p.UpdatedAt = p.CreatedAt
	m.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *memRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (m *memRepository) FindPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.GatewayReference == reference {
			return clonePayment(p), nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (m *memRepository) FindReusablePendingPayment(ctx context.Context, payerID uuid.UUID, projectID uuid.UUID) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.PayerID == payerID && p.ProjectID != nil && *p.ProjectID == projectID &&
			p.PaymentType == domain.PaymentTypeProjectFunding && p.Status == domain.PaymentStatusPending {
			return clonePayment(p), nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (m *memRepository) MarkPaymentProcessing(ctx context.Context, paymentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[paymentID]; ok && p.Status == domain.PaymentStatusPending {
		p.Status = domain.PaymentStatusProcessing
	}
	return nil
}

func (m *memRepository) MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, reason string, gatewayResponse []byte) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	if p.Status == domain.PaymentStatusPending || p.Status == domain.PaymentStatusProcessing {
		p.Status = domain.PaymentStatusFailed
		p.FailureReason = &reason
		if gatewayResponse != nil {
			p.GatewayResponse = gatewayResponse
		}
	}
	return clonePayment(p), nil
}

func (m *memRepository) ListPaymentsByUser(ctx context.Context, userID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Payment
	for _, p := range m.payments {
		if p.PayerID == userID || (p.PayeeID != nil && *p.PayeeID == userID) {
			out = append(out, *clonePayment(p))
		}
	}
	return out, nil
}

func (m *memRepository) GetPaymentStats(ctx context.Context) (*domain.PaymentStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats domain.PaymentStats
	for _, p := range m.payments {
		switch p.Status {
		case domain.PaymentStatusCompleted:
			stats.CompletedCount++
			stats.CompletedVolume += p.Amount
			stats.TotalFees += p.PlatformFee
			if p.EscrowStatus == domain.EscrowStatusHeld {
				stats.EscrowHeld += p.NetAmount
			}
		case domain.PaymentStatusPending, domain.PaymentStatusProcessing:
			stats.PendingCount++
		case domain.PaymentStatusFailed:
			stats.FailedCount++
		}
	}
	return &stats, nil
}

// completeLocked performs the conditional status flip. Returns nil when
// another writer already completed the payment.
func (m *memRepository) completeLocked(paymentID uuid.UUID, gatewayResponse []byte, escrowStatus string) *domain.Payment {
	p, ok := m.payments[paymentID]
	if !ok {
		return nil
	}
	if p.Status != domain.PaymentStatusPending && p.Status != domain.PaymentStatusProcessing {
		return nil
	}
	now := m.now()
	p.Status = domain.PaymentStatusCompleted
	p.EscrowStatus = escrowStatus
	p.GatewayResponse = gatewayResponse
	p.PaidAt = &now
	p.UpdatedAt = now
	return p
}

func (m *memRepository) CompleteJobVerificationPayment(ctx context.Context, paymentID uuid.UUID, gatewayResponse []byte) (*domain.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCompletions {
		return nil, false, errors.New("injected completion failure")
	}
	p := m.completeLocked(paymentID, gatewayResponse, domain.EscrowStatusNone)
	if p == nil {
		existing, ok := m.payments[paymentID]
		if !ok {
			return nil, false, store.ErrPaymentNotFound
		}
		return clonePayment(existing), false, nil
	}
	if p.JobID != nil {
		if job, ok := m.jobs[*p.JobID]; ok {
			job.PaymentVerified = true
			job.PaymentStatus = "escrow"
			job.Status = "active"
		}
	}
	return clonePayment(p), true, nil
}

func (m *memRepository) CompleteProjectFundingPayment(ctx context.Context, paymentID uuid.UUID, gatewayResponse []byte) (*domain.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCompletions {
		return nil, false, errors.New("injected completion failure")
	}
	p := m.completeLocked(paymentID, gatewayResponse, domain.EscrowStatusHeld)
	if p == nil {
		existing, ok := m.payments[paymentID]
		if !ok {
			return nil, false, store.ErrPaymentNotFound
		}
		return clonePayment(existing), false, nil
	}
	if p.PayeeID == nil {
		return nil, false, fmt.Errorf("project funding payment %s has no payee", p.ID)
	}

	payer := m.getOrCreateWalletLocked(p.PayerID)
	m.transactions = append(m.transactions, domain.Transaction{
		ID: uuid.New(), UserID: p.PayerID, Type: domain.TransactionTypePaymentSent,
		Amount: -p.Amount, Currency: p.Currency, Status: "completed",
		PaymentID: &p.ID, ProjectID: p.ProjectID,
		BalanceBefore: -payer.TotalSpent, BalanceAfter: -(payer.TotalSpent + p.Amount),
		Description: "Project funding sent", CreatedAt: m.now(),
	})
	payer.TotalSpent += p.Amount

	payee := m.getOrCreateWalletLocked(*p.PayeeID)
	m.transactions = append(m.transactions, domain.Transaction{
		ID: uuid.New(), UserID: *p.PayeeID, Type: domain.TransactionTypePaymentReceived,
		Amount: p.NetAmount, Currency: p.Currency, Status: "completed",
		PaymentID: &p.ID, ProjectID: p.ProjectID,
		BalanceBefore: payee.Balance, BalanceAfter: payee.Balance + p.NetAmount,
		Description: "Project funding received (held in escrow)", CreatedAt: m.now(),
	})
	payee.Balance += p.NetAmount
	payee.EscrowBalance += p.NetAmount

	return clonePayment(p), true, nil
}

func (m *memRepository) CompleteSubscriptionPayment(ctx context.Context, paymentID uuid.UUID, gatewayResponse []byte, tier string, expiry time.Time) (*domain.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCompletions {
		return nil, false, errors.New("injected completion failure")
	}
	p := m.completeLocked(paymentID, gatewayResponse, domain.EscrowStatusNone)
	if p == nil {
		existing, ok := m.payments[paymentID]
		if !ok {
			return nil, false, store.ErrPaymentNotFound
		}
		return clonePayment(existing), false, nil
	}
	u, ok := m.users[p.PayerID]
	if !ok {
		return nil, false, store.ErrUserNotFound
	}
	u.IsPremium = true
	u.SubscriptionTier = tier
	u.SubscriptionStatus = domain.SubscriptionStatusActive
	exp := expiry
	u.PremiumExpiryDate = &exp
	return clonePayment(p), true, nil
}

func (m *memRepository) ReleaseEscrowPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	if p.Status != domain.PaymentStatusCompleted || p.EscrowStatus != domain.EscrowStatusHeld {
		return nil, store.ErrEscrowNotHeld
	}
	w := m.getOrCreateWalletLocked(*p.PayeeID)
	if w.EscrowBalance < p.NetAmount {
		return nil, store.ErrInsufficientFunds
	}
	now := m.now()
	p.EscrowStatus = domain.EscrowStatusReleased
	p.ReleasedAt = &now
	w.EscrowBalance -= p.NetAmount
	w.TotalEarned += p.NetAmount
	return clonePayment(p), nil
}

func (m *memRepository) RefundEscrowPayment(ctx context.Context, paymentID uuid.UUID, reason string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	if p.Status != domain.PaymentStatusCompleted || p.EscrowStatus != domain.EscrowStatusHeld {
		return nil, store.ErrEscrowNotHeld
	}
	payee := m.getOrCreateWalletLocked(*p.PayeeID)
	if payee.Balance < p.NetAmount || payee.EscrowBalance < p.NetAmount {
		return nil, store.ErrInsufficientFunds
	}
	payer := m.getOrCreateWalletLocked(p.PayerID)
	if payer.TotalSpent < p.Amount {
		return nil, store.ErrInsufficientFunds
	}
	now := m.now()
	p.EscrowStatus = domain.EscrowStatusRefunded
	p.RefundedAt = &now

	m.transactions = append(m.transactions, domain.Transaction{
		ID: uuid.New(), UserID: *p.PayeeID, Type: domain.TransactionTypeRefund,
		Amount: -p.NetAmount, Currency: p.Currency, Status: "completed",
		PaymentID: &p.ID, ProjectID: p.ProjectID,
		BalanceBefore: payee.Balance, BalanceAfter: payee.Balance - p.NetAmount,
		Description: "Payment refunded", CreatedAt: now,
	})
	payee.Balance -= p.NetAmount
	payee.EscrowBalance -= p.NetAmount

	m.transactions = append(m.transactions, domain.Transaction{
		ID: uuid.New(), UserID: p.PayerID, Type: domain.TransactionTypeRefund,
		Amount: p.Amount, Currency: p.Currency, Status: "completed",
		PaymentID: &p.ID, ProjectID: p.ProjectID,
		BalanceBefore: -payer.TotalSpent, BalanceAfter: -(payer.TotalSpent - p.Amount),
		Description: "Payment refunded", CreatedAt: now,
	})
	payer.TotalSpent -= p.Amount

	return clonePayment(p), nil
}

func (m *memRepository) WithdrawFromWallet(ctx context.Context, userID uuid.UUID, amount int64, fee int64) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.getOrCreateWalletLocked(userID)
	total := amount + fee
	if w.Balance-w.EscrowBalance < total {
		return nil, store.ErrInsufficientFunds
	}
	w.Balance -= total
	row := domain.Transaction{
		ID: uuid.New(), UserID: userID, Type: domain.TransactionTypeWithdrawal,
		Amount: -total, Currency: "NGN", Status: "completed",
		BalanceBefore: w.Balance + total, BalanceAfter: w.Balance,
		Description: fmt.Sprintf("Withdrawal of %d kobo (fee %d kobo)", amount, fee),
		CreatedAt:   m.now(),
	}
	m.transactions = append(m.transactions, row)
	return &row, nil
}

func (m *memRepository) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	return m.ListAllTransactionsByUser(ctx, userID)
}

func (m *memRepository) ListAllTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memRepository) GetSparkBalance(ctx context.Context, userID uuid.UUID) (*domain.SparkBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &domain.SparkBalance{UserID: userID, Sparks: u.Sparks, LastRewardClaimedAt: u.LastRewardClaimedAt}, nil
}

func (m *memRepository) appendSparkTxLocked(userID uuid.UUID, amount int64, sparkType, description string, balance int64, metadata map[string]interface{}) *domain.SparkTransaction {
	row := domain.SparkTransaction{
		ID: uuid.New(), UserID: userID, Type: sparkType, Amount: amount,
		BalanceAfter: balance, Description: description, Metadata: metadata,
		CreatedAt: m.now(),
	}
	m.sparkTxs = append(m.sparkTxs, row)
	return &row
}

func (m *memRepository) EarnSparks(ctx context.Context, userID uuid.UUID, amount int64, sparkType string, description string, metadata map[string]interface{}) (*domain.SparkTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	u.Sparks += amount
	return m.appendSparkTxLocked(userID, amount, sparkType, description, u.Sparks, metadata), nil
}

func (m *memRepository) SpendSparks(ctx context.Context, userID uuid.UUID, amount int64, description string) (*domain.SparkTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	if u.Sparks < amount {
		return nil, store.ErrInsufficientSparks
	}
	u.Sparks -= amount
	return m.appendSparkTxLocked(userID, -amount, domain.SparkTypeSpend, description, u.Sparks, nil), nil
}

func (m *memRepository) TransferSparks(ctx context.Context, senderID uuid.UUID, recipientID uuid.UUID, amount int64) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sender, ok := m.users[senderID]
	if !ok {
		return 0, 0, store.ErrUserNotFound
	}
	recipient, ok := m.users[recipientID]
	if !ok {
		return 0, 0, store.ErrUserNotFound
	}
	if sender.Sparks < amount {
		return 0, 0, store.ErrInsufficientSparks
	}
	sender.Sparks -= amount
	recipient.Sparks += amount
	m.appendSparkTxLocked(senderID, -amount, domain.SparkTypeTransferSend, "Sparks sent", sender.Sparks, map[string]interface{}{"recipient_id": recipientID.String()})
	m.appendSparkTxLocked(recipientID, amount, domain.SparkTypeTransferReceive, "Sparks received", recipient.Sparks, map[string]interface{}{"sender_id": senderID.String()})
	return sender.Sparks, recipient.Sparks, nil
}

func (m *memRepository) ClaimDailyReward(ctx context.Context, userID uuid.UUID, amount int64, window time.Duration) (*domain.SparkTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	now := m.now()
	if u.LastRewardClaimedAt != nil && u.LastRewardClaimedAt.After(now.Add(-window)) {
		return nil, store.ErrRewardAlreadyClaimed
	}
	u.Sparks += amount
	claimed := now
	u.LastRewardClaimedAt = &claimed
	return m.appendSparkTxLocked(userID, amount, domain.SparkTypeDailyReward, "Daily activity reward", u.Sparks, nil), nil
}

func (m *memRepository) ListSparkTransactions(ctx context.Context, userID uuid.UUID, opts domain.SparkListOptions) ([]domain.SparkTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SparkTransaction
	for _, t := range m.sparkTxs {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memRepository) ListAllSparkTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.SparkTransaction, error) {
	return m.ListSparkTransactions(ctx, userID, domain.SparkListOptions{})
}

func (m *memRepository) GetSparkTotals(ctx context.Context, userID uuid.UUID) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var earned, spent int64
	for _, t := range m.sparkTxs {
		if t.UserID != userID {
			continue
		}
		if t.Amount > 0 {
			earned += t.Amount
		} else {
			spent -= t.Amount
		}
	}
	return earned, spent, nil
}

func (m *memRepository) ListDailyRewardDays(ctx context.Context, userID uuid.UUID, limit int) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[time.Time]bool)
	var days []time.Time
	for i := len(m.sparkTxs) - 1; i >= 0; i-- {
		t := m.sparkTxs[i]
		if t.UserID != userID || t.Type != domain.SparkTypeDailyReward {
			continue
		}
		day := t.CreatedAt.UTC().Truncate(24 * time.Hour)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	return days, nil
}

func (m *memRepository) subscriptionLocked(u *domain.User) *domain.Subscription {
	return &domain.Subscription{
		UserID:            u.ID,
		IsPremium:         u.IsPremium,
		Tier:              u.SubscriptionTier,
		Status:            u.SubscriptionStatus,
		PremiumExpiryDate: u.PremiumExpiryDate,
	}
}

func (m *memRepository) GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	if _, err := m.ExpireSubscriptionIfLapsed(ctx, userID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return m.subscriptionLocked(u), nil
}

func (m *memRepository) ExpireSubscriptionIfLapsed(ctx context.Context, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return false, store.ErrUserNotFound
	}
	if u.IsPremium && u.PremiumExpiryDate != nil && u.PremiumExpiryDate.Before(m.now()) {
		u.IsPremium = false
		u.SubscriptionTier = domain.SubscriptionTierFree
		u.SubscriptionStatus = domain.SubscriptionStatusExpired
		return true, nil
	}
	return false, nil
}

func (m *memRepository) CancelSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	if u.IsPremium {
		u.SubscriptionStatus = domain.SubscriptionStatusCancelled
	}
	return m.subscriptionLocked(u), nil
}

func (m *memRepository) ExpireLapsedSubscriptions(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, u := range m.users {
		if u.IsPremium && u.PremiumExpiryDate != nil && u.PremiumExpiryDate.Before(m.now()) {
			u.IsPremium = false
			u.SubscriptionTier = domain.SubscriptionTierFree
			u.SubscriptionStatus = domain.SubscriptionStatusExpired
			count++
		}
	}
	return count, nil
}

var _ store.Repository = (*memRepository)(nil)

// fakeGateway scripts gateway responses per call.
type fakeGateway struct {
	mu           sync.Mutex
	verifyCalls  int
	sessionCalls int

	verifyFn  func() (*flutterwave.VerificationData, error)
	sessionFn func(req flutterwave.CheckoutRequest) (*flutterwave.CheckoutSession, error)
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req flutterwave.CheckoutRequest) (*flutterwave.CheckoutSession, error) {
	g.mu.Lock()
	g.sessionCalls++
	g.mu.Unlock()
	if g.sessionFn != nil {
		return g.sessionFn(req)
	}
	return &flutterwave.CheckoutSession{AuthorizationURL: "https://checkout.example/" + req.TxRef}, nil
}

func (g *fakeGateway) VerifyTransaction(ctx context.Context, transactionID string) (*flutterwave.VerificationData, error) {
	g.mu.Lock()
	g.verifyCalls++
	g.mu.Unlock()
	return g.verifyFn()
}

func (g *fakeGateway) VerifyTransactionByReference(ctx context.Context, txRef string) (*flutterwave.VerificationData, error) {
	g.mu.Lock()
	g.verifyCalls++
	g.mu.Unlock()
	return g.verifyFn()
}

func successfulVerification(txRef string, amountKobo int64, meta map[string]interface{}) func() (*flutterwave.VerificationData, error) {
	return func() (*flutterwave.VerificationData, error) {
		return &flutterwave.VerificationData{
			Status:     "successful",
			TxRef:      txRef,
			AmountKobo: amountKobo,
			Currency:   "NGN",
			Meta:       meta,
			Raw:        []byte(`{"status":"successful"}`),
		}, nil
	}
}

// fakePublisher records published events.
type fakePublisher struct {
	mu             sync.Mutex
	paymentEvents  []domain.PaymentEvent
	escrowEvents   []domain.EscrowEvent
	transferEvents []domain.SparkTransferEvent
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

func (p *fakePublisher) PublishPaymentEvent(ctx context.Context, event domain.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paymentEvents = append(p.paymentEvents, event)
	return nil
}

func (p *fakePublisher) PublishEscrowEvent(ctx context.Context, event domain.EscrowEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.escrowEvents = append(p.escrowEvents, event)
	return nil
}

func (p *fakePublisher) PublishSparkTransferEvent(ctx context.Context, event domain.SparkTransferEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transferEvents = append(p.transferEvents, event)
	return nil
}

func (p *fakePublisher) Close() {}

func newTestService(repo *memRepository, gateway *fakeGateway) (*Service, *fakePublisher) {
	publisher := &fakePublisher{}
	svc := NewService(repo, gateway, publisher, "https://app.example/payments/callback")
	return svc, publisher
}
