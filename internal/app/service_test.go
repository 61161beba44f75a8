package app

import (
	"context"
	"errors"
	"testing"

	"github.com/connecta/ledger-service/internal/domain"
	"github.com/connecta/ledger-service/internal/store"
	"github.com/connecta/ledger-service/pkg/flutterwave"
	"github.com/google/uuid"
)

// fundProject initializes a project funding payment and returns it still pending.
func fundProject(t *testing.T, svc *Service, repo *memRepository, payerID, payeeID uuid.UUID, amount int64) *domain.Payment {
	t.Helper()
	resp, err := svc.InitializeProjectFunding(context.Background(), payerID, domain.InitializeProjectFundingRequest{
		ProjectID: uuid.New(),
		PayeeID:   payeeID,
		Amount:    amount,
	})
	if err != nil {
		t.Fatalf("InitializeProjectFunding: %v", err)
	}
	payment, err := repo.FindPaymentByID(context.Background(), resp.PaymentID)
	if err != nil {
		t.Fatalf("FindPaymentByID: %v", err)
	}
	return payment
}

func TestVerifyProjectFundingMovesEscrowedFunds(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	gw := &fakeGateway{}
	svc, publisher := newTestService(repo, gw)

	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)
	if payment.PlatformFee != 5000 || payment.NetAmount != 45000 {
		t.Fatalf("fee split = %d/%d, want 5000/45000", payment.PlatformFee, payment.NetAmount)
	}

	gw.verifyFn = successfulVerification(payment.GatewayReference, 50000, nil)
	completed, err := svc.VerifyPayment(context.Background(), payerID, domain.VerifyPaymentRequest{Reference: payment.GatewayReference})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if completed.Status != domain.PaymentStatusCompleted || completed.EscrowStatus != domain.EscrowStatusHeld {
		t.Fatalf("payment = %s/%s, want completed/held", completed.Status, completed.EscrowStatus)
	}
	if completed.PaidAt == nil {
		t.Fatal("PaidAt not set")
	}

	payerWallet, _ := repo.GetOrCreateWallet(context.Background(), payerID)
	payeeWallet, _ := repo.GetOrCreateWallet(context.Background(), payeeID)
	if payerWallet.TotalSpent != 50000 {
		t.Errorf("payer TotalSpent = %d, want 50000", payerWallet.TotalSpent)
	}
	if payeeWallet.Balance != 45000 || payeeWallet.EscrowBalance != 45000 {
		t.Errorf("payee wallet = %d/%d, want 45000/45000", payeeWallet.Balance, payeeWallet.EscrowBalance)
	}
	if payeeWallet.AvailableBalance() != 0 {
		t.Errorf("payee available = %d, want 0 while held", payeeWallet.AvailableBalance())
	}

	rows := repo.transactions
	if len(rows) != 2 {
		t.Fatalf("ledger rows = %d, want 2", len(rows))
	}
	for _, row := range rows {
		if row.BalanceAfter-row.BalanceBefore != row.Amount {
			t.Errorf("row %s violates snapshot invariant: %d - %d != %d", row.Type, row.BalanceAfter, row.BalanceBefore, row.Amount)
		}
	}

	if len(publisher.paymentEvents) != 1 || publisher.paymentEvents[0].Status != domain.PaymentStatusCompleted {
		t.Fatalf("payment events = %+v, want one completed", publisher.paymentEvents)
	}
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	gw := &fakeGateway{}
	svc, publisher := newTestService(repo, gw)

	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)
	gw.verifyFn = successfulVerification(payment.GatewayReference, 50000, nil)

	req := domain.VerifyPaymentRequest{Reference: payment.GatewayReference}
	if _, err := svc.VerifyPayment(context.Background(), payerID, req); err != nil {
		t.Fatalf("first VerifyPayment: %v", err)
	}
	second, err := svc.VerifyPayment(context.Background(), payerID, req)
	if err != nil {
		t.Fatalf("second VerifyPayment: %v", err)
	}
	if second.Status != domain.PaymentStatusCompleted {
		t.Fatalf("second verify status = %s, want completed", second.Status)
	}

	if gw.verifyCalls != 1 {
		t.Errorf("gateway verify calls = %d, want 1 (completed payments short-circuit)", gw.verifyCalls)
	}
	if len(repo.transactions) != 2 {
		t.Errorf("ledger rows = %d, want 2 (no double credit)", len(repo.transactions))
	}
	if len(publisher.paymentEvents) != 1 {
		t.Errorf("payment events = %d, want 1", len(publisher.paymentEvents))
	}
	payeeWallet, _ := repo.GetOrCreateWallet(context.Background(), payeeID)
	if payeeWallet.Balance != 45000 {
		t.Errorf("payee balance = %d, want 45000", payeeWallet.Balance)
	}
}

func TestVerifyPaymentUnderpaidFails(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	gw := &fakeGateway{}
	svc, publisher := newTestService(repo, gw)

	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)
	gw.verifyFn = successfulVerification(payment.GatewayReference, 49999, nil)

	_, err := svc.VerifyPayment(context.Background(), payerID, domain.VerifyPaymentRequest{Reference: payment.GatewayReference})
	if !errors.Is(err, ErrUnderpaid) {
		t.Fatalf("err = %v, want ErrUnderpaid", err)
	}

	stored, _ := repo.FindPaymentByID(context.Background(), payment.ID)
	if stored.Status != domain.PaymentStatusFailed {
		t.Fatalf("payment status = %s, want failed", stored.Status)
	}
	if stored.FailureReason == nil {
		t.Fatal("failure reason not recorded")
	}
	if len(repo.transactions) != 0 {
		t.Errorf("ledger rows = %d, want 0 on under-payment", len(repo.transactions))
	}
	if len(publisher.paymentEvents) != 1 || publisher.paymentEvents[0].Status != domain.PaymentStatusFailed {
		t.Errorf("payment events = %+v, want one failed", publisher.paymentEvents)
	}
}

func TestVerifyPaymentGatewayFaultLeavesStateRetryable(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	gw := &fakeGateway{}
	svc, publisher := newTestService(repo, gw)

	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)
	gw.verifyFn = func() (*flutterwave.VerificationData, error) {
		return nil, &flutterwave.GatewayError{Kind: flutterwave.KindUnavailable, StatusCode: 502, Message: "bad gateway"}
	}

	req := domain.VerifyPaymentRequest{Reference: payment.GatewayReference}
	_, err := svc.VerifyPayment(context.Background(), payerID, req)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}

	stored, _ := repo.FindPaymentByID(context.Background(), payment.ID)
	if stored.Status == domain.PaymentStatusFailed || stored.Status == domain.PaymentStatusCompleted {
		t.Fatalf("payment status = %s, want still open after gateway fault", stored.Status)
	}
	if len(repo.transactions) != 0 || len(publisher.paymentEvents) != 0 {
		t.Fatal("gateway fault must not write ledger rows or publish events")
	}

	// The same verification succeeds once the gateway recovers.
	gw.verifyFn = successfulVerification(payment.GatewayReference, 50000, nil)
	completed, err := svc.VerifyPayment(context.Background(), payerID, req)
	if err != nil {
		t.Fatalf("retry VerifyPayment: %v", err)
	}
	if completed.Status != domain.PaymentStatusCompleted {
		t.Fatalf("retry status = %s, want completed", completed.Status)
	}
}

func TestVerifyPaymentReferenceMismatchFails(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	gw := &fakeGateway{}
	svc, _ := newTestService(repo, gw)

	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)
	gw.verifyFn = successfulVerification("PRJ_someone_else", 50000, nil)

	_, err := svc.VerifyPayment(context.Background(), payerID, domain.VerifyPaymentRequest{Reference: payment.GatewayReference})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
	stored, _ := repo.FindPaymentByID(context.Background(), payment.ID)
	if stored.Status != domain.PaymentStatusFailed {
		t.Fatalf("payment status = %s, want failed", stored.Status)
	}
}

func TestVerifyPaymentGatewayRejectionFails(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	gw := &fakeGateway{}
	svc, _ := newTestService(repo, gw)

	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)
	gw.verifyFn = func() (*flutterwave.VerificationData, error) {
		return nil, &flutterwave.GatewayError{Kind: flutterwave.KindRejected, StatusCode: 404, Message: "transaction not found"}
	}

	_, err := svc.VerifyPayment(context.Background(), payerID, domain.VerifyPaymentRequest{Reference: payment.GatewayReference})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
	stored, _ := repo.FindPaymentByID(context.Background(), payment.ID)
	if stored.Status != domain.PaymentStatusFailed {
		t.Fatalf("payment status = %s, want failed", stored.Status)
	}
}

func TestVerifyPaymentOwnership(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	strangerID := repo.addUser("stranger@example.com")
	gw := &fakeGateway{}
	svc, _ := newTestService(repo, gw)

	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)
	gw.verifyFn = successfulVerification(payment.GatewayReference, 50000, nil)

	if _, err := svc.VerifyPayment(context.Background(), strangerID, domain.VerifyPaymentRequest{Reference: payment.GatewayReference}); !errors.Is(err, ErrNotPaymentOwner) {
		t.Fatalf("stranger err = %v, want ErrNotPaymentOwner", err)
	}

	// uuid.Nil is the webhook path and skips the ownership check.
	if _, err := svc.VerifyPayment(context.Background(), uuid.Nil, domain.VerifyPaymentRequest{Reference: payment.GatewayReference}); err != nil {
		t.Fatalf("webhook verify err = %v", err)
	}
}

func TestVerifyJobVerificationTouchesNoWallet(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("client@example.com")
	jobID := repo.addJob()
	gw := &fakeGateway{}
	svc, _ := newTestService(repo, gw)

	resp, err := svc.InitializeJobVerification(context.Background(), payerID, domain.InitializeJobVerificationRequest{
		JobID:  jobID,
		Amount: 100000,
	})
	if err != nil {
		t.Fatalf("InitializeJobVerification: %v", err)
	}
	gw.verifyFn = successfulVerification(resp.GatewayReference, 100000, nil)

	completed, err := svc.VerifyPayment(context.Background(), payerID, domain.VerifyPaymentRequest{Reference: resp.GatewayReference})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if completed.Status != domain.PaymentStatusCompleted || completed.NetAmount != 0 {
		t.Fatalf("payment = %s net=%d, want completed net=0", completed.Status, completed.NetAmount)
	}

	job := repo.jobs[jobID]
	if !job.PaymentVerified || job.PaymentStatus != "escrow" || job.Status != "active" {
		t.Fatalf("job = %+v, want verified/escrow/active", job)
	}
	if len(repo.transactions) != 0 {
		t.Errorf("ledger rows = %d, want 0 (fee is platform revenue)", len(repo.transactions))
	}
}

func TestVerifyPaymentCompletionFaultPublishesNothing(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	gw := &fakeGateway{}
	svc, publisher := newTestService(repo, gw)

	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)
	gw.verifyFn = successfulVerification(payment.GatewayReference, 50000, nil)
	repo.failCompletions = true

	req := domain.VerifyPaymentRequest{Reference: payment.GatewayReference}
	if _, err := svc.VerifyPayment(context.Background(), payerID, req); err == nil {
		t.Fatal("expected error from failed completion")
	}
	stored, _ := repo.FindPaymentByID(context.Background(), payment.ID)
	if stored.Status == domain.PaymentStatusCompleted {
		t.Fatal("payment completed despite transaction failure")
	}
	if len(repo.transactions) != 0 || len(publisher.paymentEvents) != 0 {
		t.Fatal("failed completion must leave no ledger rows or events")
	}

	repo.failCompletions = false
	if _, err := svc.VerifyPayment(context.Background(), payerID, req); err != nil {
		t.Fatalf("retry after fault: %v", err)
	}
	if len(repo.transactions) != 2 {
		t.Fatalf("ledger rows = %d after retry, want 2", len(repo.transactions))
	}
}

func TestReleaseEscrow(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	gw := &fakeGateway{}
	svc, publisher := newTestService(repo, gw)

	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)
	gw.verifyFn = successfulVerification(payment.GatewayReference, 50000, nil)
	if _, err := svc.VerifyPayment(context.Background(), payerID, domain.VerifyPaymentRequest{Reference: payment.GatewayReference}); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}

	if _, err := svc.ReleaseEscrow(context.Background(), payeeID, payment.ID); !errors.Is(err, ErrNotPaymentOwner) {
		t.Fatalf("payee release err = %v, want ErrNotPaymentOwner", err)
	}

	released, err := svc.ReleaseEscrow(context.Background(), payerID, payment.ID)
	if err != nil {
		t.Fatalf("ReleaseEscrow: %v", err)
	}
	if released.EscrowStatus != domain.EscrowStatusReleased || released.ReleasedAt == nil {
		t.Fatalf("released = %s/%v", released.EscrowStatus, released.ReleasedAt)
	}

	payeeWallet, _ := repo.GetOrCreateWallet(context.Background(), payeeID)
	if payeeWallet.Balance != 45000 || payeeWallet.EscrowBalance != 0 || payeeWallet.TotalEarned != 45000 {
		t.Fatalf("payee wallet = bal %d escrow %d earned %d, want 45000/0/45000", payeeWallet.Balance, payeeWallet.EscrowBalance, payeeWallet.TotalEarned)
	}
	if payeeWallet.AvailableBalance() != 45000 {
		t.Errorf("available = %d, want 45000 after release", payeeWallet.AvailableBalance())
	}

	// Release moves funds within the balance dimension; no ledger row is added.
	if len(repo.transactions) != 2 {
		t.Errorf("ledger rows = %d, want 2", len(repo.transactions))
	}

	if _, err := svc.ReleaseEscrow(context.Background(), payerID, payment.ID); !errors.Is(err, store.ErrEscrowNotHeld) {
		t.Fatalf("double release err = %v, want ErrEscrowNotHeld", err)
	}
	if len(publisher.escrowEvents) != 1 || publisher.escrowEvents[0].Action != "released" {
		t.Fatalf("escrow events = %+v, want one released", publisher.escrowEvents)
	}
}

func TestRefundPaymentReversesBothWallets(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	gw := &fakeGateway{}
	svc, publisher := newTestService(repo, gw)

	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)
	gw.verifyFn = successfulVerification(payment.GatewayReference, 50000, nil)
	if _, err := svc.VerifyPayment(context.Background(), payerID, domain.VerifyPaymentRequest{Reference: payment.GatewayReference}); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}

	refunded, err := svc.RefundPayment(context.Background(), payerID, payment.ID, "work not delivered")
	if err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if refunded.EscrowStatus != domain.EscrowStatusRefunded || refunded.RefundedAt == nil {
		t.Fatalf("refunded = %s/%v", refunded.EscrowStatus, refunded.RefundedAt)
	}

	payerWallet, _ := repo.GetOrCreateWallet(context.Background(), payerID)
	payeeWallet, _ := repo.GetOrCreateWallet(context.Background(), payeeID)
	if payerWallet.TotalSpent != 0 {
		t.Errorf("payer TotalSpent = %d, want 0 after refund", payerWallet.TotalSpent)
	}
	if payeeWallet.Balance != 0 || payeeWallet.EscrowBalance != 0 {
		t.Errorf("payee wallet = %d/%d, want 0/0 after refund", payeeWallet.Balance, payeeWallet.EscrowBalance)
	}

	if len(repo.transactions) != 4 {
		t.Fatalf("ledger rows = %d, want 4", len(repo.transactions))
	}
	for _, row := range repo.transactions {
		if row.BalanceAfter-row.BalanceBefore != row.Amount {
			t.Errorf("row %s violates snapshot invariant", row.Type)
		}
	}

	if _, err := svc.RefundPayment(context.Background(), payerID, payment.ID, "again"); !errors.Is(err, store.ErrEscrowNotHeld) {
		t.Fatalf("double refund err = %v, want ErrEscrowNotHeld", err)
	}
	if len(publisher.escrowEvents) != 1 || publisher.escrowEvents[0].Action != "refunded" {
		t.Fatalf("escrow events = %+v, want one refunded", publisher.escrowEvents)
	}
}

func TestWithdrawalFee(t *testing.T) {
	cases := []struct {
		amount int64
		fee    int64
	}{
		{100, 1000},
		{499999, 1000},
		{500000, 5000},
		{2000000, 5000},
	}
	for _, c := range cases {
		if got := WithdrawalFee(c.amount); got != c.fee {
			t.Errorf("WithdrawalFee(%d) = %d, want %d", c.amount, got, c.fee)
		}
	}
}

func TestRequestWithdrawalExcludesEscrowedFunds(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	gw := &fakeGateway{}
	svc, _ := newTestService(repo, gw)

	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)
	gw.verifyFn = successfulVerification(payment.GatewayReference, 50000, nil)
	if _, err := svc.VerifyPayment(context.Background(), payerID, domain.VerifyPaymentRequest{Reference: payment.GatewayReference}); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}

	// The 45,000 kobo is still escrowed; nothing is withdrawable yet.
	_, err := svc.RequestWithdrawal(context.Background(), payeeID, domain.WithdrawalRequest{Amount: 10000})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("withdraw while held err = %v, want ErrInsufficientFunds", err)
	}

	if _, err := svc.ReleaseEscrow(context.Background(), payerID, payment.ID); err != nil {
		t.Fatalf("ReleaseEscrow: %v", err)
	}
	row, err := svc.RequestWithdrawal(context.Background(), payeeID, domain.WithdrawalRequest{Amount: 10000})
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}
	if row.Amount != -11000 {
		t.Fatalf("withdrawal row amount = %d, want -11000 (amount plus fee)", row.Amount)
	}
	wallet, _ := repo.GetOrCreateWallet(context.Background(), payeeID)
	if wallet.Balance != 34000 {
		t.Fatalf("balance = %d, want 34000", wallet.Balance)
	}
}

type scriptedLimiter struct {
	allowed    bool
	retryAfter int
	err        error
}

func (l *scriptedLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string) (bool, int, error) {
	return l.allowed, l.retryAfter, l.err
}

func TestVerifyPaymentRateLimit(t *testing.T) {
	repo := newMemRepository()
	payerID := repo.addUser("payer@example.com")
	payeeID := repo.addUser("payee@example.com")
	gw := &fakeGateway{}
	svc, _ := newTestService(repo, gw)
	payment := fundProject(t, svc, repo, payerID, payeeID, 50000)

	svc.SetRateLimiter(&scriptedLimiter{retryAfter: 30})
	_, err := svc.VerifyPayment(context.Background(), payerID, domain.VerifyPaymentRequest{Reference: payment.GatewayReference})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// A broken limiter degrades open.
	svc.SetRateLimiter(&scriptedLimiter{err: errors.New("redis down")})
	gw.verifyFn = successfulVerification(payment.GatewayReference, 50000, nil)
	if _, err := svc.VerifyPayment(context.Background(), payerID, domain.VerifyPaymentRequest{Reference: payment.GatewayReference}); err != nil {
		t.Fatalf("degrade-open verify err = %v", err)
	}
}
