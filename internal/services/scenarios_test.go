package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"custody/internal/apperr"
	"custody/internal/models"
	"custody/internal/paystack"
	"custody/internal/store"
)

func TestOverdrawLeavesBalanceUntouched(t *testing.T) {
	f := newFixture()
	f.db.addWallet("w1", "user-1", "1234567890123", 1000)

	if _, err := f.wallets.Debit(context.Background(), "w1", 1500); !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if f.db.balance("w1") != 1000 {
		t.Fatalf("expected balance 1000, got %d", f.db.balance("w1"))
	}
}

func TestTransferDrainsSenderExactly(t *testing.T) {
	f := newFixture()
	f.db.addUser("alice", "alice@example.com")
	f.db.addUser("bob", "bob@example.com")
	f.db.addWallet("w-a", "alice", "1234567890123", 500)
	f.db.addWallet("w-b", "bob", "9876543210987", 70)

	result, err := f.transfers.Transfer(context.Background(), TransferRequest{
		UserID: "alice", RecipientWalletNumber: "9876543210987", Amount: 500,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.db.balance("w-a") != 0 || f.db.balance("w-b") != 570 {
		t.Fatalf("unexpected balances %d %d", f.db.balance("w-a"), f.db.balance("w-b"))
	}
	if f.db.countTxns(models.TypeTransfer) != 1 {
		t.Fatalf("expected one transfer row, got %d", f.db.countTxns(models.TypeTransfer))
	}
	txn, _ := f.db.txn(result.Reference)
	if txn.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s", txn.Status)
	}
}

func TestDepositWebhookDeliveredTwice(t *testing.T) {
	f, payments := newPaymentFixture(stubGateway{})
	seedPendingDeposit(t, f, "TXN_abc", 2000)
	body := webhookBody(paystack.EventChargeSuccess, "TXN_abc", 2000)
	sig := paystack.Sign(testWebhookSecret, body)

	if _, err := payments.HandleWebhook(context.Background(), body, sig); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	second, err := payments.HandleWebhook(context.Background(), body, sig)
	if err != nil {
		t.Fatalf("second delivery should succeed, got %v", err)
	}
	if second.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate outcome, got %s", second.Outcome)
	}
	if f.db.balance("w1") != 2000 {
		t.Fatalf("expected a single credit, balance=%d", f.db.balance("w1"))
	}
}

func TestConcurrentRecordKeepsOneRowPerReference(t *testing.T) {
	f := newFixture()
	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Record(context.Background(), nil, store.TransactionInput{
				Reference: "TXN_same",
				UserID:    "user-1",
				Amount:    100,
				Status:    models.StatusPending,
				Type:      models.TypeDeposit,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, apperr.ErrDuplicateReference):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || f.db.countTxns(models.TypeDeposit) != 1 {
		t.Fatalf("expected exactly one row, succeeded=%d rows=%d", succeeded, f.db.countTxns(models.TypeDeposit))
	}
}
