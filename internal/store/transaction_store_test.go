package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"custody/internal/apperr"
	"custody/internal/models"

	"github.com/lib/pq"
)

func TestTransactionStoreCreate(t *testing.T) {
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO transactions") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 11 || args[1] != "TXN_1" || args[3] != int64(5000) || args[4] != "pending" || args[5] != "deposit" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	err := NewTransactionStore(stubDB{}).Create(context.Background(), execer, TransactionInput{
		ID: "tx-1", Reference: "TXN_1", UserID: "user-1", Amount: 5000, Status: "pending", Type: "deposit",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransactionStoreCreateDuplicateReference(t *testing.T) {
	execer := stubExecer{
		execFn: func(context.Context, string, ...any) (sql.Result, error) {
			return nil, &pq.Error{Code: "23505", Constraint: "transactions_reference_key"}
		},
	}
	err := NewTransactionStore(stubDB{}).Create(context.Background(), execer, TransactionInput{Reference: "TXN_1"})
	if !errors.Is(err, apperr.ErrDuplicateReference) {
		t.Fatalf("expected duplicate reference, got %v", err)
	}
}

func TestTransactionStoreCreateOtherUniqueViolationPassesThrough(t *testing.T) {
	execer := stubExecer{
		execFn: func(context.Context, string, ...any) (sql.Result, error) {
			return nil, &pq.Error{Code: "23505", Constraint: "transactions_pkey"}
		},
	}
	err := NewTransactionStore(stubDB{}).Create(context.Background(), execer, TransactionInput{Reference: "TXN_1"})
	if errors.Is(err, apperr.ErrDuplicateReference) {
		t.Fatal("expected raw error for a different constraint")
	}
}

func TestTransactionStoreGetByReferenceForUpdate(t *testing.T) {
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "WHERE reference = $1") || !strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*models.Transaction) = models.Transaction{Reference: "TXN_1", Status: "pending"}
			return nil
		},
	}
	row, err := NewTransactionStore(stubDB{}).GetByReferenceForUpdate(context.Background(), getter, "TXN_1")
	if err != nil || row.Status != "pending" {
		t.Fatalf("unexpected result %#v %v", row, err)
	}
}

func TestTransactionStoreUpdateStatusOnlyFromPending(t *testing.T) {
	paidAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "status = 'pending'") {
				t.Fatalf("expected pending guard, got: %s", query)
			}
			if len(args) != 3 || args[0] != "success" || args[2] != "TXN_1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			if ptr, ok := args[1].(*time.Time); !ok || !ptr.Equal(paidAt) {
				t.Fatalf("unexpected paid_at: %#v", args[1])
			}
			return stubResult{rows: 1}, nil
		},
	}
	rows, err := NewTransactionStore(stubDB{}).UpdateStatus(context.Background(), execer, "TXN_1", "success", &paidAt)
	if err != nil || rows != 1 {
		t.Fatalf("unexpected result %d %v", rows, err)
	}
}

func TestTransactionStoreFindRecent(t *testing.T) {
	since := time.Now().Add(-10 * time.Minute)
	store := NewTransactionStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "status <> 'failed'") || !strings.Contains(query, "created_at >= $3") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 3 || args[0] != "ada@example.com" || args[1] != int64(5000) || args[2] != since {
				t.Fatalf("unexpected args: %#v", args)
			}
			return sql.ErrNoRows
		},
	})
	if _, err := store.FindRecent(context.Background(), "ada@example.com", 5000, since); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestTransactionStoreListByUser(t *testing.T) {
	store := NewTransactionStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "t.recipient_wallet_id = $2") || !strings.Contains(query, "t.transaction_type = $3") {
				t.Fatalf("unexpected query: %s", query)
			}
			if !strings.Contains(query, "LIMIT $4 OFFSET $5") {
				t.Fatalf("unexpected paging: %s", query)
			}
			if len(args) != 5 || args[0] != "user-1" || args[1] != "wallet-1" || args[2] != "transfer" || args[3] != 20 || args[4] != 0 {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*[]models.TransactionView) = []models.TransactionView{{Transaction: models.Transaction{Reference: "TXN_1"}}}
			return nil
		},
	})
	rows, err := store.ListByUser(context.Background(), "user-1", "wallet-1", "transfer", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Reference != "TXN_1" {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestTransactionStoreListByUserWithoutType(t *testing.T) {
	store := NewTransactionStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "LIMIT $3 OFFSET $4") || len(args) != 4 {
				t.Fatalf("unexpected query/args: %s %#v", query, args)
			}
			return nil
		},
	})
	if _, err := store.ListByUser(context.Background(), "user-1", "wallet-1", "", 20, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransactionStoreListStalePending(t *testing.T) {
	cutoff := time.Now()
	store := NewTransactionStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "status = 'pending'") || !strings.Contains(query, "created_at < $1") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 2 || args[1] != 25 {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*[]models.Transaction) = []models.Transaction{{Reference: "TXN_old"}}
			return nil
		},
	})
	rows, err := store.ListStalePending(context.Background(), cutoff, 25)
	if err != nil || len(rows) != 1 {
		t.Fatalf("unexpected result %#v %v", rows, err)
	}
}
