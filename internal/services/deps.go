package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"custody/internal/apperr"
	"custody/internal/models"
	"custody/internal/paystack"
	"custody/internal/store"
	"custody/internal/websocket"

	"github.com/google/uuid"
)

type WalletStore interface {
	Create(ctx context.Context, tx store.Execer, id, userID, walletNumber string) error
	NumberExists(ctx context.Context, walletNumber string) (bool, error)
	GetByID(ctx context.Context, walletID string) (models.Wallet, error)
	GetByUserID(ctx context.Context, userID string) (models.Wallet, error)
	GetByNumber(ctx context.Context, walletNumber string) (models.Wallet, error)
	GetForUpdate(ctx context.Context, tx store.Getter, walletID string) (models.Wallet, error)
	AdjustBalance(ctx context.Context, tx store.Execer, walletID string, delta int64) (int64, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	GetByReference(ctx context.Context, reference string) (models.Transaction, error)
	GetByReferenceForUpdate(ctx context.Context, tx store.Getter, reference string) (models.Transaction, error)
	UpdateStatus(ctx context.Context, tx store.Execer, reference, status string, paidAt *time.Time) (int64, error)
	FindRecent(ctx context.Context, email string, amount int64, since time.Time) (models.Transaction, error)
	ListByUser(ctx context.Context, userID, walletID, txType string, limit, offset int) ([]models.TransactionView, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, user models.User) error
	GetByID(ctx context.Context, userID string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	LockForUpdate(ctx context.Context, tx store.Getter, userID string) error
}

type APIKeyStore interface {
	Create(ctx context.Context, tx store.Execer, key models.APIKey) error
	GetByPrefix(ctx context.Context, prefix string) (models.APIKey, error)
	GetForUser(ctx context.Context, q store.Getter, keyID, userID string) (models.APIKey, error)
	CountActive(ctx context.Context, q store.Getter, userID string, now time.Time) (int, error)
	ListByUser(ctx context.Context, userID string) ([]models.APIKey, error)
	Deactivate(ctx context.Context, tx store.Execer, keyID, userID string) (int64, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type Gateway interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (paystack.InitializeResult, error)
	Verify(ctx context.Context, reference string) (paystack.VerifyResult, error)
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

// NewReference returns a ledger reference of the form TXN_<32 hex chars>.
func NewReference() string {
	return "TXN_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func notFound(err error, kindErr *apperr.Error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return kindErr
	}
	return err
}

func stringPtr(value string) *string {
	return &value
}

func timePtr(value time.Time) *time.Time {
	return &value
}
