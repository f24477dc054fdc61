package handlers

import (
	"context"

	"custody/internal/models"
	"custody/internal/services"
)

type UserStore interface {
	GetByID(ctx context.Context, userID string) (models.User, error)
}

type WalletService interface {
	GetByUserID(ctx context.Context, userID string) (models.Wallet, error)
}

type PaymentService interface {
	InitiateDeposit(ctx context.Context, userID string, amount int64) (services.DepositResult, error)
	PollStatus(ctx context.Context, userID, reference string, force bool) (models.Transaction, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (services.WebhookResult, error)
}

type TransferService interface {
	Transfer(ctx context.Context, req services.TransferRequest) (services.TransferResult, error)
}

type HistoryService interface {
	History(ctx context.Context, q services.HistoryQuery) ([]models.TransactionView, error)
}

type APIKeyService interface {
	Create(ctx context.Context, userID, name string, permissions []string, expiry string) (services.IssuedKey, error)
	Rollover(ctx context.Context, userID, oldKeyID, expiry string) (services.IssuedKey, error)
	List(ctx context.Context, userID string) ([]models.APIKey, error)
	Revoke(ctx context.Context, userID, keyID string) error
	Authenticate(ctx context.Context, raw string) (models.APIKey, error)
}
