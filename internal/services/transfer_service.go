package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"custody/internal/apperr"
	"custody/internal/db"
	"custody/internal/events"
	"custody/internal/metrics"
	"custody/internal/models"
	"custody/internal/store"
	"custody/internal/validator"

	"github.com/jmoiron/sqlx"
)

const maxIdempotencyKeyLength = 100

type TransferService struct {
	txRunner  db.TxRunner
	wallets   *WalletService
	ledger    *LedgerService
	audit     AuditStore
	publisher events.Publisher
}

func NewTransferService(txRunner db.TxRunner, wallets *WalletService, ledger *LedgerService, audit AuditStore, publisher events.Publisher) *TransferService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &TransferService{
		txRunner:  txRunner,
		wallets:   wallets,
		ledger:    ledger,
		audit:     audit,
		publisher: publisher,
	}
}

type TransferRequest struct {
	UserID                string
	RecipientWalletNumber string
	Amount                int64
	IdempotencyKey        string
}

type TransferResult struct {
	Reference             string    `json:"reference"`
	Amount                int64     `json:"amount"`
	RecipientWalletNumber string    `json:"recipient_wallet"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"created_at"`
}

// Transfer debits the caller's wallet and credits the wallet behind
// RecipientWalletNumber, recording one ledger row in the same unit of work.
// A repeated IdempotencyKey for the same transfer returns the original
// result.
func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	result, err := s.transfer(ctx, req)
	if err != nil {
		metrics.ObserveTransfer(strings.ToLower(string(apperr.KindOf(err))))
		return TransferResult{}, err
	}
	return result, nil
}

func (s *TransferService) transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := validator.ValidateAmount(req.Amount); err != nil {
		return TransferResult{}, err
	}
	if err := validator.ValidateWalletNumber(req.RecipientWalletNumber); err != nil {
		return TransferResult{}, err
	}
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if len(idempotencyKey) > maxIdempotencyKeyLength {
		return TransferResult{}, apperr.New(apperr.KindInvalidRequest, "idempotency key must be at most 100 characters")
	}

	sender, err := s.wallets.GetByUserID(ctx, req.UserID)
	if err != nil {
		return TransferResult{}, err
	}
	recipient, err := s.wallets.GetByNumber(ctx, req.RecipientWalletNumber)
	if err != nil {
		return TransferResult{}, err
	}
	if sender.ID == recipient.ID {
		return TransferResult{}, apperr.ErrSameWalletTransfer
	}

	reference := NewReference()
	if idempotencyKey != "" {
		reference = idempotentReference(req.UserID, idempotencyKey)
		if replay, ok, err := s.replay(ctx, reference, req, sender, recipient); err != nil || ok {
			return replay, err
		}
	}

	var txn models.Transaction
	var senderAfter, recipientAfter models.Wallet
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		senderAfter, recipientAfter, err = s.wallets.transferTx(ctx, tx, sender.ID, recipient.ID, req.Amount)
		if err != nil {
			return err
		}
		txn, err = s.ledger.Record(ctx, tx, store.TransactionInput{
			Reference:         reference,
			UserID:            req.UserID,
			Amount:            req.Amount,
			Status:            models.StatusSuccess,
			Type:              models.TypeTransfer,
			SenderWalletID:    stringPtr(sender.ID),
			RecipientWalletID: stringPtr(recipient.ID),
		})
		if err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]any{
			"reference":        reference,
			"amount":           req.Amount,
			"recipient_wallet": recipient.WalletNumber,
		})
		return s.audit.Log(ctx, tx, req.UserID, "transfer", "transaction", txn.ID, string(data))
	})
	if err != nil {
		return TransferResult{}, err
	}

	s.wallets.notifyBalance(senderAfter, "transfer_out")
	s.wallets.notifyBalance(recipientAfter, "transfer_in")
	metrics.ObserveTransfer("completed")
	events.PublishBestEffort(ctx, s.publisher, events.TransferCompleted, events.TransferEvent{
		Reference:             txn.Reference,
		SenderUserID:          sender.UserID,
		SenderWalletNumber:    sender.WalletNumber,
		RecipientUserID:       recipient.UserID,
		RecipientWalletNumber: recipient.WalletNumber,
		Amount:                txn.Amount,
	})
	return TransferResult{
		Reference:             txn.Reference,
		Amount:                txn.Amount,
		RecipientWalletNumber: recipient.WalletNumber,
		Status:                txn.Status,
		CreatedAt:             txn.CreatedAt,
	}, nil
}

// replay looks up a transfer already recorded under reference. A match for
// the same sender, recipient and amount is returned as-is; anything else
// using the reference is a conflict.
func (s *TransferService) replay(ctx context.Context, reference string, req TransferRequest, sender, recipient models.Wallet) (TransferResult, bool, error) {
	existing, err := s.ledger.transactions.GetByReference(ctx, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return TransferResult{}, false, nil
	}
	if err != nil {
		return TransferResult{}, false, err
	}
	sameTransfer := existing.Type == models.TypeTransfer &&
		existing.UserID == req.UserID &&
		existing.Amount == req.Amount &&
		existing.SenderWalletID != nil && *existing.SenderWalletID == sender.ID &&
		existing.RecipientWalletID != nil && *existing.RecipientWalletID == recipient.ID
	if !sameTransfer {
		return TransferResult{}, false, apperr.ErrDuplicateReference
	}
	return TransferResult{
		Reference:             existing.Reference,
		Amount:                existing.Amount,
		RecipientWalletNumber: recipient.WalletNumber,
		Status:                existing.Status,
		CreatedAt:             existing.CreatedAt,
	}, true, nil
}

// idempotentReference scopes a client idempotency key to its user, so equal
// keys from different users never share a reference.
func idempotentReference(userID, key string) string {
	sum := sha256.Sum256([]byte(userID + ":" + key))
	return "TXN_" + hex.EncodeToString(sum[:])[:32]
}
