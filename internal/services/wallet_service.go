package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"math/big"
	"time"

	"custody/internal/apperr"
	"custody/internal/db"
	"custody/internal/models"
	"custody/internal/money"
	"custody/internal/store"
	"custody/internal/validator"
	"custody/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	walletNumberLength   = 13
	walletNumberAttempts = 10

	userWalletConstraint   = "wallets_user_id_key"
	walletNumberConstraint = "wallets_wallet_number_key"
)

var (
	ErrWalletNumberExhausted = errors.New("could not allocate a unique wallet number")

	errWalletNumberCollision = errors.New("wallet number taken at insert")
)

type WalletService struct {
	txRunner  db.TxRunner
	wallets   WalletStore
	hub       BalanceHub
	newNumber func() (string, error)
	now       func() time.Time
}

func NewWalletService(txRunner db.TxRunner, wallets WalletStore, hub BalanceHub) *WalletService {
	return &WalletService{
		txRunner:  txRunner,
		wallets:   wallets,
		hub:       hub,
		newNumber: generateWalletNumber,
		now:       time.Now,
	}
}

// CreateWallet opens the user's only wallet with a zero balance. A number
// that collides at insert time aborts the transaction, so the whole unit of
// work is retried with a fresh number.
func (s *WalletService) CreateWallet(ctx context.Context, userID string) (models.Wallet, error) {
	for attempt := 0; attempt < walletNumberAttempts; attempt++ {
		var wallet models.Wallet
		err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			created, err := s.createWalletTx(ctx, tx, userID)
			wallet = created
			return err
		})
		if errors.Is(err, errWalletNumberCollision) {
			continue
		}
		if err != nil {
			return models.Wallet{}, err
		}
		return wallet, nil
	}
	return models.Wallet{}, ErrWalletNumberExhausted
}

func (s *WalletService) createWalletTx(ctx context.Context, tx store.Tx, userID string) (models.Wallet, error) {
	_, err := s.wallets.GetByUserID(ctx, userID)
	switch {
	case err == nil:
		return models.Wallet{}, apperr.ErrWalletExists
	case !errors.Is(err, sql.ErrNoRows):
		return models.Wallet{}, err
	}

	number, err := s.allocateNumber(ctx)
	if err != nil {
		return models.Wallet{}, err
	}
	wallet := models.Wallet{
		ID:           uuid.NewString(),
		UserID:       userID,
		WalletNumber: number,
		CreatedAt:    s.now().UTC(),
	}
	wallet.UpdatedAt = wallet.CreatedAt
	if err := s.wallets.Create(ctx, tx, wallet.ID, userID, number); err != nil {
		switch {
		case db.IsUniqueViolation(err, userWalletConstraint):
			return models.Wallet{}, apperr.ErrWalletExists
		case db.IsUniqueViolation(err, walletNumberConstraint):
			return models.Wallet{}, errWalletNumberCollision
		}
		return models.Wallet{}, err
	}
	return wallet, nil
}

func (s *WalletService) allocateNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < walletNumberAttempts; attempt++ {
		number, err := s.newNumber()
		if err != nil {
			return "", err
		}
		taken, err := s.wallets.NumberExists(ctx, number)
		if err != nil {
			return "", err
		}
		if !taken {
			return number, nil
		}
	}
	return "", ErrWalletNumberExhausted
}

func (s *WalletService) GetByUserID(ctx context.Context, userID string) (models.Wallet, error) {
	wallet, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return models.Wallet{}, notFound(err, apperr.ErrWalletNotFound)
	}
	return wallet, nil
}

func (s *WalletService) GetByNumber(ctx context.Context, walletNumber string) (models.Wallet, error) {
	if err := validator.ValidateWalletNumber(walletNumber); err != nil {
		return models.Wallet{}, err
	}
	wallet, err := s.wallets.GetByNumber(ctx, walletNumber)
	if err != nil {
		return models.Wallet{}, notFound(err, apperr.ErrWalletNotFound)
	}
	return wallet, nil
}

func (s *WalletService) Credit(ctx context.Context, walletID string, amount int64) (models.Wallet, error) {
	if err := validator.ValidateAmount(amount); err != nil {
		return models.Wallet{}, err
	}
	var wallet models.Wallet
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		updated, err := s.creditTx(ctx, tx, walletID, amount)
		wallet = updated
		return err
	})
	if err != nil {
		return models.Wallet{}, err
	}
	s.notifyBalance(wallet, "credit")
	return wallet, nil
}

func (s *WalletService) Debit(ctx context.Context, walletID string, amount int64) (models.Wallet, error) {
	if err := validator.ValidateAmount(amount); err != nil {
		return models.Wallet{}, err
	}
	var wallet models.Wallet
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		updated, err := s.debitTx(ctx, tx, walletID, amount)
		wallet = updated
		return err
	})
	if err != nil {
		return models.Wallet{}, err
	}
	s.notifyBalance(wallet, "debit")
	return wallet, nil
}

// Transfer moves amount between two wallets in its own unit of work.
func (s *WalletService) Transfer(ctx context.Context, senderID, recipientID string, amount int64) (models.Wallet, models.Wallet, error) {
	var sender, recipient models.Wallet
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		sender, recipient, err = s.transferTx(ctx, tx, senderID, recipientID, amount)
		return err
	})
	if err != nil {
		return models.Wallet{}, models.Wallet{}, err
	}
	s.notifyBalance(sender, "transfer_out")
	s.notifyBalance(recipient, "transfer_in")
	return sender, recipient, nil
}

func (s *WalletService) creditTx(ctx context.Context, tx store.Tx, walletID string, amount int64) (models.Wallet, error) {
	if err := validator.ValidateAmount(amount); err != nil {
		return models.Wallet{}, err
	}
	wallet, err := s.wallets.GetForUpdate(ctx, tx, walletID)
	if err != nil {
		return models.Wallet{}, notFound(err, apperr.ErrWalletNotFound)
	}
	if err := s.adjust(ctx, tx, &wallet, amount); err != nil {
		return models.Wallet{}, err
	}
	return wallet, nil
}

func (s *WalletService) debitTx(ctx context.Context, tx store.Tx, walletID string, amount int64) (models.Wallet, error) {
	if err := validator.ValidateAmount(amount); err != nil {
		return models.Wallet{}, err
	}
	wallet, err := s.wallets.GetForUpdate(ctx, tx, walletID)
	if err != nil {
		return models.Wallet{}, notFound(err, apperr.ErrWalletNotFound)
	}
	if wallet.Balance < amount {
		return models.Wallet{}, apperr.ErrInsufficientBalance
	}
	if err := s.adjust(ctx, tx, &wallet, -amount); err != nil {
		return models.Wallet{}, err
	}
	return wallet, nil
}

// transferTx locks both wallets in ascending id order and returns them as
// (sender, recipient) with post-transfer balances.
func (s *WalletService) transferTx(ctx context.Context, tx store.Tx, senderID, recipientID string, amount int64) (models.Wallet, models.Wallet, error) {
	if err := validator.ValidateAmount(amount); err != nil {
		return models.Wallet{}, models.Wallet{}, err
	}
	if senderID == recipientID {
		return models.Wallet{}, models.Wallet{}, apperr.ErrSameWalletTransfer
	}
	sender, recipient, err := lockTwoWallets(ctx, tx, s.wallets, senderID, recipientID)
	if err != nil {
		return models.Wallet{}, models.Wallet{}, err
	}
	if sender.Balance < amount {
		return models.Wallet{}, models.Wallet{}, apperr.ErrInsufficientBalance
	}
	if err := s.adjust(ctx, tx, &sender, -amount); err != nil {
		return models.Wallet{}, models.Wallet{}, err
	}
	if err := s.adjust(ctx, tx, &recipient, amount); err != nil {
		return models.Wallet{}, models.Wallet{}, err
	}
	return sender, recipient, nil
}

func (s *WalletService) adjust(ctx context.Context, tx store.Tx, wallet *models.Wallet, delta int64) error {
	changed, err := s.wallets.AdjustBalance(ctx, tx, wallet.ID, delta)
	if err != nil {
		return err
	}
	if changed == 0 {
		return apperr.ErrInsufficientBalance
	}
	wallet.Balance += delta
	wallet.UpdatedAt = s.now().UTC()
	return nil
}

func (s *WalletService) notifyBalance(wallet models.Wallet, reason string) {
	if s.hub == nil || wallet.UserID == "" {
		return
	}
	s.hub.BroadcastBalance(wallet.UserID, BalanceUpdateFor(wallet, reason))
}

func BalanceUpdateFor(wallet models.Wallet, reason string) websocket.BalanceUpdate {
	return websocket.BalanceUpdate{
		WalletNumber: wallet.WalletNumber,
		Balance:      wallet.Balance,
		Formatted:    money.FormatMinor(wallet.Balance),
		Reason:       reason,
	}
}

func lockTwoWallets(ctx context.Context, tx store.Getter, wallets WalletStore, firstID, secondID string) (models.Wallet, models.Wallet, error) {
	leftID, rightID := orderedIDs(firstID, secondID)
	left, err := wallets.GetForUpdate(ctx, tx, leftID)
	if err != nil {
		return models.Wallet{}, models.Wallet{}, notFound(err, apperr.ErrWalletNotFound)
	}
	right, err := wallets.GetForUpdate(ctx, tx, rightID)
	if err != nil {
		return models.Wallet{}, models.Wallet{}, notFound(err, apperr.ErrWalletNotFound)
	}
	if firstID == leftID {
		return left, right, nil
	}
	return right, left, nil
}

func orderedIDs(firstID, secondID string) (string, string) {
	if firstID <= secondID {
		return firstID, secondID
	}
	return secondID, firstID
}

func generateWalletNumber() (string, error) {
	digits := make([]byte, walletNumberLength)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
