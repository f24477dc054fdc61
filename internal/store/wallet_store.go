package store

import (
	"context"

	"custody/internal/models"
)

type WalletStore struct {
	db DB
}

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

const walletColumns = `id, user_id, wallet_number, balance, created_at, updated_at`

func (s *WalletStore) Create(ctx context.Context, tx Execer, id, userID, walletNumber string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, wallet_number, balance)
		VALUES ($1, $2, $3, 0)
	`, id, userID, walletNumber)
	return err
}

func (s *WalletStore) NumberExists(ctx context.Context, walletNumber string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM wallets WHERE wallet_number = $1)`, walletNumber)
	return exists, err
}

func (s *WalletStore) GetByID(ctx context.Context, walletID string) (models.Wallet, error) {
	var row models.Wallet
	if err := s.db.GetContext(ctx, &row, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID); err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) GetByUserID(ctx context.Context, userID string) (models.Wallet, error) {
	var row models.Wallet
	if err := s.db.GetContext(ctx, &row, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID); err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) GetByNumber(ctx context.Context, walletNumber string) (models.Wallet, error) {
	var row models.Wallet
	if err := s.db.GetContext(ctx, &row, `SELECT `+walletColumns+` FROM wallets WHERE wallet_number = $1`, walletNumber); err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) GetForUpdate(ctx context.Context, tx Getter, walletID string) (models.Wallet, error) {
	var row models.Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`, walletID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

// AdjustBalance applies delta and refuses to take the balance below zero. It
// returns the number of rows changed, 0 meaning the guard rejected it.
func (s *WalletStore) AdjustBalance(ctx context.Context, tx Execer, walletID string, delta int64) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2 AND balance + $1 >= 0
	`, delta, walletID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
