package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"custody/internal/apperr"
	"custody/internal/models"
	"custody/internal/store"

	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type LedgerService struct {
	transactions TransactionStore
	now          func() time.Time
}

func NewLedgerService(transactions TransactionStore) *LedgerService {
	return &LedgerService{transactions: transactions, now: time.Now}
}

// Record inserts a ledger row inside the caller's unit of work. The prior
// read gives a clean error for the common case; the unique constraint on
// reference is what actually guarantees it.
func (s *LedgerService) Record(ctx context.Context, tx store.Tx, input store.TransactionInput) (models.Transaction, error) {
	if input.Amount <= 0 {
		return models.Transaction{}, apperr.ErrInvalidAmount
	}
	if input.Reference == "" {
		return models.Transaction{}, apperr.New(apperr.KindInvalidRequest, "reference is required")
	}
	if _, err := s.transactions.GetByReference(ctx, input.Reference); err == nil {
		return models.Transaction{}, apperr.ErrDuplicateReference
	} else if !errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, err
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	if err := s.transactions.Create(ctx, tx, input); err != nil {
		return models.Transaction{}, err
	}
	now := s.now().UTC()
	return models.Transaction{
		ID:                input.ID,
		Reference:         input.Reference,
		UserID:            input.UserID,
		Amount:            input.Amount,
		Status:            input.Status,
		Type:              input.Type,
		AuthorizationURL:  input.AuthorizationURL,
		SenderWalletID:    input.SenderWalletID,
		RecipientWalletID: input.RecipientWalletID,
		Email:             input.Email,
		PaidAt:            input.PaidAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (s *LedgerService) GetByReference(ctx context.Context, reference string) (models.Transaction, error) {
	txn, err := s.transactions.GetByReference(ctx, reference)
	if err != nil {
		return models.Transaction{}, notFound(err, apperr.ErrTransactionNotFound)
	}
	return txn, nil
}

func (s *LedgerService) lockByReference(ctx context.Context, tx store.Tx, reference string) (models.Transaction, error) {
	txn, err := s.transactions.GetByReferenceForUpdate(ctx, tx, reference)
	if err != nil {
		return models.Transaction{}, notFound(err, apperr.ErrTransactionNotFound)
	}
	return txn, nil
}

// markStatus moves a pending row to status. changed is false when the row was
// already terminal.
func (s *LedgerService) markStatus(ctx context.Context, tx store.Tx, reference, status string, paidAt *time.Time) (bool, error) {
	if !models.IsTerminalStatus(status) {
		return false, apperr.New(apperr.KindInvalidRequest, "status must be success or failed")
	}
	rows, err := s.transactions.UpdateStatus(ctx, tx, reference, status, paidAt)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// FindRecent returns the newest non-failed deposit for email and amount made
// within window. ok is false when there is none.
func (s *LedgerService) FindRecent(ctx context.Context, email string, amount int64, window time.Duration) (models.Transaction, bool, error) {
	if window <= 0 {
		return models.Transaction{}, false, nil
	}
	txn, err := s.transactions.FindRecent(ctx, email, amount, s.now().Add(-window))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, false, nil
	}
	if err != nil {
		return models.Transaction{}, false, err
	}
	return txn, true, nil
}

type HistoryQuery struct {
	UserID   string
	WalletID string
	Type     string
	Limit    int
	Offset   int
}

// History lists the user's deposits and transfers, including transfers into
// their wallet, newest first.
func (s *LedgerService) History(ctx context.Context, q HistoryQuery) ([]models.TransactionView, error) {
	switch q.Type {
	case "", models.TypeDeposit, models.TypeTransfer:
	default:
		return nil, apperr.New(apperr.KindInvalidRequest, "type must be deposit or transfer")
	}
	if q.Limit <= 0 {
		q.Limit = defaultHistoryLimit
	}
	if q.Limit > maxHistoryLimit {
		q.Limit = maxHistoryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	rows, err := s.transactions.ListByUser(ctx, q.UserID, q.WalletID, q.Type, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.TransactionView{}
	}
	return rows, nil
}

func (s *LedgerService) stalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	return s.transactions.ListStalePending(ctx, olderThan, limit)
}
