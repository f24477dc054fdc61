package store

import (
	"context"
	"strconv"
	"time"

	"custody/internal/apperr"
	"custody/internal/db"
	"custody/internal/models"
)

const referenceConstraint = "transactions_reference_key"

type TransactionStore struct {
	db DB
}

type TransactionInput struct {
	ID                string
	Reference         string
	UserID            string
	Amount            int64
	Status            string
	Type              string
	AuthorizationURL  *string
	SenderWalletID    *string
	RecipientWalletID *string
	Email             *string
	PaidAt            *time.Time
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

const transactionColumns = `id, reference, user_id, amount, status, transaction_type, authorization_url,
		       sender_wallet_id, recipient_wallet_id, email, paid_at, created_at, updated_at`

// Create inserts a ledger row. A reference collision surfaces as
// apperr.ErrDuplicateReference whichever writer lost the race.
func (s *TransactionStore) Create(ctx context.Context, tx Execer, input TransactionInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, reference, user_id, amount, status, transaction_type, authorization_url,
		                          sender_wallet_id, recipient_wallet_id, email, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		input.ID, input.Reference, input.UserID, input.Amount, input.Status, input.Type, input.AuthorizationURL,
		input.SenderWalletID, input.RecipientWalletID, input.Email, input.PaidAt,
	)
	if db.IsUniqueViolation(err, referenceConstraint) {
		return apperr.ErrDuplicateReference
	}
	return err
}

func (s *TransactionStore) GetByReference(ctx context.Context, reference string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE reference = $1
	`, reference)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

func (s *TransactionStore) GetByReferenceForUpdate(ctx context.Context, tx Getter, reference string) (models.Transaction, error) {
	var row models.Transaction
	err := tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE reference = $1
		FOR UPDATE
	`, reference)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

// UpdateStatus only moves a pending row. It returns 0 when the row was
// already terminal or does not exist.
func (s *TransactionStore) UpdateStatus(ctx context.Context, tx Execer, reference, status string, paidAt *time.Time) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, paid_at = COALESCE($2, paid_at), updated_at = NOW()
		WHERE reference = $3 AND status = 'pending'
	`, status, paidAt, reference)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// FindRecent returns the newest non-failed deposit for email and amount
// created at or after since.
func (s *TransactionStore) FindRecent(ctx context.Context, email string, amount int64, since time.Time) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE email = $1
		  AND amount = $2
		  AND transaction_type = 'deposit'
		  AND status <> 'failed'
		  AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`, email, amount, since)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

// ListByUser returns the user's own transactions plus transfers into
// walletID, newest first.
func (s *TransactionStore) ListByUser(ctx context.Context, userID, walletID, txType string, limit, offset int) ([]models.TransactionView, error) {
	query := `
		SELECT t.id, t.reference, t.user_id, t.amount, t.status, t.transaction_type, t.authorization_url,
		       t.sender_wallet_id, t.recipient_wallet_id, t.email, t.paid_at, t.created_at, t.updated_at,
		       sw.wallet_number AS sender_wallet_number, rw.wallet_number AS recipient_wallet_number
		FROM transactions t
		LEFT JOIN wallets sw ON sw.id = t.sender_wallet_id
		LEFT JOIN wallets rw ON rw.id = t.recipient_wallet_id
		WHERE (t.user_id = $1 OR t.recipient_wallet_id = $2)
	`
	args := []any{userID, walletID}
	param := 3
	if txType != "" {
		query += " AND t.transaction_type = $3"
		args = append(args, txType)
		param = 4
	}
	query += " ORDER BY t.created_at DESC LIMIT $" + strconv.Itoa(param) + " OFFSET $" + strconv.Itoa(param+1)
	args = append(args, limit, offset)
	var rows []models.TransactionView
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListStalePending returns pending deposits created before olderThan, oldest
// first.
func (s *TransactionStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'pending'
		  AND transaction_type = 'deposit'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
