package store

import (
	"context"
	"time"

	"custody/internal/models"
)

type APIKeyStore struct {
	db DB
}

func NewAPIKeyStore(db DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

const apiKeyColumns = `id, user_id, key_prefix, key_hash, name, permissions, expires_at, is_active, created_at, updated_at`

func (s *APIKeyStore) Create(ctx context.Context, tx Execer, key models.APIKey) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, key_prefix, key_hash, name, permissions, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, key.ID, key.UserID, key.KeyPrefix, key.KeyHash, key.Name, key.Permissions, key.ExpiresAt, key.IsActive)
	return err
}

func (s *APIKeyStore) GetByPrefix(ctx context.Context, prefix string) (models.APIKey, error) {
	var row models.APIKey
	if err := s.db.GetContext(ctx, &row, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1`, prefix); err != nil {
		return models.APIKey{}, err
	}
	return row, nil
}

func (s *APIKeyStore) GetForUser(ctx context.Context, q Getter, keyID, userID string) (models.APIKey, error) {
	var row models.APIKey
	err := q.GetContext(ctx, &row, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE id = $1 AND user_id = $2
	`, keyID, userID)
	if err != nil {
		return models.APIKey{}, err
	}
	return row, nil
}

// CountActive counts keys that are enabled and not yet expired at now.
func (s *APIKeyStore) CountActive(ctx context.Context, q Getter, userID string, now time.Time) (int, error) {
	var count int
	err := q.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM api_keys
		WHERE user_id = $1 AND is_active AND expires_at > $2
	`, userID, now)
	return count, err
}

func (s *APIKeyStore) ListByUser(ctx context.Context, userID string) ([]models.APIKey, error) {
	var rows []models.APIKey
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *APIKeyStore) Deactivate(ctx context.Context, tx Execer, keyID, userID string) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE api_keys
		SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND is_active
	`, keyID, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
