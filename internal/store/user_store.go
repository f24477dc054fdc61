package store

import (
	"context"

	"custody/internal/models"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, email, name, provider_id, created_at, updated_at`

func (s *UserStore) Create(ctx context.Context, tx Execer, user models.User) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, name, provider_id)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Email, user.Name, user.ProviderID)
	return err
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	var row models.User
	if err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID); err != nil {
		return models.User{}, err
	}
	return row, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	var row models.User
	if err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email); err != nil {
		return models.User{}, err
	}
	return row, nil
}

// LockForUpdate takes the user row lock. Key issuance holds it so the active
// key count cannot change between the check and the insert.
func (s *UserStore) LockForUpdate(ctx context.Context, tx Getter, userID string) error {
	var id string
	return tx.GetContext(ctx, &id, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID)
}
