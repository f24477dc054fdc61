package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"custody/internal/apikey"
	"custody/internal/apperr"
	"custody/internal/db"
	"custody/internal/events"
	"custody/internal/models"
	"custody/internal/store"
	"custody/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const DefaultKeyLimit = 5

type APIKeyService struct {
	txRunner  db.TxRunner
	keys      APIKeyStore
	users     UserStore
	audit     AuditStore
	hasher    apikey.Hasher
	publisher events.Publisher
	limit     int
	now       func() time.Time
}

func NewAPIKeyService(txRunner db.TxRunner, keys APIKeyStore, users UserStore, audit AuditStore, hasher apikey.Hasher, publisher events.Publisher, limit int) *APIKeyService {
	if limit <= 0 {
		limit = DefaultKeyLimit
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &APIKeyService{
		txRunner:  txRunner,
		keys:      keys,
		users:     users,
		audit:     audit,
		hasher:    hasher,
		publisher: publisher,
		limit:     limit,
		now:       time.Now,
	}
}

// IssuedKey carries the raw key. It is only ever returned from Create and
// Rollover.
type IssuedKey struct {
	ID          string    `json:"id"`
	Key         string    `json:"api_key"`
	Prefix      string    `json:"key_prefix"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *APIKeyService) Create(ctx context.Context, userID, name string, permissions []string, expiry string) (IssuedKey, error) {
	if err := validator.ValidateKeyName(name); err != nil {
		return IssuedKey{}, err
	}
	perms, err := validator.NormalizePermissions(permissions)
	if err != nil {
		return IssuedKey{}, err
	}
	ttl, err := apikey.ParseExpiry(expiry)
	if err != nil {
		return IssuedKey{}, err
	}
	raw, key, err := s.newKey(userID, ttl)
	if err != nil {
		return IssuedKey{}, err
	}
	key.Name = strings.TrimSpace(name)
	key.Permissions = pq.StringArray(perms)

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.insertTx(ctx, tx, key, "apikey.create", "")
	})
	if err != nil {
		return IssuedKey{}, err
	}
	s.publishCreated(ctx, key, false)
	return issued(raw, key), nil
}

// Rollover replaces an expired key with a fresh one carrying the same name
// and permissions. The old row is kept for audit.
func (s *APIKeyService) Rollover(ctx context.Context, userID, oldKeyID, expiry string) (IssuedKey, error) {
	ttl, err := apikey.ParseExpiry(expiry)
	if err != nil {
		return IssuedKey{}, err
	}
	if _, err := uuid.Parse(oldKeyID); err != nil {
		return IssuedKey{}, apperr.ErrKeyNotFound
	}
	raw, key, err := s.newKey(userID, ttl)
	if err != nil {
		return IssuedKey{}, err
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.users.LockForUpdate(ctx, tx, userID); err != nil {
			return notFound(err, apperr.ErrUnauthorized)
		}
		old, err := s.keys.GetForUser(ctx, tx, oldKeyID, userID)
		if err != nil {
			return notFound(err, apperr.ErrKeyNotFound)
		}
		if !old.IsExpired(s.now()) {
			return apperr.ErrRolloverNotAllowed
		}
		key.Name = old.Name
		key.Permissions = append(pq.StringArray(nil), old.Permissions...)
		return s.insertTx(ctx, tx, key, "apikey.rollover", old.ID)
	})
	if err != nil {
		return IssuedKey{}, err
	}
	s.publishCreated(ctx, key, true)
	return issued(raw, key), nil
}

// Verify resolves a presented raw key through its prefix and checks the hash.
// It does not look at expiry or the active flag.
func (s *APIKeyService) Verify(ctx context.Context, raw string) (models.APIKey, error) {
	prefix, err := apikey.ParsePrefix(strings.TrimSpace(raw))
	if err != nil {
		return models.APIKey{}, apperr.New(apperr.KindUnauthorized, "invalid API key")
	}
	key, err := s.keys.GetByPrefix(ctx, prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return models.APIKey{}, apperr.New(apperr.KindUnauthorized, "invalid API key")
	}
	if err != nil {
		return models.APIKey{}, err
	}
	if !s.hasher.Verify(strings.TrimSpace(raw), key.KeyHash) {
		return models.APIKey{}, apperr.New(apperr.KindUnauthorized, "invalid API key")
	}
	return key, nil
}

// Authenticate verifies raw and rejects revoked or expired keys.
func (s *APIKeyService) Authenticate(ctx context.Context, raw string) (models.APIKey, error) {
	key, err := s.Verify(ctx, raw)
	if err != nil {
		return models.APIKey{}, err
	}
	if !key.IsActive {
		return models.APIKey{}, apperr.New(apperr.KindUnauthorized, "API key has been revoked")
	}
	if key.IsExpired(s.now()) {
		return models.APIKey{}, apperr.ErrExpiredKey
	}
	return key, nil
}

// Validate reports whether key may be used for permission at now.
func Validate(key models.APIKey, permission string, now time.Time) bool {
	return key.IsActive && !key.IsExpired(now) && key.HasPermission(permission)
}

func (s *APIKeyService) List(ctx context.Context, userID string) ([]models.APIKey, error) {
	keys, err := s.keys.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []models.APIKey{}
	}
	return keys, nil
}

// Revoke deactivates one of the user's keys. Revoking an inactive key is a
// no-op.
func (s *APIKeyService) Revoke(ctx context.Context, userID, keyID string) error {
	if _, err := uuid.Parse(keyID); err != nil {
		return apperr.ErrKeyNotFound
	}
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		changed, err := s.keys.Deactivate(ctx, tx, keyID, userID)
		if err != nil {
			return err
		}
		if changed == 0 {
			if _, err := s.keys.GetForUser(ctx, tx, keyID, userID); err != nil {
				return notFound(err, apperr.ErrKeyNotFound)
			}
			return nil
		}
		return s.audit.Log(ctx, tx, userID, "apikey.revoke", "api_key", keyID, "")
	})
}

func (s *APIKeyService) newKey(userID string, ttl time.Duration) (string, models.APIKey, error) {
	generated, err := apikey.Generate()
	if err != nil {
		return "", models.APIKey{}, err
	}
	hash, err := s.hasher.Hash(generated.Key)
	if err != nil {
		return "", models.APIKey{}, err
	}
	now := s.now().UTC()
	return generated.Key, models.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		KeyPrefix: generated.Prefix,
		KeyHash:   hash,
		ExpiresAt: now.Add(ttl),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// insertTx counts the user's active keys under the user row lock and inserts
// key when there is room.
func (s *APIKeyService) insertTx(ctx context.Context, tx store.Tx, key models.APIKey, action, replaces string) error {
	if err := s.users.LockForUpdate(ctx, tx, key.UserID); err != nil {
		return notFound(err, apperr.ErrUnauthorized)
	}
	active, err := s.keys.CountActive(ctx, tx, key.UserID, s.now())
	if err != nil {
		return err
	}
	if active >= s.limit {
		return apperr.ErrKeyLimitExceeded
	}
	if err := s.keys.Create(ctx, tx, key); err != nil {
		return err
	}
	data, _ := json.Marshal(map[string]any{
		"name":        key.Name,
		"permissions": []string(key.Permissions),
		"expires_at":  key.ExpiresAt,
		"replaces":    replaces,
	})
	return s.audit.Log(ctx, tx, key.UserID, action, "api_key", key.ID, string(data))
}

func (s *APIKeyService) publishCreated(ctx context.Context, key models.APIKey, rollover bool) {
	events.PublishBestEffort(ctx, s.publisher, events.APIKeyCreated, events.APIKeyEvent{
		KeyID:       key.ID,
		UserID:      key.UserID,
		Name:        key.Name,
		Permissions: []string(key.Permissions),
		ExpiresAt:   key.ExpiresAt,
		Rollover:    rollover,
	})
}

func issued(raw string, key models.APIKey) IssuedKey {
	return IssuedKey{
		ID:          key.ID,
		Key:         raw,
		Prefix:      key.KeyPrefix,
		Name:        key.Name,
		Permissions: []string(key.Permissions),
		ExpiresAt:   key.ExpiresAt,
	}
}
