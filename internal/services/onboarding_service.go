package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"custody/internal/apperr"
	"custody/internal/db"
	"custody/internal/models"
	"custody/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const userEmailConstraint = "users_email_key"

// Identity is what the identity provider vouches for after sign-in.
type Identity struct {
	Email      string
	Name       string
	ProviderID string
}

type OnboardResult struct {
	User    models.User
	Wallet  models.Wallet
	Created bool
}

type OnboardingService struct {
	txRunner db.TxRunner
	users    UserStore
	wallets  *WalletService
	now      func() time.Time
}

func NewOnboardingService(txRunner db.TxRunner, users UserStore, wallets *WalletService) *OnboardingService {
	return &OnboardingService{txRunner: txRunner, users: users, wallets: wallets, now: time.Now}
}

// Onboard returns the user for identity, creating the user and their wallet
// together on first sign-in. Existing users without a wallet get one.
func (s *OnboardingService) Onboard(ctx context.Context, identity Identity) (OnboardResult, error) {
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if err := validator.ValidateEmail(email); err != nil {
		return OnboardResult{}, err
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return s.ensureWallet(ctx, existing)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return OnboardResult{}, err
	}

	user := models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      strings.TrimSpace(identity.Name),
		CreatedAt: s.now().UTC(),
	}
	user.UpdatedAt = user.CreatedAt
	if identity.ProviderID != "" {
		user.ProviderID = stringPtr(identity.ProviderID)
	}

	for attempt := 0; attempt < walletNumberAttempts; attempt++ {
		var wallet models.Wallet
		err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			if err := s.users.Create(ctx, tx, user); err != nil {
				return err
			}
			created, err := s.wallets.createWalletTx(ctx, tx, user.ID)
			wallet = created
			return err
		})
		switch {
		case err == nil:
			return OnboardResult{User: user, Wallet: wallet, Created: true}, nil
		case errors.Is(err, errWalletNumberCollision):
			continue
		case db.IsUniqueViolation(err, userEmailConstraint):
			raced, getErr := s.users.GetByEmail(ctx, email)
			if getErr != nil {
				return OnboardResult{}, getErr
			}
			return s.ensureWallet(ctx, raced)
		default:
			return OnboardResult{}, err
		}
	}
	return OnboardResult{}, ErrWalletNumberExhausted
}

func (s *OnboardingService) ensureWallet(ctx context.Context, user models.User) (OnboardResult, error) {
	wallet, err := s.wallets.GetByUserID(ctx, user.ID)
	if err == nil {
		return OnboardResult{User: user, Wallet: wallet}, nil
	}
	if !errors.Is(err, apperr.ErrWalletNotFound) {
		return OnboardResult{}, err
	}
	wallet, err = s.wallets.CreateWallet(ctx, user.ID)
	if errors.Is(err, apperr.ErrWalletExists) {
		wallet, err = s.wallets.GetByUserID(ctx, user.ID)
	}
	if err != nil {
		return OnboardResult{}, err
	}
	return OnboardResult{User: user, Wallet: wallet, Created: true}, nil
}
