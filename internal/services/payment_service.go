package services

import (
	"context"
	"errors"
	"log"
	"time"

	"custody/internal/apperr"
	"custody/internal/db"
	"custody/internal/events"
	"custody/internal/metrics"
	"custody/internal/models"
	"custody/internal/paystack"
	"custody/internal/store"
	"custody/internal/validator"

	"github.com/jmoiron/sqlx"
)

// Webhook and reconciliation outcomes.
const (
	OutcomeCredited       = "credited"
	OutcomeFailed         = "failed"
	OutcomeDuplicate      = "duplicate"
	OutcomeIgnored        = "ignored"
	OutcomeAmountMismatch = "amount_mismatch"
)

type PaymentConfig struct {
	WebhookSecret  string
	GatewayTimeout time.Duration
	DedupWindow    time.Duration
}

type PaymentService struct {
	txRunner  db.TxRunner
	wallets   *WalletService
	ledger    *LedgerService
	users     UserStore
	gateway   Gateway
	publisher events.Publisher
	config    PaymentConfig
	now       func() time.Time
}

func NewPaymentService(txRunner db.TxRunner, wallets *WalletService, ledger *LedgerService, users UserStore, gateway Gateway, publisher events.Publisher, cfg PaymentConfig) *PaymentService {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &PaymentService{
		txRunner:  txRunner,
		wallets:   wallets,
		ledger:    ledger,
		users:     users,
		gateway:   gateway,
		publisher: publisher,
		config:    cfg,
		now:       time.Now,
	}
}

type DepositResult struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	Amount           int64  `json:"amount"`
	Status           string `json:"status"`
	Reused           bool   `json:"reused"`
}

// InitiateDeposit starts a gateway checkout for amount. A pending deposit for
// the same email and amount inside the dedup window is handed back instead of
// opening a second charge. No ledger row is written unless the gateway call
// succeeds.
func (s *PaymentService) InitiateDeposit(ctx context.Context, userID string, amount int64) (DepositResult, error) {
	if err := validator.ValidateAmount(amount); err != nil {
		return DepositResult{}, err
	}
	wallet, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return DepositResult{}, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return DepositResult{}, notFound(err, apperr.New(apperr.KindUnauthorized, "user not found"))
	}

	recent, ok, err := s.ledger.FindRecent(ctx, user.Email, amount, s.config.DedupWindow)
	if err != nil {
		return DepositResult{}, err
	}
	if ok && recent.UserID == userID && recent.Status == models.StatusPending && recent.AuthorizationURL != nil {
		metrics.ObserveDeposit("reused")
		return DepositResult{
			Reference:        recent.Reference,
			AuthorizationURL: *recent.AuthorizationURL,
			Amount:           recent.Amount,
			Status:           recent.Status,
			Reused:           true,
		}, nil
	}

	reference := NewReference()
	gatewayCtx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()
	started := time.Now()
	checkout, err := s.gateway.Initialize(gatewayCtx, paystack.InitializeRequest{
		Email:     user.Email,
		Amount:    amount,
		Reference: reference,
	})
	metrics.ObserveGateway("initialize", time.Since(started).Seconds(), err)
	if err != nil {
		log.Printf("paystack initialize failed for user %s: %v", userID, err)
		metrics.ObserveDeposit("gateway_error")
		return DepositResult{}, apperr.ErrGatewayUnavailable
	}
	if checkout.Reference != "" {
		reference = checkout.Reference
	}

	var txn models.Transaction
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		recorded, err := s.ledger.Record(ctx, tx, store.TransactionInput{
			Reference:         reference,
			UserID:            userID,
			Amount:            amount,
			Status:            models.StatusPending,
			Type:              models.TypeDeposit,
			AuthorizationURL:  stringPtr(checkout.AuthorizationURL),
			RecipientWalletID: stringPtr(wallet.ID),
			Email:             stringPtr(user.Email),
		})
		txn = recorded
		return err
	})
	if err != nil {
		return DepositResult{}, err
	}
	metrics.ObserveDeposit("initiated")
	return DepositResult{
		Reference:        txn.Reference,
		AuthorizationURL: checkout.AuthorizationURL,
		Amount:           txn.Amount,
		Status:           txn.Status,
	}, nil
}

type WebhookResult struct {
	Event     string `json:"event"`
	Reference string `json:"reference,omitempty"`
	Outcome   string `json:"outcome"`
}

// HandleWebhook authenticates and applies a gateway callback. Replays of an
// already settled reference are acknowledged without touching balances.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	if !paystack.VerifySignature(s.config.WebhookSecret, body, signature) {
		metrics.ObserveWebhook("unknown", "invalid_signature")
		return WebhookResult{}, apperr.ErrInvalidSignature
	}
	event, err := paystack.ParseEvent(body)
	if err != nil {
		metrics.ObserveWebhook("unknown", "malformed")
		return WebhookResult{}, apperr.New(apperr.KindInvalidRequest, "malformed webhook payload")
	}
	result := WebhookResult{Event: event.Event, Reference: event.Data.Reference}

	var desired string
	switch event.Event {
	case paystack.EventChargeSuccess:
		desired = models.StatusSuccess
	case paystack.EventChargeFailed:
		desired = models.StatusFailed
	default:
		result.Outcome = OutcomeIgnored
		metrics.ObserveWebhook(event.Event, result.Outcome)
		return result, nil
	}
	if event.Data.Reference == "" {
		metrics.ObserveWebhook(event.Event, "malformed")
		return WebhookResult{}, apperr.New(apperr.KindInvalidRequest, "webhook reference is required")
	}

	settled, err := s.settle(ctx, event.Data.Reference, desired, event.Data.Amount, event.Data.PaidAtTime())
	if err != nil {
		metrics.ObserveWebhook(event.Event, string(apperr.KindOf(err)))
		return WebhookResult{}, err
	}
	result.Outcome = settled.outcome
	metrics.ObserveWebhook(event.Event, result.Outcome)
	return result, nil
}

// PollStatus returns the caller's deposit. Pending deposits, or any deposit
// when force is set, are first checked against the gateway; gateway failures
// are logged and the stored status is returned.
func (s *PaymentService) PollStatus(ctx context.Context, userID, reference string, force bool) (models.Transaction, error) {
	txn, err := s.ledger.GetByReference(ctx, reference)
	if err != nil {
		return models.Transaction{}, err
	}
	if txn.UserID != userID {
		return models.Transaction{}, apperr.ErrTransactionNotFound
	}
	if txn.Type != models.TypeDeposit || (txn.Status != models.StatusPending && !force) {
		return txn, nil
	}

	verified, err := s.verify(ctx, reference)
	if err != nil {
		log.Printf("paystack verify failed for %s: %v", reference, err)
		return txn, nil
	}
	outcome := verified.Outcome()
	if outcome == "" {
		return txn, nil
	}
	settled, err := s.settle(ctx, reference, outcome, verified.Amount, verified.PaidAtTime())
	if err != nil {
		return models.Transaction{}, err
	}
	if !settled.changed {
		return txn, nil
	}
	return s.ledger.GetByReference(ctx, reference)
}

// ReconcilePending verifies deposits that have been pending since before
// olderThan and settles the ones the gateway has resolved. It returns how
// many rows changed status.
func (s *PaymentService) ReconcilePending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	pending, err := s.ledger.stalePending(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, txn := range pending {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		verified, err := s.verify(ctx, txn.Reference)
		if err != nil {
			log.Printf("reconcile: verify %s: %v", txn.Reference, err)
			continue
		}
		outcome := verified.Outcome()
		if outcome == "" {
			continue
		}
		settled, err := s.settle(ctx, txn.Reference, outcome, verified.Amount, verified.PaidAtTime())
		if err != nil {
			log.Printf("reconcile: settle %s: %v", txn.Reference, err)
			continue
		}
		if settled.changed {
			changed++
		}
	}
	return changed, nil
}

func (s *PaymentService) verify(ctx context.Context, reference string) (paystack.VerifyResult, error) {
	gatewayCtx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()
	started := time.Now()
	result, err := s.gateway.Verify(gatewayCtx, reference)
	metrics.ObserveGateway("verify", time.Since(started).Seconds(), err)
	return result, err
}

type settlement struct {
	outcome string
	changed bool
	txn     models.Transaction
	wallet  models.Wallet
}

// settle drives a pending deposit to status under its row lock. Terminal rows
// are never moved again, so webhook replays, polls and the reconciler can
// all race here and the wallet is credited once.
func (s *PaymentService) settle(ctx context.Context, reference, status string, gatewayAmount int64, paidAt *time.Time) (settlement, error) {
	var result settlement
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = settlement{}
		txn, err := s.ledger.lockByReference(ctx, tx, reference)
		if err != nil {
			return err
		}
		result.txn = txn
		if txn.Type != models.TypeDeposit {
			result.outcome = OutcomeIgnored
			return nil
		}
		switch txn.Status {
		case models.StatusSuccess, models.StatusFailed:
			if txn.Status == status {
				result.outcome = OutcomeDuplicate
			} else {
				result.outcome = OutcomeIgnored
			}
			return nil
		}

		if status == models.StatusFailed {
			changed, err := s.ledger.markStatus(ctx, tx, reference, models.StatusFailed, nil)
			if err != nil {
				return err
			}
			result.changed = changed
			result.outcome = OutcomeFailed
			return nil
		}

		if gatewayAmount > 0 && gatewayAmount != txn.Amount {
			log.Printf("deposit %s: gateway amount %d does not match recorded %d, leaving pending", reference, gatewayAmount, txn.Amount)
			result.outcome = OutcomeAmountMismatch
			return nil
		}
		walletID, err := s.depositWalletID(ctx, txn)
		if err != nil {
			return err
		}
		wallet, err := s.wallets.creditTx(ctx, tx, walletID, txn.Amount)
		if err != nil {
			return err
		}
		if paidAt == nil {
			paidAt = timePtr(s.now().UTC())
		}
		changed, err := s.ledger.markStatus(ctx, tx, reference, models.StatusSuccess, paidAt)
		if err != nil {
			return err
		}
		if !changed {
			return errors.New("deposit left pending state while locked")
		}
		result.changed = true
		result.wallet = wallet
		result.outcome = OutcomeCredited
		return nil
	})
	if err != nil {
		return settlement{}, err
	}
	s.afterSettle(ctx, result)
	return result, nil
}

func (s *PaymentService) depositWalletID(ctx context.Context, txn models.Transaction) (string, error) {
	if txn.RecipientWalletID != nil && *txn.RecipientWalletID != "" {
		return *txn.RecipientWalletID, nil
	}
	wallet, err := s.wallets.GetByUserID(ctx, txn.UserID)
	if err != nil {
		return "", err
	}
	return wallet.ID, nil
}

func (s *PaymentService) afterSettle(ctx context.Context, result settlement) {
	if !result.changed {
		return
	}
	switch result.outcome {
	case OutcomeCredited:
		s.wallets.notifyBalance(result.wallet, "deposit")
		metrics.ObserveDeposit("succeeded")
		events.PublishBestEffort(ctx, s.publisher, events.DepositSucceeded, events.DepositEvent{
			Reference:    result.txn.Reference,
			UserID:       result.txn.UserID,
			WalletNumber: result.wallet.WalletNumber,
			Amount:       result.txn.Amount,
			Status:       models.StatusSuccess,
		})
	case OutcomeFailed:
		metrics.ObserveDeposit("failed")
		events.PublishBestEffort(ctx, s.publisher, events.DepositFailed, events.DepositEvent{
			Reference: result.txn.Reference,
			UserID:    result.txn.UserID,
			Amount:    result.txn.Amount,
			Status:    models.StatusFailed,
		})
	}
}
