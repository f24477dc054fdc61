package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"custody/internal/auth"
	"custody/internal/config"
	"custody/internal/models"
	"custody/internal/ratelimit"
	"custody/internal/services"
	"custody/internal/websocket"
)

type stubUserStore struct {
	getByIDFn func(ctx context.Context, userID string) (models.User, error)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{ID: userID}, nil
	}
	return s.getByIDFn(ctx, userID)
}

type stubWalletService struct {
	getByUserIDFn func(ctx context.Context, userID string) (models.Wallet, error)
}

func (s stubWalletService) GetByUserID(ctx context.Context, userID string) (models.Wallet, error) {
	if s.getByUserIDFn == nil {
		return models.Wallet{ID: "wallet-" + userID, UserID: userID, WalletNumber: "1234567890123"}, nil
	}
	return s.getByUserIDFn(ctx, userID)
}

type stubPaymentService struct {
	initiateFn func(ctx context.Context, userID string, amount int64) (services.DepositResult, error)
	pollFn     func(ctx context.Context, userID, reference string, force bool) (models.Transaction, error)
	webhookFn  func(ctx context.Context, body []byte, signature string) (services.WebhookResult, error)
}

func (s stubPaymentService) InitiateDeposit(ctx context.Context, userID string, amount int64) (services.DepositResult, error) {
	if s.initiateFn == nil {
		return services.DepositResult{}, nil
	}
	return s.initiateFn(ctx, userID, amount)
}

func (s stubPaymentService) PollStatus(ctx context.Context, userID, reference string, force bool) (models.Transaction, error) {
	if s.pollFn == nil {
		return models.Transaction{}, nil
	}
	return s.pollFn(ctx, userID, reference, force)
}

func (s stubPaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (services.WebhookResult, error) {
	if s.webhookFn == nil {
		return services.WebhookResult{}, nil
	}
	return s.webhookFn(ctx, body, signature)
}

type stubTransferService struct {
	transferFn func(ctx context.Context, req services.TransferRequest) (services.TransferResult, error)
}

func (s stubTransferService) Transfer(ctx context.Context, req services.TransferRequest) (services.TransferResult, error) {
	if s.transferFn == nil {
		return services.TransferResult{}, nil
	}
	return s.transferFn(ctx, req)
}

type stubHistoryService struct {
	historyFn func(ctx context.Context, q services.HistoryQuery) ([]models.TransactionView, error)
}

func (s stubHistoryService) History(ctx context.Context, q services.HistoryQuery) ([]models.TransactionView, error) {
	if s.historyFn == nil {
		return []models.TransactionView{}, nil
	}
	return s.historyFn(ctx, q)
}

type stubKeyService struct {
	createFn       func(ctx context.Context, userID, name string, permissions []string, expiry string) (services.IssuedKey, error)
	rolloverFn     func(ctx context.Context, userID, oldKeyID, expiry string) (services.IssuedKey, error)
	listFn         func(ctx context.Context, userID string) ([]models.APIKey, error)
	revokeFn       func(ctx context.Context, userID, keyID string) error
	authenticateFn func(ctx context.Context, raw string) (models.APIKey, error)
}

func (s stubKeyService) Create(ctx context.Context, userID, name string, permissions []string, expiry string) (services.IssuedKey, error) {
	if s.createFn == nil {
		return services.IssuedKey{}, nil
	}
	return s.createFn(ctx, userID, name, permissions, expiry)
}

func (s stubKeyService) Rollover(ctx context.Context, userID, oldKeyID, expiry string) (services.IssuedKey, error) {
	if s.rolloverFn == nil {
		return services.IssuedKey{}, nil
	}
	return s.rolloverFn(ctx, userID, oldKeyID, expiry)
}

func (s stubKeyService) List(ctx context.Context, userID string) ([]models.APIKey, error) {
	if s.listFn == nil {
		return []models.APIKey{}, nil
	}
	return s.listFn(ctx, userID)
}

func (s stubKeyService) Revoke(ctx context.Context, userID, keyID string) error {
	if s.revokeFn == nil {
		return nil
	}
	return s.revokeFn(ctx, userID, keyID)
}

func (s stubKeyService) Authenticate(ctx context.Context, raw string) (models.APIKey, error) {
	if s.authenticateFn == nil {
		return models.APIKey{}, nil
	}
	return s.authenticateFn(ctx, raw)
}

type stubLimiter struct {
	consumeFn func(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error)
}

func (s stubLimiter) Consume(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if s.consumeFn == nil {
		return 1, 0, nil
	}
	return s.consumeFn(ctx, scope, subject, limit, window)
}

// testDeps collects the collaborators of a Handler; zero fields fall back to
// stubs with permissive defaults.
type testDeps struct {
	users     UserStore
	wallets   WalletService
	payments  PaymentService
	transfers TransferService
	history   HistoryService
	keys      APIKeyService
	limiter   ratelimit.Limiter
}

func newTestHandler(deps testDeps) *Handler {
	cfg := config.Config{
		AppEnv:             "test",
		Port:               "0",
		JWTSecret:          "secret",
		TokenTTLMinutes:    1,
		AllowedOrigins:     "*",
		RateLimitPerMinute: 5,
	}
	if deps.users == nil {
		deps.users = stubUserStore{}
	}
	if deps.wallets == nil {
		deps.wallets = stubWalletService{}
	}
	if deps.payments == nil {
		deps.payments = stubPaymentService{}
	}
	if deps.transfers == nil {
		deps.transfers = stubTransferService{}
	}
	if deps.history == nil {
		deps.history = stubHistoryService{}
	}
	if deps.keys == nil {
		deps.keys = stubKeyService{}
	}
	if deps.limiter == nil {
		deps.limiter = stubLimiter{}
	}
	return New(cfg, deps.users, deps.wallets, deps.payments, deps.transfers, deps.history, deps.keys, websocket.NewHub(), deps.limiter)
}

const (
	userOne = "6f1c2b9e-4a1d-4c3e-9b7a-000000000001"
	userTwo = "6f1c2b9e-4a1d-4c3e-9b7a-000000000002"
)

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken("secret", userID, userID+"@example.com", time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return "Bearer " + token
}

// serve sends a request through the full router. body is JSON encoded
// unless it is already a []byte.
func serve(t *testing.T, handler *Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch v := body.(type) {
	case nil:
	case []byte:
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		raw = encoded
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	if code == "" {
		return
	}
	if got := decodeBody(t, rr)["code"]; got != code {
		t.Fatalf("expected code %s, got %v", code, got)
	}
}
