package handlers

import (
	"net/http"
	"time"

	"custody/internal/config"
	"custody/internal/middleware"
	"custody/internal/models"
	"custody/internal/ratelimit"
	"custody/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	cfg       config.Config
	users     UserStore
	wallets   WalletService
	payments  PaymentService
	transfers TransferService
	history   HistoryService
	keys      APIKeyService
	hub       *websocket.Hub
	limiter   ratelimit.Limiter
}

func New(cfg config.Config, users UserStore, wallets WalletService, payments PaymentService, transfers TransferService, history HistoryService, keys APIKeyService, hub *websocket.Hub, limiter ratelimit.Limiter) *Handler {
	return &Handler{
		cfg:       cfg,
		users:     users,
		wallets:   wallets,
		payments:  payments,
		transfers: transfers,
		history:   history,
		keys:      keys,
		hub:       hub,
		limiter:   limiter,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", middleware.APIKeyHeader, idempotencyHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", h.Health)
	router.Handle("/metrics", promhttp.Handler())

	jwtOnly := middleware.Auth(h.cfg.JWTSecret)
	router.With(jwtOnly).Get("/auth/me", h.Me)

	router.Route("/keys", func(r chi.Router) {
		r.Use(jwtOnly)
		r.Get("/", h.ListKeys)
		r.Post("/create", h.CreateKey)
		r.Post("/rollover", h.RolloverKey)
		r.Post("/{id}/revoke", h.RevokeKey)
	})

	router.Route("/wallet", func(r chi.Router) {
		r.Use(middleware.AuthOrAPIKey(h.cfg.JWTSecret, h.keys))
		r.With(
			middleware.RequirePermission(models.PermissionDeposit),
			h.rateLimit("deposit"),
		).Post("/deposit", h.Deposit)
		r.With(middleware.RequirePermission(models.PermissionRead)).Get("/deposit/{reference}/status", h.DepositStatus)
		r.With(middleware.RequirePermission(models.PermissionRead)).Get("/balance", h.Balance)
		r.With(
			middleware.RequirePermission(models.PermissionTransfer),
			h.rateLimit("transfer"),
		).Post("/transfer", h.Transfer)
		r.With(middleware.RequirePermission(models.PermissionRead)).Get("/transactions", h.Transactions)
	})

	router.Post("/payments/paystack/webhook", h.PaystackWebhook)
	router.Get("/ws/balance", h.WSBalance)
	return router
}

func (h *Handler) rateLimit(scope string) func(http.Handler) http.Handler {
	return ratelimit.Middleware(h.limiter, scope, h.cfg.RateLimitPerMinute, time.Minute, func(r *http.Request) string {
		userID, _ := middleware.UserIDFromContext(r.Context())
		return userID
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
