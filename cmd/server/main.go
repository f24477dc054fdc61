package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custody/internal/apikey"
	"custody/internal/config"
	"custody/internal/db"
	"custody/internal/events"
	"custody/internal/handlers"
	"custody/internal/paystack"
	"custody/internal/ratelimit"
	"custody/internal/scheduler"
	"custody/internal/services"
	"custody/internal/store"
	"custody/internal/websocket"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	users := store.NewUserStore(database)
	walletStore := store.NewWalletStore(database)
	transactions := store.NewTransactionStore(database)
	keyStore := store.NewAPIKeyStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database, sql.LevelReadCommitted)
	hub := websocket.NewHub()

	var publisher events.Publisher = events.Noop{}
	if cfg.RabbitMQURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.EventsExchange)
		if err != nil {
			log.Printf("events disabled, rabbitmq unavailable: %v", err)
		} else {
			defer amqpPublisher.Close()
			publisher = amqpPublisher
		}
	}

	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := ratelimit.Connect(connectCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Printf("rate limiting disabled, redis unavailable: %v", err)
		} else {
			defer client.Close()
			limiter = ratelimit.NewRedisLimiter(client, cfg.RateLimitPrefix)
		}
	}

	gateway := paystack.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.PaystackCallbackURL, cfg.GatewayTimeout())
	wallets := services.NewWalletService(txRunner, walletStore, hub)
	ledger := services.NewLedgerService(transactions)
	payments := services.NewPaymentService(txRunner, wallets, ledger, users, gateway, publisher, services.PaymentConfig{
		WebhookSecret:  cfg.PaystackWebhookSecret,
		GatewayTimeout: cfg.GatewayTimeout(),
		DedupWindow:    cfg.DepositDedupWindow(),
	})
	transfers := services.NewTransferService(txRunner, wallets, ledger, audit, publisher)
	keys := services.NewAPIKeyService(txRunner, keyStore, users, audit, apikey.NewHasher(cfg.APIKeyHashIterations), publisher, cfg.APIKeyLimit)

	jobs := scheduler.New(payments, scheduler.Config{
		Schedule:   cfg.ReconcileSchedule,
		StaleAfter: cfg.ReconcileStaleAfter(),
		BatchSize:  cfg.ReconcileBatchSize,
	})
	if err := jobs.Start(); err != nil {
		log.Fatalf("failed to start reconciliation: %v", err)
	}

	handler := handlers.New(cfg, users, wallets, payments, transfers, ledger, keys, hub, limiter)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.GatewayTimeout() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("custody API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	select {
	case <-jobs.Stop().Done():
	case <-ctx.Done():
		log.Println("reconciliation job still running at shutdown")
	}
}
