// Command onboard signs a user in the way the identity provider callback
// would: it creates the user and wallet on first use and prints a bearer
// token for the API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"custody/internal/auth"
	"custody/internal/config"
	"custody/internal/db"
	"custody/internal/money"
	"custody/internal/services"
	"custody/internal/store"
	"custody/internal/websocket"

	"github.com/joho/godotenv"
)

func main() {
	email := flag.String("email", "", "email address vouched for by the identity provider")
	name := flag.String("name", "", "display name")
	providerID := flag.String("provider-id", "", "subject id at the identity provider")
	flag.Parse()
	if *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	txRunner := db.NewTxRunner(database, sql.LevelReadCommitted)
	wallets := services.NewWalletService(txRunner, store.NewWalletStore(database), websocket.NewHub())
	onboarding := services.NewOnboardingService(txRunner, store.NewUserStore(database), wallets)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := onboarding.Onboard(ctx, services.Identity{Email: *email, Name: *name, ProviderID: *providerID})
	if err != nil {
		log.Fatalf("onboarding failed: %v", err)
	}
	token, err := auth.GenerateToken(cfg.JWTSecret, result.User.ID, result.User.Email, cfg.TokenTTL())
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}

	status := "existing"
	if result.Created {
		status = "created"
	}
	fmt.Printf("user:    %s (%s, %s)\n", result.User.ID, result.User.Email, status)
	fmt.Printf("wallet:  %s balance %s\n", result.Wallet.WalletNumber, money.FormatMinor(result.Wallet.Balance))
	fmt.Printf("token:   %s\n", token)
}
