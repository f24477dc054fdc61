package models

import (
	"time"

	"github.com/lib/pq"
)

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"

	TypeDeposit  = "deposit"
	TypeTransfer = "transfer"

	PermissionDeposit  = "deposit"
	PermissionTransfer = "transfer"
	PermissionRead     = "read"
)

var AllPermissions = []string{PermissionDeposit, PermissionTransfer, PermissionRead}

func IsTerminalStatus(status string) bool {
	return status == StatusSuccess || status == StatusFailed
}

type User struct {
	ID         string    `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	Name       string    `db:"name" json:"name"`
	ProviderID *string   `db:"provider_id" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

type Wallet struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	WalletNumber string    `db:"wallet_number" json:"wallet_number"`
	Balance      int64     `db:"balance" json:"balance"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type Transaction struct {
	ID                string     `db:"id" json:"id"`
	Reference         string     `db:"reference" json:"reference"`
	UserID            string     `db:"user_id" json:"user_id"`
	Amount            int64      `db:"amount" json:"amount"`
	Status            string     `db:"status" json:"status"`
	Type              string     `db:"transaction_type" json:"transaction_type"`
	AuthorizationURL  *string    `db:"authorization_url" json:"authorization_url,omitempty"`
	SenderWalletID    *string    `db:"sender_wallet_id" json:"sender_wallet_id,omitempty"`
	RecipientWalletID *string    `db:"recipient_wallet_id" json:"recipient_wallet_id,omitempty"`
	Email             *string    `db:"email" json:"email,omitempty"`
	PaidAt            *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// TransactionView is a history row with both wallet numbers resolved.
type TransactionView struct {
	Transaction
	SenderWalletNumber    *string `db:"sender_wallet_number" json:"sender_wallet_number,omitempty"`
	RecipientWalletNumber *string `db:"recipient_wallet_number" json:"recipient_wallet_number,omitempty"`
}

type APIKey struct {
	ID          string         `db:"id" json:"id"`
	UserID      string         `db:"user_id" json:"-"`
	KeyPrefix   string         `db:"key_prefix" json:"key_prefix"`
	KeyHash     string         `db:"key_hash" json:"-"`
	Name        string         `db:"name" json:"name"`
	Permissions pq.StringArray `db:"permissions" json:"permissions"`
	ExpiresAt   time.Time      `db:"expires_at" json:"expires_at"`
	IsActive    bool           `db:"is_active" json:"is_active"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

func (k APIKey) HasPermission(permission string) bool {
	for _, p := range k.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

func (k APIKey) IsExpired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}
