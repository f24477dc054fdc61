// Package apperr defines the error kinds surfaced by wallet, ledger, payment
// and key operations. Callers match with errors.Is against the exported
// values or switch on KindOf.
package apperr

import "errors"

type Kind string

const (
	KindInvalidAmount       Kind = "INVALID_AMOUNT"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindSameWalletTransfer  Kind = "SAME_WALLET_TRANSFER"
	KindWalletNotFound      Kind = "WALLET_NOT_FOUND"
	KindWalletExists        Kind = "WALLET_ALREADY_EXISTS"
	KindInvalidWalletNumber Kind = "INVALID_WALLET_NUMBER"
	KindDuplicateReference  Kind = "DUPLICATE_REFERENCE"
	KindTransactionNotFound Kind = "TRANSACTION_NOT_FOUND"
	KindKeyLimitExceeded    Kind = "KEY_LIMIT_EXCEEDED"
	KindKeyNotFound         Kind = "KEY_NOT_FOUND"
	KindRolloverNotAllowed  Kind = "ROLLOVER_NOT_ALLOWED"
	KindInvalidExpiry       Kind = "INVALID_EXPIRY"
	KindInvalidPermission   Kind = "INVALID_PERMISSION"
	KindInvalidSignature    Kind = "INVALID_SIGNATURE"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindPermissionDenied    Kind = "PERMISSION_DENIED"
	KindExpiredKey          Kind = "EXPIRED_KEY"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindGatewayUnavailable  Kind = "GATEWAY_UNAVAILABLE"
	KindInvalidRequest      Kind = "INVALID_REQUEST"
	KindInternal            Kind = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so a custom message still satisfies
// errors.Is(err, ErrWalletNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

var (
	ErrInvalidAmount       = New(KindInvalidAmount, "amount must be greater than zero")
	ErrInsufficientBalance = New(KindInsufficientBalance, "insufficient balance")
	ErrSameWalletTransfer  = New(KindSameWalletTransfer, "cannot transfer to your own wallet")
	ErrWalletNotFound      = New(KindWalletNotFound, "wallet not found")
	ErrWalletExists        = New(KindWalletExists, "user already has a wallet")
	ErrInvalidWalletNumber = New(KindInvalidWalletNumber, "wallet number must be exactly 13 digits")
	ErrDuplicateReference  = New(KindDuplicateReference, "transaction reference already exists")
	ErrTransactionNotFound = New(KindTransactionNotFound, "transaction not found")
	ErrKeyLimitExceeded    = New(KindKeyLimitExceeded, "maximum number of active API keys reached")
	ErrKeyNotFound         = New(KindKeyNotFound, "API key not found")
	ErrRolloverNotAllowed  = New(KindRolloverNotAllowed, "API key has not expired yet")
	ErrInvalidExpiry       = New(KindInvalidExpiry, "expiry must be one of 1H, 1D, 1M, 1Y")
	ErrInvalidPermission   = New(KindInvalidPermission, "permissions must be a non-empty subset of deposit, transfer, read")
	ErrInvalidSignature    = New(KindInvalidSignature, "invalid webhook signature")
	ErrUnauthorized        = New(KindUnauthorized, "unauthorized")
	ErrPermissionDenied    = New(KindPermissionDenied, "permission denied")
	ErrExpiredKey          = New(KindExpiredKey, "API key has expired")
	ErrRateLimited         = New(KindRateLimited, "too many requests")
	ErrGatewayUnavailable  = New(KindGatewayUnavailable, "payment gateway unavailable")
	ErrInvalidRequest      = New(KindInvalidRequest, "invalid request")
)

// KindOf returns the kind carried by err, or KindInternal for anything that is
// not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
