package validator

import (
	"regexp"
	"strings"

	"custody/internal/apperr"
	"custody/internal/models"
)

var (
	ErrInvalidEmail   = apperr.New(apperr.KindInvalidRequest, "invalid email")
	ErrInvalidKeyName = apperr.New(apperr.KindInvalidRequest, "key name must be between 1 and 100 characters")
)

var (
	emailRegex        = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	walletNumberRegex = regexp.MustCompile(`^[0-9]{13}$`)
)

func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateWalletNumber accepts exactly 13 ASCII digits.
func ValidateWalletNumber(number string) error {
	if !walletNumberRegex.MatchString(number) {
		return apperr.ErrInvalidWalletNumber
	}
	return nil
}

func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return apperr.ErrInvalidAmount
	}
	return nil
}

func ValidateKeyName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || len(trimmed) > 100 {
		return ErrInvalidKeyName
	}
	return nil
}

// NormalizePermissions lowercases, de-duplicates and checks the requested
// permission set.
func NormalizePermissions(permissions []string) ([]string, error) {
	if len(permissions) == 0 {
		return nil, apperr.ErrInvalidPermission
	}
	seen := make(map[string]struct{}, len(permissions))
	out := make([]string, 0, len(permissions))
	for _, raw := range permissions {
		p := strings.ToLower(strings.TrimSpace(raw))
		if !isKnownPermission(p) {
			return nil, apperr.New(apperr.KindInvalidPermission, "unknown permission: "+raw)
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func isKnownPermission(p string) bool {
	for _, known := range models.AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}
