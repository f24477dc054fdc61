package validator

import (
	"errors"
	"testing"

	"custody/internal/apperr"
)

func TestValidateWalletNumber(t *testing.T) {
	if err := ValidateWalletNumber("1234567890123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "123456789012", "12345678901234", "12345678901a3", "１２３４５６７８９０１２３"} {
		if err := ValidateWalletNumber(bad); !errors.Is(err, apperr.ErrInvalidWalletNumber) {
			t.Fatalf("expected invalid wallet number for %q, got %v", bad, err)
		}
	}
}

func TestValidateAmount(t *testing.T) {
	if err := ValidateAmount(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateAmount(0); !errors.Is(err, apperr.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := ValidateAmount(-5); !errors.Is(err, apperr.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestNormalizePermissions(t *testing.T) {
	got, err := NormalizePermissions([]string{"Deposit", "read", "deposit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "deposit" || got[1] != "read" {
		t.Fatalf("unexpected permissions %#v", got)
	}
	if _, err := NormalizePermissions(nil); !errors.Is(err, apperr.ErrInvalidPermission) {
		t.Fatalf("expected invalid permission, got %v", err)
	}
	if _, err := NormalizePermissions([]string{"withdraw"}); !errors.Is(err, apperr.ErrInvalidPermission) {
		t.Fatalf("expected invalid permission, got %v", err)
	}
}

func TestValidateEmailAndKeyName(t *testing.T) {
	if ValidateEmail("a@b.co") != nil || ValidateEmail("nope") == nil {
		t.Fatal("unexpected email validation")
	}
	if ValidateKeyName("ci") != nil || ValidateKeyName("   ") == nil {
		t.Fatal("unexpected key name validation")
	}
}
