package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSignParse_RoundTrip(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"), time.Hour)

	signed, err := issuer.Sign("account-123")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if parts := strings.Split(signed, "."); len(parts) != 3 {
		t.Fatalf("expected a compact JWT, got %q", signed)
	}

	accountID, err := issuer.Parse(signed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if accountID != "account-123" {
		t.Errorf("account id = %q, want %q", accountID, "account-123")
	}
}

func TestParse_Expired(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"), -time.Minute)

	signed, err := issuer.Sign("account-123")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	_, err = issuer.Parse(signed)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	signer := NewIssuer([]byte("secret-a"), time.Hour)
	verifier := NewIssuer([]byte("secret-b"), time.Hour)

	signed, err := signer.Sign("account-123")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	_, err = verifier.Parse(signed)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParse_Malformed(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"), time.Hour)

	for _, tokenString := range []string{"", "garbage", "a.b.c"} {
		if _, err := issuer.Parse(tokenString); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Parse(%q): expected ErrInvalidToken, got %v", tokenString, err)
		}
	}
}

func TestParse_TamperedPayload(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"), time.Hour)

	signed, err := issuer.Sign("account-123")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	parts := strings.Split(signed, ".")
	tampered := parts[0] + ".eyJhY2NvdW50X2lkIjoib3RoZXIifQ." + parts[2]

	if _, err := issuer.Parse(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}
