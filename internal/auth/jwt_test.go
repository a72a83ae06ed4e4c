package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndParseJWT(t *testing.T) {
	tok, err := SignJWT("user-123", "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := ParseJWT(tok, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub != "user-123" {
		t.Fatalf("expected subject user-123, got %q", sub)
	}
}

func TestParseJWTRejectsWrongSecretAndExpired(t *testing.T) {
	tok, _ := SignJWT("user-123", "secret", time.Hour)
	if _, err := ParseJWT(tok, "other"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	expired, _ := SignJWT("user-123", "secret", -time.Minute)
	if _, err := ParseJWT(expired, "secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestParseJWTRequiresSubject(t *testing.T) {
	tok, _ := SignJWT("", "secret", time.Hour)
	if _, err := ParseJWT(tok, "secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty subject, got %v", err)
	}
}
