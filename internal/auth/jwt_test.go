package auth

import (
	"testing"
	"time"
)

func TestJWTServiceGenerateValidate(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	token, err := service.Generate("ci-runner-1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	subject, err := service.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if subject != "ci-runner-1" {
		t.Fatalf("expected subject ci-runner-1, got %q", subject)
	}
}

func TestJWTServiceGenerateRequiresSubject(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	if _, err := service.Generate(""); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}

func TestJWTServiceDisabledWithoutSecret(t *testing.T) {
	service := NewJWTService("", time.Hour)
	if _, err := service.Generate("x"); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if _, err := service.Validate("whatever"); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestJWTServiceValidateRejectsBadToken(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	if _, err := service.Validate("not-a-jwt"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTServiceValidateRejectsExpired(t *testing.T) {
	service := NewJWTService("secret", -time.Hour)
	token, err := service.Generate("expired-subject")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := service.Validate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}
