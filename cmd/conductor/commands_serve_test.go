package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/auth"
)

func TestRequireBearerTokenPassesValidToken(t *testing.T) {
	svc := auth.NewJWTService("test-secret", time.Hour)
	token, err := svc.Generate("caller-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	called := false
	handler := requireBearerToken(svc, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/ask", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if !called {
		t.Fatal("expected next handler to be called with a valid token")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRequireBearerTokenRejectsInvalidToken(t *testing.T) {
	svc := auth.NewJWTService("test-secret", time.Hour)

	called := false
	handler := requireBearerToken(svc, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/ask", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if called {
		t.Fatal("expected next handler not to be called with an invalid token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireBearerTokenPassesThroughWhenDisabled(t *testing.T) {
	svc := auth.NewJWTService("", time.Hour)

	called := false
	handler := requireBearerToken(svc, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/ask", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if !called {
		t.Fatal("expected next handler to be called when auth is disabled")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
