// Package auth issues and validates the bearer tokens the `serve` HTTP
// front end (C13) requires on its API surface.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrDisabled is returned when no signing secret was configured.
	ErrDisabled = errors.New("auth: jwt signing disabled (no secret configured)")
	// ErrInvalidToken is returned for a missing, expired, or malformed token.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// JWTService signs and validates bearer tokens for conductor's serve
// command. There is no user model: a token's subject identifies the
// calling principal opaquely (service name, CI job ID, operator name).
type JWTService struct {
	secret []byte
	expiry time.Duration
}

// NewJWTService builds a JWT helper from a secret and expiry. An empty
// secret disables token issuance/validation.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), expiry: expiry}
}

// Claims is the token payload: just a registered-claims subject.
type Claims struct {
	jwt.RegisteredClaims
}

// Generate issues a signed token for subject.
func (s *JWTService) Generate(subject string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrDisabled
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("auth: subject is required")
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses token and returns its subject.
func (s *JWTService) Validate(token string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
