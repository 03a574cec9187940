package forwarder

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// StaticToken is a fixed bearer token. The empty token sends no
// Authorization header.
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

// JWTSource mints short-lived HS256 service tokens and reuses each one until
// it is close to expiry.
type JWTSource struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	current string
	renewAt time.Time
}

func NewJWTSource(secret, issuer string, ttl time.Duration) *JWTSource {
	return &JWTSource{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *JWTSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.current != "" && now.Before(s.renewAt) {
		return s.current, nil
	}

	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   "trackgate",
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign upstream token: %w", err)
	}

	s.current = signed
	s.renewAt = now.Add(s.ttl * 4 / 5)
	return signed, nil
}
