// Package auth supplies bearer tokens to the API client and the stream consumer.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/conthunt/streamcore/internal/model"
)

// Source hands out bearer tokens. Refresh forces a new token, used after a 419.
type Source interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Static is a fixed token. Refresh returns the same value.
type Static string

// Token returns the static token.
func (s Static) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", model.ErrNoToken
	}
	return string(s), nil
}

// Refresh returns the static token.
func (s Static) Refresh(ctx context.Context) (string, error) {
	return s.Token(ctx)
}

// OAuth2Source adapts an oauth2.TokenSource, caching the token until it expires.
type OAuth2Source struct {
	base oauth2.TokenSource

	mu      sync.Mutex
	current *oauth2.Token
}

// NewOAuth2Source wraps base.
func NewOAuth2Source(base oauth2.TokenSource) *OAuth2Source {
	return &OAuth2Source{base: base}
}

// Token returns the cached token, fetching a new one when missing or expired.
func (s *OAuth2Source) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Valid() {
		return s.current.AccessToken, nil
	}
	return s.fetchLocked(ctx)
}

// Refresh discards the cached token and fetches a new one.
func (s *OAuth2Source) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	return s.fetchLocked(ctx)
}

func (s *OAuth2Source) fetchLocked(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.base == nil {
		return "", model.ErrNoToken
	}

	tok, err := s.base.Token()
	if err != nil {
		return "", fmt.Errorf("failed to obtain token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", model.ErrNoToken
	}

	s.current = tok
	return tok.AccessToken, nil
}

// Claims are the claims minted for the development backend.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scope,omitempty"`
}

// DevTokenSource mints short-lived HS256 tokens accepted by the development backend.
type DevTokenSource struct {
	Secret string
	UserID string
	TTL    time.Duration
	Now    func() time.Time
}

var _ oauth2.TokenSource = (*DevTokenSource)(nil)

// Token mints a new signed token.
func (d *DevTokenSource) Token() (*oauth2.Token, error) {
	if d.Secret == "" {
		return nil, model.ErrNoToken
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	ttl := d.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	issued := now()
	expiry := issued.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   d.UserID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
		Scopes: []string{"search", "chat"},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(d.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}

// ParseDevToken validates a token minted by DevTokenSource.
func ParseDevToken(secret, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}
