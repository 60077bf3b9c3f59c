package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider supplies the bearer credential for remote calls. Refresh is
// invoked by the HTTP client when the server answers 401; the refreshed token
// is then used for exactly one retry.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// StaticTokenProvider returns a fixed token and cannot refresh. Useful for
// tests and for deployments that manage credentials externally.
type StaticTokenProvider string

func (p StaticTokenProvider) Token(ctx context.Context) (string, error) { return string(p), nil }

func (p StaticTokenProvider) Refresh(ctx context.Context) error {
	return fmt.Errorf("remote: static token cannot be refreshed")
}

// RefreshFunc exchanges a refresh credential for a new access token.
type RefreshFunc func(ctx context.Context) (accessToken string, err error)

// CachingTokenProvider holds an access token and refreshes it via the
// configured exchange, either on demand (401 path) or proactively when the
// token's JWT exp claim is about to pass.
type CachingTokenProvider struct {
	refresh RefreshFunc

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewCachingTokenProvider seeds the provider with an initial access token
// (may be empty, forcing a refresh on first use).
func NewCachingTokenProvider(initial string, refresh RefreshFunc) *CachingTokenProvider {
	p := &CachingTokenProvider{refresh: refresh, token: initial}
	p.expiresAt = tokenExpiry(initial)
	return p
}

// Token returns the cached access token, refreshing first when it is missing
// or within a minute of its recorded expiry.
func (p *CachingTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" || (!p.expiresAt.IsZero() && time.Until(p.expiresAt) < time.Minute) {
		if err := p.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	return p.token, nil
}

// Refresh forces a token exchange regardless of the cached expiry.
func (p *CachingTokenProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshLocked(ctx)
}

func (p *CachingTokenProvider) refreshLocked(ctx context.Context) error {
	tok, err := p.refresh(ctx)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	p.token = tok
	p.expiresAt = tokenExpiry(tok)
	return nil
}

// tokenExpiry extracts the exp claim from a JWT access token without
// verifying the signature (the server is the authority; we only schedule
// refreshes). Opaque tokens yield a zero time and are refreshed on 401 only.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
