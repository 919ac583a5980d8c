package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// refreshMargin is how long before the stored expiry a cached token is
// considered stale, so a token is never used right at its deadline.
const refreshMargin = 5 * time.Minute

// tokenPayload is the JSON shape stored in SSM for provider tokens.
// expires_at is optional; tokens without it are cached for the process
// lifetime.
type tokenPayload struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// TokenProvider lazily fetches a token from the parameter store and caches it
// until shortly before its expiry. It replaces any process-wide mutable token
// singleton: each provider client gets its own explicitly-scoped instance.
type TokenProvider struct {
	getter Getter
	name   string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenProvider(getter Getter, name string) (*TokenProvider, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name must not be empty")
	}
	return &TokenProvider{getter: getter, name: name}, nil
}

// Token returns the cached token, refreshing it from SSM when missing or
// within the refresh margin of its expiry.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && (p.expiresAt.IsZero() || time.Now().Before(p.expiresAt.Add(-refreshMargin))) {
		return p.token, nil
	}

	raw, err := p.getter.GetParameter(ctx, p.name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token %q: %w", p.name, err)
	}
	var payload tokenPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal token %q: %w", p.name, err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("paramstore: token %q is empty", p.name)
	}

	expiresAt := time.Time{}
	if payload.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, payload.ExpiresAt)
		if err != nil {
			return "", fmt.Errorf("paramstore: parse token %q expiry: %w", p.name, err)
		}
		expiresAt = t
	}

	p.token = payload.Token
	p.expiresAt = expiresAt
	return p.token, nil
}
