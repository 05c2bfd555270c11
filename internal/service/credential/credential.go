// Package credential mints short-lived bearer tokens for upstream calls and
// caches them below their actual validity window.
package credential

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/backend/gemini"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

// Handshaker is the credential half of the upstream client.
type Handshaker interface {
	Handshake(ctx domain.Context, account domain.Account) (keyID string, key []byte, err error)
}

// Service ensures a usable token exists for an account. Tokens are valid for
// TokenTTL upstream but cached only for CacheTTL, so a cache hit is always a
// token with remaining validity. Failed mints are never cached.
type Service struct {
	Backend  Handshaker
	Cache    domain.TokenCache
	TokenTTL time.Duration
	CacheTTL time.Duration

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

// New constructs the service with the given validity and cache windows.
func New(backend Handshaker, cache domain.TokenCache, tokenTTL, cacheTTL time.Duration) *Service {
	return &Service{Backend: backend, Cache: cache, TokenTTL: tokenTTL, CacheTTL: cacheTTL, Now: time.Now}
}

// Ensure returns a valid bearer token for the account, minting one only on a
// cache miss.
func (s *Service) Ensure(ctx domain.Context, account domain.Account) (string, error) {
	if token, ok, err := s.Cache.GetToken(ctx, account.ID); err != nil {
		return "", fmt.Errorf("op=credential.Ensure: cache read: %w", err)
	} else if ok {
		observability.CredentialMintsTotal.WithLabelValues("hit").Inc()
		return token, nil
	}

	keyID, key, err := s.Backend.Handshake(ctx, account)
	if err != nil {
		observability.CredentialMintsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("op=credential.Ensure: %w", err)
	}
	token, err := gemini.MintToken(key, keyID, account.CSesIdx, s.Now().UTC(), s.TokenTTL)
	if err != nil {
		observability.CredentialMintsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("op=credential.Ensure: %w: %v", domain.ErrCredentialFetch, err)
	}

	if err := s.Cache.SetToken(ctx, account.ID, token, s.CacheTTL); err != nil {
		// The token is still good; log and serve it uncached.
		slog.Warn("token cache write failed", slog.String("account_id", account.ID), slog.Any("error", err))
	}
	observability.CredentialMintsTotal.WithLabelValues("minted").Inc()
	slog.Debug("token minted", slog.String("account_id", account.ID), slog.String("key_id", keyID))
	return token, nil
}

// Invalidate drops the cached token after an authorization failure so the
// next attempt re-mints.
func (s *Service) Invalidate(ctx domain.Context, accountID string) error {
	if err := s.Cache.DeleteToken(ctx, accountID); err != nil {
		return fmt.Errorf("op=credential.Invalidate: %w", err)
	}
	return nil
}
