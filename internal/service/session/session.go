// Package session reuses upstream conversation sessions per account for as
// long as the cache window allows.
package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

// Creator is the session half of the upstream client.
type Creator interface {
	CreateSession(ctx domain.Context, account domain.Account, token string) (string, error)
}

// Service resolves the session path to converse under. Sessions stay usable
// far longer than the cache TTL; expiry here just forces a fresh conversation.
type Service struct {
	Backend  Creator
	Cache    domain.SessionCache
	CacheTTL time.Duration
}

// New constructs the service with the given cache window.
func New(backend Creator, cache domain.SessionCache, cacheTTL time.Duration) *Service {
	return &Service{Backend: backend, Cache: cache, CacheTTL: cacheTTL}
}

// Ensure returns the account's session path, creating one only on a cache
// miss. Failed creates are never cached.
func (s *Service) Ensure(ctx domain.Context, account domain.Account, token string) (string, error) {
	if sess, ok, err := s.Cache.GetSession(ctx, account.ID); err != nil {
		return "", fmt.Errorf("op=session.Ensure: cache read: %w", err)
	} else if ok {
		observability.SessionCreatesTotal.WithLabelValues("hit").Inc()
		return sess, nil
	}

	sess, err := s.Backend.CreateSession(ctx, account, token)
	if err != nil {
		observability.SessionCreatesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("op=session.Ensure: %w", err)
	}

	if err := s.Cache.SetSession(ctx, account.ID, sess, s.CacheTTL); err != nil {
		slog.Warn("session cache write failed", slog.String("account_id", account.ID), slog.Any("error", err))
	}
	observability.SessionCreatesTotal.WithLabelValues("created").Inc()
	slog.Debug("session created", slog.String("account_id", account.ID), slog.String("session", sess))
	return sess, nil
}

// Invalidate drops the cached session, typically after the upstream reports
// it unknown.
func (s *Service) Invalidate(ctx domain.Context, accountID string) error {
	if err := s.Cache.DeleteSession(ctx, accountID); err != nil {
		return fmt.Errorf("op=session.Invalidate: %w", err)
	}
	return nil
}
