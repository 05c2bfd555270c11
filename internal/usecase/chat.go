// Package usecase contains the request orchestration: account selection,
// credential and session resolution, the upstream call, and failover between
// accounts when one goes bad mid-request.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/backend/gemini"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

// AccountSelector picks accounts in rotation and demotes bad ones.
type AccountSelector interface {
	Select(ctx domain.Context) (domain.Account, error)
	MarkUnavailable(ctx domain.Context, id, reason string) error
}

// CredentialEnsurer resolves a bearer token for an account.
type CredentialEnsurer interface {
	Ensure(ctx domain.Context, account domain.Account) (string, error)
	Invalidate(ctx domain.Context, accountID string) error
}

// SessionEnsurer resolves the conversation session for an account.
type SessionEnsurer interface {
	Ensure(ctx domain.Context, account domain.Account, token string) (string, error)
	Invalidate(ctx domain.Context, accountID string) error
}

// Assistant is the conversational call of the upstream client.
type Assistant interface {
	StreamAssist(ctx domain.Context, account domain.Account, token, session, message string, images []gemini.InlineImage) ([]gemini.StreamAssistResponse, error)
}

// ReplyNormalizer flattens raw assist events into an ordered reply.
type ReplyNormalizer interface {
	Normalize(ctx domain.Context, account domain.Account, token, session string, events []gemini.StreamAssistResponse) (*domain.Reply, error)
}

// Chat runs one chat completion end to end. Failures rotate to the next
// account up to MaxAttempts times; a rate-limited upstream fails the request
// immediately so the caller can surface its own 429.
type Chat struct {
	Scheduler   AccountSelector
	Credentials CredentialEnsurer
	Sessions    SessionEnsurer
	Backend     Assistant
	Normalizer  ReplyNormalizer
	MaxAttempts int
}

// NewChat wires the orchestrator; maxAttempts defaults to 3.
func NewChat(scheduler AccountSelector, credentials CredentialEnsurer, sessions SessionEnsurer, backend Assistant, normalizer ReplyNormalizer, maxAttempts int) *Chat {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Chat{
		Scheduler:   scheduler,
		Credentials: credentials,
		Sessions:    sessions,
		Backend:     backend,
		Normalizer:  normalizer,
		MaxAttempts: maxAttempts,
	}
}

// Complete answers one user message, failing over across accounts.
func (c *Chat) Complete(ctx domain.Context, message string, images []gemini.InlineImage) (*domain.Reply, error) {
	if message == "" {
		return nil, fmt.Errorf("op=chat.Complete: empty message: %w", domain.ErrInvalidArgument)
	}

	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		account, err := c.Scheduler.Select(ctx)
		if err != nil {
			// Pool-level failures are not per-account; retrying the loop
			// cannot improve them.
			return nil, fmt.Errorf("op=chat.Complete: %w", err)
		}
		log := slog.With(slog.Int("attempt", attempt), slog.String("account_id", account.ID))

		reply, err := c.attempt(ctx, account, message, images)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, domain.ErrBackendRateLimited):
			log.Warn("upstream rate limited, failing fast")
			return nil, fmt.Errorf("op=chat.Complete: %w", err)
		case errors.Is(err, domain.ErrBackendUnauthorized), errors.Is(err, domain.ErrCredentialFetch):
			log.Warn("account unauthorized, demoting", slog.Any("error", err))
			c.demote(ctx, account.ID, "backend unauthorized")
		case errors.Is(err, domain.ErrBackendNotFound):
			log.Warn("account resources missing, demoting", slog.Any("error", err))
			c.demote(ctx, account.ID, "backend not found")
		default:
			log.Warn("attempt failed, rotating", slog.Any("error", err))
		}
	}
	return nil, fmt.Errorf("op=chat.Complete: %d attempts: %w: %w", c.MaxAttempts, domain.ErrAllAccountsExhausted, lastErr)
}

// attempt performs one full pass against a single account.
func (c *Chat) attempt(ctx domain.Context, account domain.Account, message string, images []gemini.InlineImage) (*domain.Reply, error) {
	token, err := c.Credentials.Ensure(ctx, account)
	if err != nil {
		return nil, err
	}
	session, err := c.Sessions.Ensure(ctx, account, token)
	if err != nil {
		return nil, err
	}
	events, err := c.Backend.StreamAssist(ctx, account, token, session, message, images)
	if err != nil {
		return nil, err
	}
	return c.Normalizer.Normalize(ctx, account, token, session, events)
}

// demote pulls the account from rotation and drops its cached credentials so
// a later re-enable starts clean. Demotion errors are logged, never fatal to
// the in-flight request.
func (c *Chat) demote(ctx domain.Context, accountID, reason string) {
	if err := c.Scheduler.MarkUnavailable(ctx, accountID, reason); err != nil {
		slog.Error("demotion failed", slog.String("account_id", accountID), slog.Any("error", err))
	}
	if err := c.Credentials.Invalidate(ctx, accountID); err != nil {
		slog.Warn("token invalidation failed", slog.String("account_id", accountID), slog.Any("error", err))
	}
	if err := c.Sessions.Invalidate(ctx, accountID); err != nil {
		slog.Warn("session invalidation failed", slog.String("account_id", accountID), slog.Any("error", err))
	}
}
