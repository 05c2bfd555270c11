package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNotFound             = errors.New("not found")
	ErrNoAvailableAccounts  = errors.New("no available accounts")
	ErrSchedulerContention  = errors.New("scheduler contention")
	ErrCredentialFetch      = errors.New("credential fetch failed")
	ErrSessionCreate        = errors.New("session create failed")
	ErrBackendUnauthorized  = errors.New("backend unauthorized")
	ErrBackendNotFound      = errors.New("backend not found")
	ErrBackendRateLimited   = errors.New("backend rate limited")
	ErrBackendFailure       = errors.New("backend failure")
	ErrAllAccountsExhausted = errors.New("all accounts exhausted")
)

// Account is a credentialed identity against the upstream backend.
// Invariants: ID is unique and immutable after creation; rotation order is
// ascending CreatedAt (ties broken by ID).
type Account struct {
	ID                string    `json:"id"`
	TeamID            string    `json:"team_id"`
	SecureCSes        string    `json:"secure_c_ses"`
	HostCOses         string    `json:"host_c_oses"`
	CSesIdx           string    `json:"csesidx"`
	UserAgent         string    `json:"user_agent"`
	Available         bool      `json:"available"`
	UnavailableReason string    `json:"unavailable_reason,omitempty"`
	UnavailableAt     time.Time `json:"unavailable_at,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// MediaItem is one generated media artifact regardless of which location in
// the backend reply it was found at. Either Data is populated (inline) or
// FileID references content that must be downloaded with the owning session.
type MediaItem struct {
	Data     []byte
	FileID   string
	MIME     string
	Filename string
}

// Inline reports whether the item already carries its bytes.
func (m MediaItem) Inline() bool { return len(m.Data) > 0 }

// Reply is the normalized backend response: ordered final-answer text
// fragments plus ordered media. Ephemeral, constructed per request.
type Reply struct {
	Texts []string
	Media []MediaItem
}

// Text concatenates the final-answer fragments.
func (r *Reply) Text() string {
	var b strings.Builder
	for _, t := range r.Texts {
		b.WriteString(t)
	}
	return b.String()
}

// Model describes one entry of the public model catalog.
type Model struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	Description   string `yaml:"description" json:"description,omitempty"`
	ContextLength int    `yaml:"context_length" json:"context_length,omitempty"`
	MaxTokens     int    `yaml:"max_tokens" json:"max_tokens,omitempty"`
	Enabled       bool   `yaml:"enabled" json:"enabled"`
}

// Ports

// AccountStore holds account records. Read/write only; no scheduling logic.
type AccountStore interface {
	Create(ctx Context, a Account) error
	Get(ctx Context, id string) (Account, error)
	List(ctx Context) ([]Account, error)
	// ListAvailable returns available accounts sorted by ascending CreatedAt.
	ListAvailable(ctx Context) ([]Account, error)
	Update(ctx Context, a Account) error
	Delete(ctx Context, id string) error
}

// CursorStore exposes the versioned rotation cursor. The conditional write
// succeeds only while the stored version still matches the one read.
type CursorStore interface {
	Cursor(ctx Context) (cursor int64, version int64, err error)
	SetCursor(ctx Context, next int64, version int64) (ok bool, err error)
}

// TokenCache and SessionCache are TTL-keyed per-account caches. A miss is
// reported as ("", false, nil); store errors are surfaced separately.
type TokenCache interface {
	GetToken(ctx Context, accountID string) (string, bool, error)
	SetToken(ctx Context, accountID, token string, ttl time.Duration) error
	DeleteToken(ctx Context, accountID string) error
}

type SessionCache interface {
	GetSession(ctx Context, accountID string) (string, bool, error)
	SetSession(ctx Context, accountID, session string, ttl time.Duration) error
	DeleteSession(ctx Context, accountID string) error
}

// Context is an alias to context.Context, kept so the ports above and the
// usecases read uniformly.
type Context = context.Context
