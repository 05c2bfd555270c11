// Package redisstore implements the persisted-state ports on Redis.
//
// The core only requires point get, point set (optionally with TTL), delete,
// and a version-conditional set for the rotation cursor. The conditional set
// runs as a Lua script so the behavior matches a multi-process deployment.
package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	accountKeyPrefix = "account:"
	accountIndexKey  = "accounts"
	tokenKeyPrefix   = "cred:"
	sessionKeyPrefix = "session:"
	cursorKey        = "scheduler:cursor"
	cursorVersionKey = "scheduler:cursor:ver"
)

// Store implements domain.AccountStore, domain.CursorStore, domain.TokenCache
// and domain.SessionCache on a single Redis client.
type Store struct {
	rdb       *redis.Client
	casScript *redis.Script
}

// New constructs a Store from a parsed Redis URL.
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=redisstore.New: %w", err)
	}
	return NewWithClient(redis.NewClient(opts)), nil
}

// NewWithClient wraps an existing client; used by tests with miniredis.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{
		rdb:       rdb,
		casScript: redis.NewScript(luaConditionalSet),
	}
}

// luaConditionalSet writes the cursor only while the stored version still
// matches the version the caller read. A successful write bumps the version.
const luaConditionalSet = `
local stored = redis.call("GET", KEYS[2])
local version = 0
if stored ~= false and stored ~= nil then
  version = tonumber(stored)
end
if version ~= tonumber(ARGV[2]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], version + 1)
return 1
`

// Cursor reads the rotation cursor together with its version token. A missing
// cursor reads as (0, 0).
func (s *Store) Cursor(ctx context.Context) (int64, int64, error) {
	vals, err := s.rdb.MGet(ctx, cursorKey, cursorVersionKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("op=redisstore.Cursor: %w", err)
	}
	return parseInt64(vals[0]), parseInt64(vals[1]), nil
}

// SetCursor attempts the version-conditional write. It reports false when a
// concurrent writer advanced the version first.
func (s *Store) SetCursor(ctx context.Context, next int64, version int64) (bool, error) {
	res, err := s.casScript.Run(ctx, s.rdb, []string{cursorKey, cursorVersionKey}, next, version).Int64()
	if err != nil {
		return false, fmt.Errorf("op=redisstore.SetCursor: %w", err)
	}
	return res == 1, nil
}

// Ping reports store reachability; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

func parseInt64(v any) int64 {
	sv, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	_, _ = fmt.Sscan(sv, &n)
	return n
}
