package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token cache: at most one live entry per account, expiry enforced by the
// store TTL so an entry is never returned past it.

func (s *Store) GetToken(ctx context.Context, accountID string) (string, bool, error) {
	return s.getCached(ctx, tokenKeyPrefix+accountID)
}

func (s *Store) SetToken(ctx context.Context, accountID, token string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, tokenKeyPrefix+accountID, token, ttl).Err(); err != nil {
		return fmt.Errorf("op=redisstore.SetToken: %w", err)
	}
	return nil
}

func (s *Store) DeleteToken(ctx context.Context, accountID string) error {
	if err := s.rdb.Del(ctx, tokenKeyPrefix+accountID).Err(); err != nil {
		return fmt.Errorf("op=redisstore.DeleteToken: %w", err)
	}
	return nil
}

// Session cache: same shape, longer validity window.

func (s *Store) GetSession(ctx context.Context, accountID string) (string, bool, error) {
	return s.getCached(ctx, sessionKeyPrefix+accountID)
}

func (s *Store) SetSession(ctx context.Context, accountID, session string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, sessionKeyPrefix+accountID, session, ttl).Err(); err != nil {
		return fmt.Errorf("op=redisstore.SetSession: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, accountID string) error {
	if err := s.rdb.Del(ctx, sessionKeyPrefix+accountID).Err(); err != nil {
		return fmt.Errorf("op=redisstore.DeleteSession: %w", err)
	}
	return nil
}

func (s *Store) getCached(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("op=redisstore.getCached: %w", err)
	}
	return v, true, nil
}
