package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

// Create stores a new account record and registers it in the index set.
func (s *Store) Create(ctx context.Context, a domain.Account) error {
	if a.ID == "" {
		return fmt.Errorf("op=redisstore.Create: %w: account id required", domain.ErrInvalidArgument)
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("op=redisstore.Create: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, accountKeyPrefix+a.ID, b, 0)
	pipe.SAdd(ctx, accountIndexKey, a.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=redisstore.Create: %w", err)
	}
	return nil
}

// Get fetches one account by id.
func (s *Store) Get(ctx context.Context, id string) (domain.Account, error) {
	b, err := s.rdb.Get(ctx, accountKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return domain.Account{}, fmt.Errorf("op=redisstore.Get: account %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("op=redisstore.Get: %w", err)
	}
	var a domain.Account
	if err := json.Unmarshal(b, &a); err != nil {
		return domain.Account{}, fmt.Errorf("op=redisstore.Get: decode: %w", err)
	}
	return a, nil
}

// List returns every account sorted by ascending creation time.
func (s *Store) List(ctx context.Context) ([]domain.Account, error) {
	ids, err := s.rdb.SMembers(ctx, accountIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("op=redisstore.List: %w", err)
	}
	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		a, err := s.Get(ctx, id)
		if err != nil {
			// A record removed between SMEMBERS and GET is not an error.
			continue
		}
		out = append(out, a)
	}
	sortByCreation(out)
	return out, nil
}

// ListAvailable returns the rotation candidates: available accounts in
// ascending creation order.
func (s *Store) ListAvailable(ctx context.Context) ([]domain.Account, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.Available {
			out = append(out, a)
		}
	}
	return out, nil
}

// Update overwrites an existing account record. Last writer wins; the
// availability flag does not need the cursor's CAS guarantee because toggling
// only removes the account from future rotations.
func (s *Store) Update(ctx context.Context, a domain.Account) error {
	exists, err := s.rdb.SIsMember(ctx, accountIndexKey, a.ID).Result()
	if err != nil {
		return fmt.Errorf("op=redisstore.Update: %w", err)
	}
	if !exists {
		return fmt.Errorf("op=redisstore.Update: account %s: %w", a.ID, domain.ErrNotFound)
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("op=redisstore.Update: %w", err)
	}
	if err := s.rdb.Set(ctx, accountKeyPrefix+a.ID, b, 0).Err(); err != nil {
		return fmt.Errorf("op=redisstore.Update: %w", err)
	}
	return nil
}

// Delete removes the account record, its index entry, and its cache entries.
func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, accountIndexKey, id)
	pipe.Del(ctx, accountKeyPrefix+id, tokenKeyPrefix+id, sessionKeyPrefix+id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=redisstore.Delete: %w", err)
	}
	return nil
}

func sortByCreation(accounts []domain.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
}
