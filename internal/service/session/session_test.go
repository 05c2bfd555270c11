package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

type fakeCreator struct {
	calls int
	err   error
}

func (f *fakeCreator) CreateSession(domain.Context, domain.Account, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("sessions/s%d", f.calls), nil
}

type memSessionCache struct {
	sessions map[string]string
	ttls     map[string]time.Duration
}

func newMemSessionCache() *memSessionCache {
	return &memSessionCache{sessions: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *memSessionCache) GetSession(_ domain.Context, id string) (string, bool, error) {
	s, ok := c.sessions[id]
	return s, ok, nil
}

func (c *memSessionCache) SetSession(_ domain.Context, id, sess string, ttl time.Duration) error {
	c.sessions[id] = sess
	c.ttls[id] = ttl
	return nil
}

func (c *memSessionCache) DeleteSession(_ domain.Context, id string) error {
	delete(c.sessions, id)
	return nil
}

func TestEnsure_CreatesOnceThenReuses(t *testing.T) {
	backend := &fakeCreator{}
	cache := newMemSessionCache()
	svc := New(backend, cache, time.Hour)
	account := domain.Account{ID: "acc-1"}

	first, err := svc.Ensure(context.Background(), account, "tok")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if first != "sessions/s1" {
		t.Fatalf("unexpected session %q", first)
	}
	if cache.ttls["acc-1"] != time.Hour {
		t.Fatalf("expected 1h cache TTL, got %v", cache.ttls["acc-1"])
	}

	second, err := svc.Ensure(context.Background(), account, "tok")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if second != first || backend.calls != 1 {
		t.Fatalf("expected cached session reuse, got %q after %d creates", second, backend.calls)
	}
}

func TestEnsure_FailedCreateIsNotCached(t *testing.T) {
	backend := &fakeCreator{err: domain.ErrSessionCreate}
	cache := newMemSessionCache()
	svc := New(backend, cache, time.Hour)

	_, err := svc.Ensure(context.Background(), domain.Account{ID: "acc-1"}, "tok")
	if !errors.Is(err, domain.ErrSessionCreate) {
		t.Fatalf("expected ErrSessionCreate, got %v", err)
	}
	if len(cache.sessions) != 0 {
		t.Fatalf("failure must not populate the cache: %+v", cache.sessions)
	}
}

func TestInvalidate_ForcesNewSession(t *testing.T) {
	backend := &fakeCreator{}
	cache := newMemSessionCache()
	svc := New(backend, cache, time.Hour)
	account := domain.Account{ID: "acc-1"}
	ctx := context.Background()

	if _, err := svc.Ensure(ctx, account, "tok"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := svc.Invalidate(ctx, "acc-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	sess, err := svc.Ensure(ctx, account, "tok")
	if err != nil {
		t.Fatalf("ensure after invalidate: %v", err)
	}
	if sess != "sessions/s2" || backend.calls != 2 {
		t.Fatalf("expected a fresh session, got %q after %d creates", sess, backend.calls)
	}
}
