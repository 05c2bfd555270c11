package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

type fakeAccounts struct {
	accounts map[string]domain.Account
	order    []string
}

func newFakeAccounts(accounts ...domain.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: map[string]domain.Account{}}
	for _, a := range accounts {
		f.accounts[a.ID] = a
		f.order = append(f.order, a.ID)
	}
	return f
}

func (f *fakeAccounts) Create(_ domain.Context, a domain.Account) error {
	f.accounts[a.ID] = a
	f.order = append(f.order, a.ID)
	return nil
}

func (f *fakeAccounts) Get(_ domain.Context, id string) (domain.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeAccounts) List(_ domain.Context) ([]domain.Account, error) {
	out := make([]domain.Account, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.accounts[id])
	}
	return out, nil
}

func (f *fakeAccounts) ListAvailable(ctx domain.Context) ([]domain.Account, error) {
	all, _ := f.List(ctx)
	out := all[:0]
	for _, a := range all {
		if a.Available {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) Update(_ domain.Context, a domain.Account) error {
	if _, ok := f.accounts[a.ID]; !ok {
		return domain.ErrNotFound
	}
	f.accounts[a.ID] = a
	return nil
}

func (f *fakeAccounts) Delete(_ domain.Context, id string) error {
	delete(f.accounts, id)
	return nil
}

// fakeCursor implements the versioned cursor with optional forced conflicts.
type fakeCursor struct {
	cursor    int64
	version   int64
	conflicts int // fail this many conditional writes first
}

func (f *fakeCursor) Cursor(domain.Context) (int64, int64, error) {
	return f.cursor, f.version, nil
}

func (f *fakeCursor) SetCursor(_ domain.Context, next, version int64) (bool, error) {
	if f.conflicts > 0 {
		f.conflicts--
		f.version++
		return false, nil
	}
	if version != f.version {
		return false, nil
	}
	f.cursor = next
	f.version++
	return true, nil
}

func acct(id string, createdAt time.Time, available bool) domain.Account {
	return domain.Account{ID: id, CSesIdx: "idx-" + id, Available: available, CreatedAt: createdAt}
}

func TestSelect_RoundRobinBeforeRepeat(t *testing.T) {
	base := time.Now().UTC()
	accounts := newFakeAccounts(
		acct("a", base, true),
		acct("b", base.Add(time.Second), true),
		acct("c", base.Add(2*time.Second), true),
	)
	s := New(accounts, &fakeCursor{}, 10, 0)

	var got []string
	for i := 0; i < 6; i++ {
		a, err := s.Select(context.Background())
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		got = append(got, a.ID)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selection %d: got %s want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestSelect_NoAvailableAccounts(t *testing.T) {
	accounts := newFakeAccounts(acct("a", time.Now(), false))
	s := New(accounts, &fakeCursor{}, 10, 0)

	_, err := s.Select(context.Background())
	if !errors.Is(err, domain.ErrNoAvailableAccounts) {
		t.Fatalf("expected ErrNoAvailableAccounts, got %v", err)
	}
}

func TestSelect_DemotionVisibleMidRotation(t *testing.T) {
	// Two accounts; first call selects A, second selects B. A 401 on B
	// demotes it; the third call must return A even though the rotation
	// arithmetic would otherwise point at B.
	base := time.Now().UTC()
	accounts := newFakeAccounts(
		acct("A", base, true),
		acct("B", base.Add(time.Second), true),
	)
	s := New(accounts, &fakeCursor{}, 10, 0)
	ctx := context.Background()

	first, err := s.Select(ctx)
	if err != nil || first.ID != "A" {
		t.Fatalf("first selection: got (%v,%v), want A", first.ID, err)
	}
	second, err := s.Select(ctx)
	if err != nil || second.ID != "B" {
		t.Fatalf("second selection: got (%v,%v), want B", second.ID, err)
	}

	if err := s.MarkUnavailable(ctx, "B", "backend unauthorized"); err != nil {
		t.Fatalf("demote: %v", err)
	}

	third, err := s.Select(ctx)
	if err != nil || third.ID != "A" {
		t.Fatalf("third selection after demotion: got (%v,%v), want A", third.ID, err)
	}

	if err := s.MarkAvailable(ctx, "B"); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	b, _ := accounts.Get(ctx, "B")
	if !b.Available || b.UnavailableReason != "" {
		t.Fatalf("expected cleared demotion state, got %+v", b)
	}
}

func TestSelect_RetriesOnCASConflict(t *testing.T) {
	accounts := newFakeAccounts(acct("a", time.Now(), true))
	cursor := &fakeCursor{conflicts: 3}
	s := New(accounts, cursor, 10, 0)

	a, err := s.Select(context.Background())
	if err != nil {
		t.Fatalf("expected success after conflicts, got %v", err)
	}
	if a.ID != "a" {
		t.Fatalf("unexpected account %s", a.ID)
	}
}

func TestSelect_ContentionExhaustsAttempts(t *testing.T) {
	accounts := newFakeAccounts(acct("a", time.Now(), true))
	cursor := &fakeCursor{conflicts: 100}
	s := New(accounts, cursor, 10, 0)

	_, err := s.Select(context.Background())
	if !errors.Is(err, domain.ErrSchedulerContention) {
		t.Fatalf("expected ErrSchedulerContention, got %v", err)
	}
	if cursor.conflicts != 90 {
		t.Fatalf("expected exactly 10 attempts, %d conflicts left", cursor.conflicts)
	}
}
