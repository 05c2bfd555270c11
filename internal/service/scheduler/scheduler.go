// Package scheduler rotates chat requests across the available account pool.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

// Scheduler selects the next account in rotation using the store's
// versioned cursor. The conditional write is the only cross-request atomic
// in the system; contention degrades to bounded retries, never a lock.
type Scheduler struct {
	Accounts domain.AccountStore
	Cursor   domain.CursorStore

	// CASAttempts and CASDelay bound the read-compute-swap loop.
	CASAttempts int
	CASDelay    time.Duration
}

// New constructs a Scheduler with the given contention bounds.
func New(accounts domain.AccountStore, cursor domain.CursorStore, casAttempts int, casDelay time.Duration) *Scheduler {
	if casAttempts <= 0 {
		casAttempts = 10
	}
	return &Scheduler{Accounts: accounts, Cursor: cursor, CASAttempts: casAttempts, CASDelay: casDelay}
}

// Select returns the account at the current rotation position and advances
// the cursor. The available list is re-read fresh on every call so a demotion
// is visible to the very next selection.
func (s *Scheduler) Select(ctx domain.Context) (domain.Account, error) {
	for attempt := 0; attempt < s.CASAttempts; attempt++ {
		available, err := s.Accounts.ListAvailable(ctx)
		if err != nil {
			return domain.Account{}, fmt.Errorf("op=scheduler.Select: %w", err)
		}
		if len(available) == 0 {
			observability.SchedulerSelectionsTotal.WithLabelValues("none_available").Inc()
			return domain.Account{}, domain.ErrNoAvailableAccounts
		}

		cursor, version, err := s.Cursor.Cursor(ctx)
		if err != nil {
			return domain.Account{}, fmt.Errorf("op=scheduler.Select: %w", err)
		}
		// The stored cursor may exceed the current pool size after demotions;
		// normalization happens at read time.
		normalized := cursor % int64(len(available))
		if normalized < 0 {
			normalized += int64(len(available))
		}
		next := (normalized + 1) % int64(len(available))

		ok, err := s.Cursor.SetCursor(ctx, next, version)
		if err != nil {
			return domain.Account{}, fmt.Errorf("op=scheduler.Select: %w", err)
		}
		if ok {
			observability.SchedulerSelectionsTotal.WithLabelValues("selected").Inc()
			return available[normalized], nil
		}

		// A concurrent selector won the race; back off briefly and retry the
		// whole read-compute-swap sequence.
		observability.SchedulerCASRetriesTotal.Inc()
		slog.Debug("scheduler cursor conflict", slog.Int("attempt", attempt+1))
		if s.CASDelay > 0 {
			select {
			case <-ctx.Done():
				return domain.Account{}, ctx.Err()
			case <-time.After(s.CASDelay):
			}
		}
	}
	observability.SchedulerSelectionsTotal.WithLabelValues("contention").Inc()
	return domain.Account{}, fmt.Errorf("op=scheduler.Select: %d attempts: %w", s.CASAttempts, domain.ErrSchedulerContention)
}

// MarkUnavailable demotes an account after an authorization or not-found
// failure. Plain read-modify-write: toggling only removes the account from
// future rotations, so last-writer-wins is acceptable here.
func (s *Scheduler) MarkUnavailable(ctx domain.Context, id, reason string) error {
	a, err := s.Accounts.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("op=scheduler.MarkUnavailable: %w", err)
	}
	a.Available = false
	a.UnavailableReason = reason
	a.UnavailableAt = time.Now().UTC()
	if err := s.Accounts.Update(ctx, a); err != nil {
		return fmt.Errorf("op=scheduler.MarkUnavailable: %w", err)
	}
	observability.AccountDemotionsTotal.WithLabelValues(reason).Inc()
	slog.Warn("account demoted", slog.String("account_id", id), slog.String("reason", reason))
	return nil
}

// MarkAvailable re-enables a previously demoted account.
func (s *Scheduler) MarkAvailable(ctx domain.Context, id string) error {
	a, err := s.Accounts.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("op=scheduler.MarkAvailable: %w", err)
	}
	a.Available = true
	a.UnavailableReason = ""
	a.UnavailableAt = time.Time{}
	if err := s.Accounts.Update(ctx, a); err != nil {
		return fmt.Errorf("op=scheduler.MarkAvailable: %w", err)
	}
	slog.Info("account re-enabled", slog.String("account_id", id))
	return nil
}
