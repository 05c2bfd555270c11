// Command accountseed loads the account pool from a YAML seed file into the
// store. Typically run once per deployment, and again whenever credentials
// are rotated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/repo/redisstore"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/config"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

func main() {
	file := flag.String("file", "seed.yaml", "path to the YAML seed file")
	reset := flag.Bool("reset", false, "delete existing accounts before seeding")
	flag.Parse()

	if err := run(*file, *reset); err != nil {
		slog.Error("seeding failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(file string, reset bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	sf, err := config.LoadSeedFile(file)
	if err != nil {
		return err
	}
	if len(sf.Accounts) == 0 {
		return fmt.Errorf("op=accountseed: %s contains no accounts", file)
	}

	store, err := redisstore.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if reset {
		existing, err := store.List(ctx)
		if err != nil {
			return err
		}
		for _, a := range existing {
			if err := store.Delete(ctx, a.ID); err != nil {
				return err
			}
		}
		slog.Info("existing accounts removed", slog.Int("count", len(existing)))
	}

	// CreatedAt offsets fix the rotation order to the file order.
	base := time.Now().UTC()
	for i, sa := range sf.Accounts {
		account := domain.Account{
			ID:         uuid.NewString(),
			TeamID:     sa.TeamID,
			SecureCSes: sa.SecureCSes,
			HostCOses:  sa.HostCOses,
			CSesIdx:    sa.CSesIdx,
			UserAgent:  sa.UserAgent,
			Available:  sa.Available == nil || *sa.Available,
			CreatedAt:  base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := store.Create(ctx, account); err != nil {
			return fmt.Errorf("op=accountseed: account %d: %w", i, err)
		}
		slog.Info("account seeded",
			slog.String("account_id", account.ID),
			slog.String("csesidx", account.CSesIdx),
			slog.Bool("available", account.Available))
	}
	slog.Info("seeding complete", slog.Int("accounts", len(sf.Accounts)))
	return nil
}
