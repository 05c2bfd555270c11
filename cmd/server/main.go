// Command server runs the OpenAI-compatible gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/backend/gemini"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/httpserver"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/mediacache"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/repo/redisstore"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/app"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/config"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/service/credential"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/service/normalizer"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/service/scheduler"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/service/session"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(observability.SetupLogger(cfg))
	observability.InitMetrics()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		return fmt.Errorf("op=main: tracing: %w", err)
	}

	store, err := redisstore.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("op=main: redis: %w", err)
	}
	defer func() { _ = store.Close() }()

	backend, err := gemini.New(cfg)
	if err != nil {
		return fmt.Errorf("op=main: backend: %w", err)
	}

	media, err := mediacache.New(cfg.MediaCacheDir, cfg.MediaCacheTTL)
	if err != nil {
		return fmt.Errorf("op=main: media cache: %w", err)
	}

	sched := scheduler.New(store, store, cfg.CursorCASAttempts, cfg.CursorCASDelay)
	creds := credential.New(backend, store, cfg.TokenTTL, cfg.TokenCacheTTL)
	sessions := session.New(backend, store, cfg.SessionCacheTTL)
	norm := normalizer.New(backend, cfg.MediaDownloadPar)
	chat := usecase.NewChat(sched, creds, sessions, backend, norm, cfg.MaxChatAttempts)

	catalog := usecase.NewCatalog(loadModels(cfg), cfg.DefaultModel)
	srv := httpserver.NewServer(cfg, chat, catalog, store, media)
	router := app.NewRouter(cfg, srv, store.Ping)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go media.SweepLoop(ctx, cfg.MediaCacheTTL/2)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("op=main: shutdown: %w", err)
	}
	if shutdownTracing != nil {
		tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer tcancel()
		if err := shutdownTracing(tctx); err != nil {
			slog.Warn("tracing shutdown failed", slog.Any("error", err))
		}
	}
	slog.Info("server stopped")
	return nil
}

// loadModels reads the model catalog from the seed file when configured.
func loadModels(cfg config.Config) []domain.Model {
	if cfg.SeedFile == "" {
		return nil
	}
	sf, err := config.LoadSeedFile(cfg.SeedFile)
	if err != nil {
		slog.Warn("seed file unreadable, using default catalog", slog.Any("error", err))
		return nil
	}
	models := make([]domain.Model, 0, len(sf.Models))
	for _, m := range sf.Models {
		enabled := m.Enabled == nil || *m.Enabled
		models = append(models, domain.Model{
			ID:            m.ID,
			Name:          m.Name,
			Description:   m.Description,
			ContextLength: m.ContextLength,
			MaxTokens:     m.MaxTokens,
			Enabled:       enabled,
		})
	}
	return models
}
