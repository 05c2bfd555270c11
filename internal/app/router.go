// Package app assembles the HTTP router and owns server lifecycle.
package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/httpserver"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/config"
)

// NewRouter wires middleware and routes. ready is the readiness probe,
// typically a Redis ping.
func NewRouter(cfg config.Config, srv *httpserver.Server, ready func(context.Context) error) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httpserver.RequestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(httpserver.SecurityHeadersMiddleware)
	r.Use(httpserver.AccessLogMiddleware)
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowOrigins, ","),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		}
		r.Post("/v1/chat/completions", srv.ChatCompletions)
		r.Get("/v1/models", srv.Models)
		r.Get("/api/status", srv.Status)
	})
	r.Get("/media/{filename}", srv.Media)

	return r
}
