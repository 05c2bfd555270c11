// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"dev"`
	Port     int    `env:"PORT" envDefault:"8000"`
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Upstream endpoints. AssistBaseURL hosts the widget* RPCs; AuthBaseURL
	// hosts the getoxsrf handshake; DownloadBaseURL is the v1alpha root used
	// for session-scoped file downloads.
	AssistBaseURL   string `env:"ASSIST_BASE_URL" envDefault:"https://biz-discoveryengine.googleapis.com/v1alpha/locations/global"`
	AuthBaseURL     string `env:"AUTH_BASE_URL" envDefault:"https://business.gemini.google"`
	DownloadBaseURL string `env:"DOWNLOAD_BASE_URL" envDefault:"https://biz-discoveryengine.googleapis.com/v1alpha"`
	// ProxyURL, when set, routes all upstream calls through the given proxy.
	ProxyURL string `env:"PROXY_URL"`

	// Credential/session lifecycle. The minted token carries a 300s expiry;
	// the cache TTL stays below it so tokens refresh before the upstream
	// would reject them.
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"300s"`
	TokenCacheTTL   time.Duration `env:"TOKEN_CACHE_TTL" envDefault:"240s"`
	SessionCacheTTL time.Duration `env:"SESSION_CACHE_TTL" envDefault:"1h"`

	// Scheduler and orchestrator bounds.
	CursorCASAttempts int           `env:"CURSOR_CAS_ATTEMPTS" envDefault:"10"`
	CursorCASDelay    time.Duration `env:"CURSOR_CAS_DELAY" envDefault:"10ms"`
	MaxChatAttempts   int           `env:"MAX_CHAT_ATTEMPTS" envDefault:"3"`

	// Media cache for generated images/videos.
	MediaCacheDir    string        `env:"MEDIA_CACHE_DIR" envDefault:"media"`
	MediaCacheTTL    time.Duration `env:"MEDIA_CACHE_TTL" envDefault:"1h"`
	MediaBaseURL     string        `env:"MEDIA_BASE_URL"`
	MediaDownloadPar int           `env:"MEDIA_DOWNLOAD_PARALLELISM" envDefault:"4"`

	// Conversational defaults passed to the upstream.
	LanguageCode string `env:"LANGUAGE_CODE" envDefault:"en-US"`
	TimeZone     string `env:"TIME_ZONE" envDefault:"Etc/UTC"`
	DefaultModel string `env:"DEFAULT_MODEL" envDefault:"gemini-enterprise"`
	// SeedFile, when set, supplies the advertised model catalog. Accounts in
	// the same document are loaded by cmd/accountseed, not the server.
	SeedFile string `env:"SEED_FILE"`

	// Upstream HTTP timeouts.
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"30s"`
	AssistTimeout    time.Duration `env:"ASSIST_TIMEOUT" envDefault:"120s"`
	DownloadTimeout  time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"120s"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"180s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"gemini-enterprise-gateway"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
