package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const minSecretLength = 32

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL" default:"http://localhost:3000"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// AllowedOrigins is a comma-separated list of extra origins allowed to
	// open the event socket besides APP_URL.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER" default:"portfolio-admin"`

	// RedisURL is optional. Without it the service runs as a single node
	// with no shared cache.
	RedisURL    string `env:"REDIS_URL"`
	RedisPrefix string `env:"REDIS_PREFIX" default:"portfolio_live"`
	NodeID      string `env:"NODE_ID"`

	HeartbeatInterval        time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeoutMultiple int           `env:"HEARTBEAT_TIMEOUT_MULTIPLE" default:"2"`

	PoolMinInstances           int           `env:"POOL_MIN_INSTANCES" default:"1"`
	PoolMaxInstances           int           `env:"POOL_MAX_INSTANCES" default:"4"`
	PoolConnectionsPerInstance int           `env:"POOL_CONNECTIONS_PER_INSTANCE" default:"1000"`
	PoolIdleTimeout            time.Duration `env:"POOL_IDLE_TIMEOUT" default:"5m"`
	PoolReapInterval           time.Duration `env:"POOL_REAP_INTERVAL" default:"1m"`
	PublishRatePerSecond       float64       `env:"PUBLISH_RATE_PER_SECOND" default:"10"`
	PublishBurst               int           `env:"PUBLISH_BURST" default:"20"`
	StatsCacheTTL              time.Duration `env:"STATS_CACHE_TTL" default:"2s"`
	ShutdownTimeout            time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Origins returns the entries of AllowedOrigins, trimmed and without blanks.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func validate(cfg *Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLength)
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if cfg.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.HeartbeatTimeoutMultiple < 1 {
		return errors.New("HEARTBEAT_TIMEOUT_MULTIPLE must be at least 1")
	}

	if cfg.PoolMinInstances < 1 {
		return errors.New("POOL_MIN_INSTANCES must be at least 1")
	}
	if cfg.PoolMaxInstances < cfg.PoolMinInstances {
		return fmt.Errorf("POOL_MAX_INSTANCES (%d) must not be below POOL_MIN_INSTANCES (%d)", cfg.PoolMaxInstances, cfg.PoolMinInstances)
	}
	if cfg.PoolConnectionsPerInstance < 1 {
		return errors.New("POOL_CONNECTIONS_PER_INSTANCE must be at least 1")
	}

	if cfg.PublishRatePerSecond <= 0 || cfg.PublishBurst < 1 {
		return errors.New("PUBLISH_RATE_PER_SECOND and PUBLISH_BURST must be positive")
	}

	if !cfg.IsDevelopment() && strings.HasPrefix(cfg.AppURL, "http://") {
		return errors.New("APP_URL must use https outside development")
	}

	return nil
}
