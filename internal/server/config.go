package server

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/persist"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/telemetry"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string        `env:"SERVER_PORT" envDefault:":8080"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" envDefault:"16384"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	RateLimit RateLimitConfig  `envPrefix:"RATE_LIMIT_"`
	Relay     relay.Config     `envPrefix:"RELAY_"`
	Auth      auth.JWTConfig   `envPrefix:"AUTH_"`
	Persist   persist.Config   `envPrefix:"PERSIST_"`
	Telemetry telemetry.Config `envPrefix:"OTEL_"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  16384,
		ShutdownTimeout: 10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Relay:     relay.DefaultConfig(),
		Auth:      auth.DefaultJWTConfig(),
		Persist:   persist.DefaultConfig(),
		Telemetry: telemetry.Config{Enabled: true, MetricInterval: 30 * time.Second},
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	cfg.AllowedOrigins = trimOrigins(cfg.AllowedOrigins)
	cfg.Relay = cfg.Relay.Sanitize()
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Unset variables fall back to their defaults.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

// ParseConfig reads the environment and then lets command-line flags
// override the most commonly tuned settings.
func ParseConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg, err := NewConfigFromEnv()
	if err != nil {
		return nil, err
	}

	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen address")
	fs.StringVar(&cfg.Persist.Driver, "persist-driver", cfg.Persist.Driver, "durable store: none, sqlite, redis or nats")
	fs.BoolVar(&cfg.Relay.EchoToSender, "echo", cfg.Relay.EchoToSender, "deliver messages back to their sender")
	fs.StringVar(&cfg.Telemetry.Endpoint, "otel-endpoint", cfg.Telemetry.Endpoint, "OTLP/HTTP endpoint for traces and metrics")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	sanitized := sanitizeConfig(*cfg)
	return &sanitized, nil
}

func trimOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
