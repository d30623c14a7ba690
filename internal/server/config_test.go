package server

import (
	"flag"
	"testing"
	"time"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Port != ":8080" {
		t.Errorf("Expected default port :8080, got %s", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:8080" {
		t.Errorf("Unexpected default origins %v", cfg.AllowedOrigins)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("Unexpected default rate limit %+v", cfg.RateLimit)
	}
	if cfg.Relay.QueueCapacity != 256 || cfg.Relay.HistorySize != 50 || cfg.Relay.GracePeriod != 30*time.Second {
		t.Errorf("Unexpected default relay config %+v", cfg.Relay)
	}
	if cfg.Persist.Driver != "none" {
		t.Errorf("Expected persistence disabled by default, got %q", cfg.Persist.Driver)
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RELAY_QUEUE_CAPACITY", "32")
	t.Setenv("RELAY_ECHO_TO_SENDER", "true")
	t.Setenv("RELAY_GRACE_PERIOD", "1m")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("PERSIST_DRIVER", "sqlite")
	t.Setenv("PERSIST_SQLITE_DSN", "/tmp/relay.db")
	t.Setenv("OTEL_ENDPOINT", "http://collector:4318")

	cfg, err := NewConfigFromEnv()
	if err != nil {
		t.Fatalf("NewConfigFromEnv() error = %v", err)
	}

	if cfg.Port != ":9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageSize != 2048 {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 10 || cfg.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Relay.QueueCapacity != 32 || !cfg.Relay.EchoToSender || cfg.Relay.GracePeriod != time.Minute {
		t.Errorf("Relay = %+v", cfg.Relay)
	}
	if cfg.Auth.Secret != "s3cret" {
		t.Errorf("Auth.Secret = %q", cfg.Auth.Secret)
	}
	if cfg.Persist.Driver != "sqlite" || cfg.Persist.SQLiteDSN != "/tmp/relay.db" {
		t.Errorf("Persist = %+v", cfg.Persist)
	}
	if cfg.Telemetry.Endpoint != "http://collector:4318" {
		t.Errorf("Telemetry.Endpoint = %q", cfg.Telemetry.Endpoint)
	}
}

func TestNewConfigFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "lots")

	if _, err := NewConfigFromEnv(); err == nil {
		t.Error("Expected error for non-numeric RATE_LIMIT_BURST")
	}
}

func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		AllowedOrigins: []string{" ", " http://a.example "},
		RateLimit:      RateLimitConfig{Burst: -1},
	})

	if cfg.Port != ":8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.MaxMessageSize <= 0 || cfg.ShutdownTimeout <= 0 {
		t.Errorf("limits not defaulted: %+v", cfg)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://a.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.Relay.QueueCapacity != 256 {
		t.Errorf("Relay.QueueCapacity = %d", cfg.Relay.QueueCapacity)
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("PERSIST_DRIVER", "redis")

	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-port", ":7070", "-echo"})
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Port != ":7070" {
		t.Errorf("Port = %q, want flag value", cfg.Port)
	}
	if !cfg.Relay.EchoToSender {
		t.Error("EchoToSender not set by flag")
	}
	if cfg.Persist.Driver != "redis" {
		t.Errorf("Persist.Driver = %q, want env value", cfg.Persist.Driver)
	}
}
