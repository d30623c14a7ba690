// Package persist hands committed messages to a durable store without ever
// blocking fan-out.
//
// The Gateway owns a bounded queue and a small worker pool. Each message is
// appended with exponential backoff; a message that still fails after the
// configured retries is logged and counted, and the in-memory commit stands.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Appender writes one message to durable storage. A nil error is the Ack.
type Appender interface {
	Append(ctx context.Context, msg relay.Message) error
	Close() error
}

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown persistence driver")

// Error reports a message the store did not acknowledge.
type Error struct {
	Driver    string
	MessageID string
	Attempts  int
	Cause     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("persist %s: message %s after %d attempts: %v", e.Driver, e.MessageID, e.Attempts, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Config holds persistence configuration.
type Config struct {
	Driver         string        `env:"DRIVER" envDefault:"none"`
	SQLiteDSN      string        `env:"SQLITE_DSN" envDefault:"relay.db"`
	RedisAddr      string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	NATSURL        string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	StreamMaxLen   int64         `env:"STREAM_MAXLEN" envDefault:"10000"`
	QueueSize      int           `env:"QUEUE_SIZE" envDefault:"4096"`
	Workers        int           `env:"WORKERS" envDefault:"4"`
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"5"`
	BaseRetryDelay time.Duration `env:"BASE_RETRY_DELAY" envDefault:"100ms"`
	MaxRetryDelay  time.Duration `env:"MAX_RETRY_DELAY" envDefault:"5s"`
	AppendTimeout  time.Duration `env:"APPEND_TIMEOUT" envDefault:"5s"`
}

// DefaultConfig returns the default persistence configuration.
func DefaultConfig() Config {
	return Config{
		Driver:         DriverNone,
		SQLiteDSN:      "relay.db",
		RedisAddr:      "localhost:6379",
		NATSURL:        "nats://localhost:4222",
		StreamMaxLen:   10000,
		QueueSize:      4096,
		Workers:        4,
		MaxRetries:     5,
		BaseRetryDelay: 100 * time.Millisecond,
		MaxRetryDelay:  5 * time.Second,
		AppendTimeout:  5 * time.Second,
	}
}

func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.Driver == "" {
		c.Driver = def.Driver
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = def.BaseRetryDelay
	}
	if c.MaxRetryDelay < c.BaseRetryDelay {
		c.MaxRetryDelay = c.BaseRetryDelay
	}
	if c.AppendTimeout <= 0 {
		c.AppendTimeout = def.AppendTimeout
	}
	return c
}

// Discard acknowledges every message without storing it.
type Discard struct{}

// Append implements Appender.
func (Discard) Append(context.Context, relay.Message) error { return nil }

// Close implements Appender.
func (Discard) Close() error { return nil }
