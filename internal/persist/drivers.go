package persist

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/persist/natsstore"
	"github.com/Tyrowin/roomrelay/internal/persist/redisstore"
	"github.com/Tyrowin/roomrelay/internal/persist/sqlstore"
)

// Supported driver names.
const (
	DriverNone   = "none"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverNATS   = "nats"
)

// Open connects the appender selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Appender, error) {
	cfg = cfg.sanitize()
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverNone:
		log.Println("[persist] Durable storage disabled")
		return Discard{}, nil
	case DriverSQLite:
		store, err := sqlstore.Open(cfg.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Printf("[persist] Using sqlite store at %s", cfg.SQLiteDSN)
		return store, nil
	case DriverRedis:
		store, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.StreamMaxLen)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		log.Printf("[persist] Using redis streams at %s", cfg.RedisAddr)
		return store, nil
	case DriverNATS:
		store, err := natsstore.Open(ctx, cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("open nats store: %w", err)
		}
		log.Printf("[persist] Using NATS JetStream at %s", cfg.NATSURL)
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
