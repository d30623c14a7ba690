// Package redisstore persists relay messages into per-room Redis streams.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// DefaultPrefix namespaces the per-room stream keys.
const DefaultPrefix = "relay:room:"

// Store appends messages with XADD, trimming each stream to roughly maxLen
// entries.
type Store struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// Open connects to addr and verifies the server is reachable.
func Open(ctx context.Context, addr string, maxLen int64) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return New(client, DefaultPrefix, maxLen), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, maxLen int64) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, maxLen: maxLen}
}

// StreamKey returns the stream holding roomID's messages.
func (s *Store) StreamKey(roomID string) string {
	return s.prefix + roomID + ":messages"
}

// Append implements the persistence appender.
func (s *Store) Append(ctx context.Context, msg relay.Message) error {
	args := &redis.XAddArgs{
		Stream: s.StreamKey(msg.RoomID),
		Values: map[string]any{
			"id":          msg.ID,
			"seq":         strconv.FormatUint(msg.Seq, 10),
			"sender_id":   msg.Sender.ID,
			"sender_name": msg.Sender.DisplayName,
			"payload":     msg.Payload,
			"timestamp":   msg.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Recent returns up to limit of the latest messages for roomID, oldest first.
func (s *Store) Recent(ctx context.Context, roomID string, limit int64) ([]relay.Message, error) {
	entries, err := s.client.XRevRangeN(ctx, s.StreamKey(roomID), "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	out := make([]relay.Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		msg, err := decode(roomID, entries[i].Values)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func decode(roomID string, values map[string]any) (relay.Message, error) {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	seq, err := strconv.ParseUint(str("seq"), 10, 64)
	if err != nil {
		return relay.Message{}, fmt.Errorf("failed to decode seq: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, str("timestamp"))
	if err != nil {
		return relay.Message{}, fmt.Errorf("failed to decode timestamp: %w", err)
	}
	return relay.Message{
		ID:        str("id"),
		RoomID:    roomID,
		Sender:    relay.Identity{ID: str("sender_id"), DisplayName: str("sender_name")},
		Seq:       seq,
		Payload:   str("payload"),
		Timestamp: ts,
	}, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
