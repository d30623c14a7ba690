package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Requires Redis running on localhost:6379; skipped otherwise.
const testRedisAddr = "localhost:6379"

func setupTestStore(t *testing.T, maxLen int64) (*Store, string) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}

	store := New(client, "relaytest:"+uuid.NewString()+":", maxLen)
	room := "lobby"
	t.Cleanup(func() {
		client.Del(ctx, store.StreamKey(room))
		_ = store.Close()
	})
	return store, room
}

func TestStreamKey(t *testing.T) {
	store := New(redis.NewClient(&redis.Options{Addr: testRedisAddr}), "", 0)
	defer store.Close()

	if got := store.StreamKey("lobby"); got != "relay:room:lobby:messages" {
		t.Errorf("StreamKey() = %q", got)
	}
}

func TestDecodeRejectsBadSeq(t *testing.T) {
	_, err := decode("lobby", map[string]any{"seq": "nope", "timestamp": time.Now().Format(time.RFC3339Nano)})
	if err == nil {
		t.Error("expected error for malformed seq")
	}
}

func TestStore_AppendAndRecent(t *testing.T) {
	store, room := setupTestStore(t, 0)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := uint64(1); i <= 4; i++ {
		msg := relay.Message{
			ID:        uuid.NewString(),
			RoomID:    room,
			Sender:    relay.Identity{ID: "alice", DisplayName: "Alice"},
			Seq:       i,
			Payload:   "hello",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Append(ctx, msg); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := store.Recent(ctx, room, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Seq != 3 || got[1].Seq != 4 {
		t.Errorf("expected seqs 3,4 got %d,%d", got[0].Seq, got[1].Seq)
	}
	if !got[1].Timestamp.Equal(base.Add(4 * time.Second)) {
		t.Errorf("unexpected timestamp %v", got[1].Timestamp)
	}
}
