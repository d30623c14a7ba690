package sqlstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// setupTestStore creates a store over a private in-memory SQLite database.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	store, err := New(db)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testMessage(room string, seq uint64, at time.Time) relay.Message {
	return relay.Message{
		ID:        uuid.NewString(),
		RoomID:    room,
		Sender:    relay.Identity{ID: "alice", DisplayName: "Alice"},
		Seq:       seq,
		Payload:   fmt.Sprintf("message %d", seq),
		Timestamp: at,
	}
}

func TestStore_AppendAndRecent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := uint64(1); i <= 5; i++ {
		if err := store.Append(ctx, testMessage("lobby", i, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := store.Append(ctx, testMessage("other", 1, base)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := store.Recent(ctx, "lobby", 3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []uint64{3, 4, 5} {
		if got[i].Seq != want {
			t.Errorf("message %d: expected seq %d, got %d", i, want, got[i].Seq)
		}
	}
	if got[0].Sender.DisplayName != "Alice" {
		t.Errorf("expected sender name Alice, got %q", got[0].Sender.DisplayName)
	}
	if !got[2].Timestamp.Equal(base.Add(5 * time.Second)) {
		t.Errorf("unexpected timestamp %v", got[2].Timestamp)
	}
}

func TestStore_AppendIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	msg := testMessage("lobby", 1, time.Now().UTC())

	for i := 0; i < 3; i++ {
		if err := store.Append(ctx, msg); err != nil {
			t.Fatalf("Append() attempt %d error = %v", i, err)
		}
	}

	n, err := store.Count(ctx, "lobby")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 stored message, got %d", n)
	}
}

func TestStore_RecentEmptyRoom(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.Recent(context.Background(), "empty", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no messages, got %d", len(got))
	}
}

func TestStore_AppendCancelledContext(t *testing.T) {
	store := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Append(ctx, testMessage("lobby", 1, time.Now())); err == nil {
		t.Error("expected error for cancelled context")
	}
}
