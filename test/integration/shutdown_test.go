package integration

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tyrowin/roomrelay/internal/persist/sqlstore"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/test/testhelpers"
)

func TestGracefulShutdownClosesClients(t *testing.T) {
	ts := testhelpers.StartServer(t, nil)

	const numClients = 5
	for i := 0; i < numClients; i++ {
		conn := ts.Connect(t, "user")
		testhelpers.Join(t, conn, "lobby")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if n := ts.Dispatcher().SessionCount(); n != 0 {
		t.Errorf("Expected no sessions after shutdown, got %d", n)
	}
}

func TestShutdownClosesConnectionsFromServerSide(t *testing.T) {
	ts := testhelpers.StartServer(t, nil)
	conn := ts.Connect(t, "alice")
	testhelpers.Join(t, conn, "lobby")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	for {
		if _, err := testhelpers.ReadEvent(conn, 2*time.Second); err != nil {
			break
		}
	}
}

func TestNoNewConnectionsAfterShutdown(t *testing.T) {
	ts := testhelpers.StartServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	client := &http.Client{Timeout: time.Second}
	if resp, err := client.Get(ts.URL + "/"); err == nil {
		_ = resp.Body.Close()
		t.Error("Expected requests to fail after shutdown")
	}
}

func TestShutdownFlushesPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	store, err := sqlstore.Open(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	reader, err := sqlstore.Open(path)
	if err != nil {
		t.Fatalf("Failed to open reader: %v", err)
	}
	defer func() { _ = reader.Close() }()

	ts := testhelpers.StartServerWithAppender(t, store, nil)
	alice := ts.Connect(t, "alice")
	testhelpers.Join(t, alice, "lobby")

	const numMessages = 10
	for i := 0; i < numMessages; i++ {
		testhelpers.Send(t, alice, "lobby", "persist me")
	}
	testhelpers.SendCommand(t, alice, relay.Command{Type: relay.CommandHistory, RoomID: "lobby"})
	testhelpers.ExpectEvent(t, alice, relay.EventHistory)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	count, err := reader.Count(context.Background(), "lobby")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != int64(numMessages) {
		t.Errorf("Expected %d persisted messages, got %d", numMessages, count)
	}
}
