// Package testhelpers provides shared utilities for the relay's integration tests.
//
// It starts real servers on loopback listeners, mints tokens for them and
// wraps the WebSocket protocol in small send/read helpers so test files
// stay focused on behaviour.
package testhelpers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/persist"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/telemetry"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// TestSecret signs tokens for servers started by StartServer.
const TestSecret = "integration-test-secret"

// TestServer is a running relay bound to a loopback port.
type TestServer struct {
	*server.Server
	URL    string
	WSURL  string
	Config server.Config
	issuer *auth.JWTVerifier
}

// StartServer builds a relay with test defaults, applies customize and
// serves it on a random loopback port. The server is stopped on cleanup.
func StartServer(t *testing.T, customize func(cfg *server.Config)) *TestServer {
	t.Helper()
	return StartServerWithAppender(t, nil, customize)
}

// StartServerWithAppender is StartServer with a persistence backend.
func StartServerWithAppender(t *testing.T, appender persist.Appender, customize func(cfg *server.Config)) *TestServer {
	t.Helper()

	cfg := *server.NewConfig()
	cfg.AllowedOrigins = []string{TestOrigin}
	cfg.Auth.Secret = TestSecret
	cfg.Relay.GracePeriod = 200 * time.Millisecond
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.RateLimit.Burst = 1000
	if customize != nil {
		customize(&cfg)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	srv := server.New(cfg, server.Deps{Appender: appender, Metrics: telemetry.Noop()})
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	ts := &TestServer{
		Server: srv,
		URL:    "http://" + ln.Addr().String(),
		WSURL:  "ws://" + ln.Addr().String() + "/ws",
		Config: cfg,
		issuer: auth.NewJWTVerifier(cfg.Auth),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			t.Errorf("Failed to stop server: %v", err)
		}
		if err := <-served; err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	})
	return ts
}

// Token mints a valid credential for userID.
func (ts *TestServer) Token(t *testing.T, userID string) string {
	t.Helper()
	token, err := ts.issuer.Issue(relay.Identity{ID: userID, DisplayName: strings.ToUpper(userID)})
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

// Connect dials the relay as userID and closes the connection on cleanup.
func (ts *TestServer) Connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(ts.WSURL, ts.Token(t, userID))
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", userID, err)
	}
	t.Cleanup(func() { CloseWebSocket(conn) })
	return conn
}

// ConnectWebSocket dials url with TestOrigin and a bearer token.
func ConnectWebSocket(url, token string) (*websocket.Conn, error) {
	return ConnectWebSocketWithHeader(url, token, http.Header{"Origin": {TestOrigin}})
}

// ConnectWebSocketWithHeader dials url with the given headers. A non-empty
// token is sent as a bearer credential.
func ConnectWebSocketWithHeader(url, token string, header http.Header) (*websocket.Conn, error) {
	if token != "" {
		header = header.Clone()
		if header == nil {
			header = http.Header{}
		}
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	return conn, nil
}

// HandshakeError reports a rejected WebSocket upgrade.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// HandshakeStatus returns the HTTP status of a rejected upgrade, or 0.
func HandshakeStatus(err error) int {
	var herr *HandshakeError
	if errors.As(err, &herr) {
		return herr.StatusCode
	}
	return 0
}

// CloseWebSocket sends a close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
}

// SendCommand writes cmd as a JSON text frame.
func SendCommand(t *testing.T, conn *websocket.Conn, cmd relay.Command) {
	t.Helper()
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("Failed to marshal command: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to send command: %v", err)
	}
}

// ReadEvent reads the next event, waiting at most timeout.
func ReadEvent(conn *websocket.Conn, timeout time.Duration) (relay.Event, error) {
	var ev relay.Event
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return ev, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode event %q: %w", data, err)
	}
	return ev, nil
}

// ExpectEvent reads events until one of type typ arrives, discarding
// anything else. It fails the test on timeout.
func ExpectEvent(t *testing.T, conn *websocket.Conn, typ relay.EventType) relay.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %s event", typ)
		}
		ev, err := ReadEvent(conn, remaining)
		if err != nil {
			t.Fatalf("Failed waiting for %s event: %v", typ, err)
		}
		if ev.Type == typ {
			return ev
		}
	}
}

// ExpectNoEvent fails the test if an event of any of the given types
// arrives within timeout. With no types, any event fails.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration, types ...relay.EventType) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		ev, err := ReadEvent(conn, remaining)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			t.Fatalf("Unexpected read error: %v", err)
		}
		if len(types) == 0 {
			t.Fatalf("Unexpected event %+v", ev)
		}
		for _, typ := range types {
			if ev.Type == typ {
				t.Fatalf("Unexpected %s event %+v", typ, ev)
			}
		}
	}
}

// Join sends a join for roomID and waits for the confirmation.
func Join(t *testing.T, conn *websocket.Conn, roomID string) relay.Event {
	t.Helper()
	SendCommand(t, conn, relay.Command{Type: relay.CommandJoin, RoomID: roomID})
	return ExpectEvent(t, conn, relay.EventJoined)
}

// Send posts payload to roomID.
func Send(t *testing.T, conn *websocket.Conn, roomID, payload string) {
	t.Helper()
	SendCommand(t, conn, relay.Command{Type: relay.CommandSend, RoomID: roomID, Payload: payload})
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request with a 5-second timeout.
// The caller closes the response body.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}
