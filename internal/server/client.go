package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

const (
	writeWait = 10 * time.Second
)

// wsConn adapts a gorilla connection to relay.Conn. Writes are serialized
// because gorilla allows a single concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	addr string

	mu     sync.Mutex
	closed bool
}

func newWSConn(conn *websocket.Conn, addr string) *wsConn {
	return &wsConn{conn: conn, addr: addr}
}

func (c *wsConn) WriteEvent(ev relay.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(ev)
}

func (c *wsConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a close frame when possible and releases the socket.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		log.Printf("[server] Error writing close message to %s: %v", c.addr, err)
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		return err
	}
	return nil
}

// Client is the read side of one WebSocket connection. It decodes frames
// into commands and hands them to the dispatcher; delivery is owned by the
// session's drain loop.
type Client struct {
	conn           *websocket.Conn
	session        *relay.Session
	dispatcher     *relay.Dispatcher
	addr           string
	maxMessageSize int64
	pongWait       time.Duration
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig
}

func newClient(conn *websocket.Conn, session *relay.Session, dispatcher *relay.Dispatcher, addr string, cfg Config) *Client {
	conn.SetReadLimit(cfg.MaxMessageSize)

	// Without pings there are no pongs, so the read side has no deadline.
	var pongWait time.Duration
	if cfg.Relay.PingInterval > 0 {
		pongWait = cfg.Relay.PingInterval * 10 / 9
	}

	return &Client{
		conn:           conn,
		session:        session,
		dispatcher:     dispatcher,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		pongWait:       pongWait,
		limiter:        newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
	}
}

// newRateLimiter allows Burst messages per RefillInterval.
func newRateLimiter(cfg RateLimitConfig) *rate.Limiter {
	every := cfg.RefillInterval / time.Duration(cfg.Burst)
	return rate.NewLimiter(rate.Every(every), cfg.Burst)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if c.pongWait <= 0 {
		return
	}
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
}

// extendReadDeadline pushes the read deadline out by pongWait. It is a no-op
// when keep-alive pings are disabled.
func (c *Client) extendReadDeadline() {
	if c.pongWait <= 0 {
		return
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		log.Printf("[server] Error setting read deadline for %s: %v", c.addr, err)
	}
}

// handleReadError logs the read failure at the appropriate level.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("[server] Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		log.Printf("[server] Client %s disconnected: %v", c.addr, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Printf("[server] Client %s connection closed: %v", c.addr, err)
	case websocket.IsUnexpectedCloseError(err):
		log.Printf("[server] Unexpected WebSocket error from %s: %v", c.addr, err)
	default:
		log.Printf("[server] WebSocket read error from %s: %v", c.addr, err)
	}
}

// checkRateLimit reports whether the next frame may be processed. Rejected
// frames are answered with a rate_limited error.
func (c *Client) checkRateLimit() bool {
	if c.limiter.Allow() {
		return true
	}
	log.Printf("[server] Rate limit exceeded for %s (%d messages per %s); discarding message",
		c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval)
	c.session.Enqueue(relay.ErrorEvent(relay.NewProtocolError(relay.CodeRateLimited, "slow down")))
	return false
}

// processMessage decodes one frame and submits it. It returns false when the
// session or dispatcher is gone and the read loop should stop.
func (c *Client) processMessage(ctx context.Context, raw []byte) bool {
	var cmd relay.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.session.Enqueue(relay.ErrorEvent(relay.NewProtocolError(relay.CodeMalformed, "invalid JSON")))
		return true
	}

	err := c.dispatcher.Submit(ctx, c.session, cmd)
	switch {
	case err == nil:
		return true
	case errors.Is(err, relay.ErrSessionClosed), errors.Is(err, relay.ErrDispatcherClosed):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		// protocol errors were already reported to the session
		return true
	}
}

// readPump reads frames until the connection fails, then closes the session.
func (c *Client) readPump(ctx context.Context) {
	defer c.session.Close()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.extendReadDeadline()

		if !c.checkRateLimit() {
			continue
		}

		if !c.processMessage(ctx, raw) {
			return
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
