package relay

import (
	"errors"
	"sync"
	"time"
)

// recordingConn captures written events and can be told to fail writes.
type recordingConn struct {
	mu      sync.Mutex
	events  []Event
	pings   int
	closed  bool
	failErr error
	notify  chan struct{}
}

func newRecordingConn() *recordingConn {
	return &recordingConn{notify: make(chan struct{}, 1024)}
}

func (c *recordingConn) WriteEvent(ev Event) error {
	c.mu.Lock()
	if c.failErr != nil {
		err := c.failErr
		c.mu.Unlock()
		return err
	}
	c.events = append(c.events, ev)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *recordingConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.failErr
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) fail(err error) {
	c.mu.Lock()
	c.failErr = err
	c.mu.Unlock()
}

func (c *recordingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recordingConn) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// ofType filters the recorded events down to one type.
func (c *recordingConn) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range c.snapshot() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls until cond holds or the timeout elapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

var errBrokenPipe = errors.New("broken pipe")

// memoryPersister records submitted messages.
type memoryPersister struct {
	mu   sync.Mutex
	msgs []Message
}

func (p *memoryPersister) Submit(msg Message) {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
}

func (p *memoryPersister) messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.msgs))
	copy(out, p.msgs)
	return out
}

// failingPersister drops every message, like a store that is down.
type failingPersister struct {
	mu       sync.Mutex
	attempts int
}

func (p *failingPersister) Submit(Message) {
	p.mu.Lock()
	p.attempts++
	p.mu.Unlock()
}
