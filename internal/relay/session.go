package relay

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is the liveness state of a session.
type SessionState int32

// Session states. No transition leaves StateClosed.
const (
	StateActive SessionState = iota
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the connection handle a session delivers to.
type Conn interface {
	WriteEvent(Event) error
	Ping() error
	Close() error
}

// Session is one authenticated connection's server-side state. It is the
// sole owner of its outbound queue.
type Session struct {
	id           string
	identity     Identity
	conn         Conn
	capacity     int
	pingInterval time.Duration

	// mu guards queue, marker, state and rooms. It is always acquired after a
	// room token, never before.
	mu     sync.Mutex
	queue  []Event
	marker bool
	state  SessionState
	rooms  map[string]struct{}

	wake chan struct{}
	done chan struct{}

	onClose    func(*Session, []string)
	onOverflow func()
}

// NewSession creates an active session with an outbound queue bounded to
// capacity events. Sessions created this way are not attached to a
// dispatcher; use Dispatcher.Open for that.
func NewSession(identity Identity, conn Conn, capacity int) *Session {
	if capacity <= 0 {
		capacity = DefaultConfig().QueueCapacity
	}
	return &Session{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		capacity: capacity,
		rooms:    make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// ID returns the server assigned session id.
func (s *Session) ID() string { return s.id }

// Identity returns the verified identity that owns the session.
func (s *Session) Identity() Identity { return s.identity }

// State returns the current liveness state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Rooms returns the joined room ids in sorted order.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomsLocked()
}

// InRoom reports whether roomID is in the joined-room set.
func (s *Session) InRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Pending returns the number of queued events, including any overflow marker.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Session) roomsLocked() []string {
	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// addRoom records membership. It fails once the session stopped being
// active so a join racing a disconnect cannot leave a dangling member.
func (s *Session) addRoom(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return ErrSessionClosed
	}
	s.rooms[roomID] = struct{}{}
	return nil
}

func (s *Session) removeRoom(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// Enqueue appends ev to the outbound queue without blocking. When the queue
// is full the oldest un-sent event is dropped and a single backlog_overflow
// marker at the head of the queue accounts for it. Enqueue on a session that
// is not active is a silent no-op and reports false.
func (s *Session) Enqueue(ev Event) bool {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return false
	}
	overflowed := false
	if s.pendingLocked() >= s.capacity {
		s.dropOldestLocked()
		overflowed = true
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	if overflowed && s.onOverflow != nil {
		s.onOverflow()
	}
	return true
}

func (s *Session) pendingLocked() int {
	if s.marker {
		return len(s.queue) - 1
	}
	return len(s.queue)
}

func (s *Session) dropOldestLocked() {
	if s.marker {
		s.queue[0].Dropped++
		s.queue = append(s.queue[:1], s.queue[2:]...)
		return
	}
	s.queue[0] = Event{Type: EventBacklogOverflow, Dropped: 1}
	s.marker = true
}

func (s *Session) takeQueue() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	s.marker = false
	return batch
}

// Drain is the delivery loop. It waits for queued events and writes them to
// the connection in FIFO order, pinging on the configured interval. A write
// error closes the session. Drain returns when the session closes or ctx is
// cancelled.
func (s *Session) Drain(ctx context.Context) error {
	var tick <-chan time.Time
	if s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-s.wake:
			if err := s.flush(); err != nil {
				s.fail(err)
				return err
			}
		case <-tick:
			if err := s.conn.Ping(); err != nil {
				s.fail(err)
				return err
			}
		}
	}
}

func (s *Session) flush() error {
	for _, ev := range s.takeQueue() {
		if err := s.conn.WriteEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) fail(err error) {
	log.Printf("[relay] Delivery to session %s (%s) failed: %v", s.id, s.identity.ID, err)
	s.Close()
}

// Close moves the session to closing, hands its joined rooms to the
// dispatcher for cleanup, releases the connection and finally marks it
// closed. It is idempotent and safe to call concurrently.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	rooms := s.roomsLocked()
	s.queue = nil
	s.marker = false
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose(s, rooms)
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			log.Printf("[relay] Error closing connection for session %s: %v", s.id, err)
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.done)
}
