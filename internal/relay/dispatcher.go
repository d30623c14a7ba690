package relay

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sync"

	"github.com/Tyrowin/roomrelay/internal/telemetry"
)

type inbound struct {
	session *Session
	cmd     Command
	// synthetic marks leaves generated by a disconnect; they get no reply.
	synthetic bool
}

// Dispatcher is the single entry point for inbound events. Each room is
// hashed onto one shard worker whose inbox is a FIFO channel, so events for
// the same room apply in the order they were submitted while different rooms
// proceed in parallel.
type Dispatcher struct {
	cfg      Config
	registry *Registry
	metrics  *telemetry.Metrics

	shards []chan inbound
	quit   chan struct{}
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewDispatcher creates a dispatcher over registry. Call Run to start it.
func NewDispatcher(cfg Config, registry *Registry, metrics *telemetry.Metrics) *Dispatcher {
	cfg = cfg.Sanitize()
	shards := make([]chan inbound, cfg.Shards)
	for i := range shards {
		shards[i] = make(chan inbound, cfg.InboxSize)
	}
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		metrics:  metrics,
		shards:   shards,
		quit:     make(chan struct{}),
		sessions: make(map[string]*Session),
	}
}

// Registry returns the room registry the dispatcher routes into.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// SessionCount returns the number of open sessions.
func (d *Dispatcher) SessionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Open creates an active session for an authenticated identity and attaches
// it to the dispatcher so that closing it cleans up its memberships.
func (d *Dispatcher) Open(identity Identity, conn Conn) *Session {
	s := NewSession(identity, conn, d.cfg.QueueCapacity)
	s.pingInterval = d.cfg.PingInterval
	s.onClose = d.disconnect
	s.onOverflow = func() { d.metrics.BacklogOverflow(context.Background()) }

	d.mu.Lock()
	d.sessions[s.ID()] = s
	count := len(d.sessions)
	d.mu.Unlock()

	d.metrics.SessionOpened(context.Background())
	log.Printf("[relay] Session %s opened for %s. Total sessions: %d", s.ID(), identity.ID, count)
	return s
}

// Submit validates cmd and routes it to the shard owning its room. Protocol
// errors are reported to the session as error events and returned. Submit
// blocks only while the target inbox is full.
func (d *Dispatcher) Submit(ctx context.Context, s *Session, cmd Command) error {
	if s.State() != StateActive {
		return ErrSessionClosed
	}
	if err := cmd.Validate(); err != nil {
		s.Enqueue(ErrorEvent(AsProtocolError(err)))
		return err
	}
	return d.enqueue(ctx, inbound{session: s, cmd: cmd})
}

func (d *Dispatcher) enqueue(ctx context.Context, ev inbound) error {
	select {
	case <-d.quit:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.shardFor(ev.cmd.RoomID) <- ev:
		return nil
	case <-d.quit:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) shardFor(roomID string) chan inbound {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

// Run starts the shard workers and blocks until ctx is cancelled. On the way
// out it closes every open session and applies the leaves they generate
// before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	for _, inbox := range d.shards {
		d.wg.Add(1)
		go func(inbox chan inbound) {
			defer d.wg.Done()
			d.work(inbox)
		}(inbox)
	}
	log.Printf("[relay] Dispatcher started with %d shards", len(d.shards))

	<-ctx.Done()
	log.Println("[relay] Dispatcher shutting down, closing sessions...")
	closed := d.closeSessions()
	close(d.quit)
	d.wg.Wait()
	log.Printf("[relay] Dispatcher stopped after closing %d sessions", closed)
	return nil
}

func (d *Dispatcher) work(inbox chan inbound) {
	for {
		select {
		case ev := <-inbox:
			d.apply(ev)
		case <-d.quit:
			for {
				select {
				case ev := <-inbox:
					d.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) closeSessions() int {
	d.mu.RLock()
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
	return len(sessions)
}

// disconnect is the session close hook: it synthesizes a leave for every
// joined room. Once the workers are gone the leaves are applied inline.
func (d *Dispatcher) disconnect(s *Session, rooms []string) {
	d.mu.Lock()
	delete(d.sessions, s.ID())
	count := len(d.sessions)
	d.mu.Unlock()
	d.metrics.SessionClosed(context.Background())

	for _, roomID := range rooms {
		ev := inbound{session: s, cmd: Command{Type: CommandLeave, RoomID: roomID}, synthetic: true}
		if err := d.enqueue(context.Background(), ev); err != nil {
			d.leave(s, roomID, false)
		}
	}
	log.Printf("[relay] Session %s closed for %s, leaving %d rooms. Total sessions: %d",
		s.ID(), s.Identity().ID, len(rooms), count)
}

func (d *Dispatcher) apply(ev inbound) {
	switch ev.cmd.Type {
	case CommandJoin:
		d.join(ev.session, ev.cmd.RoomID)
	case CommandLeave:
		d.leave(ev.session, ev.cmd.RoomID, !ev.synthetic)
	case CommandSend:
		d.send(ev.session, ev.cmd.RoomID, ev.cmd.Payload)
	case CommandHistory:
		d.history(ev.session, ev.cmd)
	}
}

func (d *Dispatcher) join(s *Session, roomID string) {
	for {
		room := d.registry.GetOrCreate(roomID)
		recent, others, err := room.join(s)
		switch {
		case errors.Is(err, errRoomEvicted):
			continue
		case errors.Is(err, errAlreadyJoined):
			s.Enqueue(Event{Type: EventJoined, RoomID: roomID, RecentMessages: recent, AlreadyJoined: true})
			return
		case err != nil:
			return
		}

		member := s.Identity()
		s.Enqueue(Event{Type: EventJoined, RoomID: roomID, RecentMessages: recent})
		d.broadcast(others, nil, Event{Type: EventMemberJoined, RoomID: roomID, Member: &member})
		return
	}
}

func (d *Dispatcher) leave(s *Session, roomID string, reply bool) {
	room, ok := d.registry.Lookup(roomID)
	if !ok {
		s.removeRoom(roomID)
		if reply {
			s.Enqueue(ErrorEvent(NewProtocolError(CodeNotJoined, roomID)))
		}
		return
	}

	remaining, removed := room.leave(s)
	if !removed {
		if reply {
			s.Enqueue(ErrorEvent(NewProtocolError(CodeNotJoined, roomID)))
		}
		return
	}
	if reply {
		s.Enqueue(Event{Type: EventLeft, RoomID: roomID})
	}
	member := s.Identity()
	d.broadcast(remaining, nil, Event{Type: EventMemberLeft, RoomID: roomID, Member: &member})
	d.registry.ReleaseIfEmpty(roomID)
}

func (d *Dispatcher) send(s *Session, roomID, payload string) {
	room, ok := d.registry.Lookup(roomID)
	if !ok {
		s.Enqueue(ErrorEvent(NewProtocolError(CodeNotJoined, roomID)))
		return
	}
	msg, members, err := room.commit(s, payload)
	if err != nil {
		s.Enqueue(ErrorEvent(NewProtocolError(CodeNotJoined, roomID)))
		return
	}
	d.metrics.MessageCommitted(context.Background())

	var exclude *Session
	if !d.cfg.EchoToSender {
		exclude = s
	}
	d.broadcast(members, exclude, messageEvent(msg))
}

func (d *Dispatcher) history(s *Session, cmd Command) {
	room, ok := d.registry.Lookup(cmd.RoomID)
	if !ok || !room.isMember(s) {
		s.Enqueue(ErrorEvent(NewProtocolError(CodeNotJoined, cmd.RoomID)))
		return
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultHistoryPage
	}
	s.Enqueue(Event{
		Type:           EventHistory,
		RoomID:         cmd.RoomID,
		RecentMessages: room.historyBefore(cmd.BeforeSeq, limit),
	})
}

// broadcast enqueues ev on every member except exclude. It runs after the
// room token is released, against a member snapshot.
func (d *Dispatcher) broadcast(members []*Session, exclude *Session, ev Event) {
	for _, m := range members {
		if m == exclude {
			continue
		}
		m.Enqueue(ev)
	}
}
