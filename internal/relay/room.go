package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persister accepts committed messages for durable storage. Submit must
// return immediately; failures are the persister's concern.
type Persister interface {
	Submit(Message)
}

type discardPersister struct{}

func (discardPersister) Submit(Message) {}

// Room is the fan-out unit. Its mutex is the room's serialization token and
// guards the member list, the sequence counter, the ring buffer and the
// eviction bookkeeping. It is held for in-memory updates only.
type Room struct {
	id      string
	persist Persister
	now     func() time.Time

	mu         sync.Mutex
	seq        uint64
	members    []*Session
	index      map[string]int
	history    *ring[Message]
	evictTimer *time.Timer
	evictGen   uint64
	evicted    bool
}

func newRoom(id string, historySize int, persist Persister, now func() time.Time) *Room {
	if persist == nil {
		persist = discardPersister{}
	}
	if now == nil {
		now = time.Now
	}
	return &Room{
		id:      id,
		persist: persist,
		now:     now,
		index:   make(map[string]int),
		history: newRing[Message](historySize),
	}
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// MemberCount returns the number of joined sessions.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Members returns the joined sessions in join order.
func (r *Room) Members() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// LastSeq returns the most recently assigned sequence number.
func (r *Room) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Recent returns the ring buffer contents, oldest first.
func (r *Room) Recent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.items()
}

func (r *Room) snapshotLocked() []*Session {
	out := make([]*Session, len(r.members))
	copy(out, r.members)
	return out
}

// join adds s to the member set and returns the catch-up context plus the
// members that were already present. A second join by the same session
// returns errAlreadyJoined together with the catch-up context.
func (r *Room) join(s *Session) ([]Message, []*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted {
		return nil, nil, errRoomEvicted
	}
	if _, ok := r.index[s.ID()]; ok {
		return r.history.items(), nil, errAlreadyJoined
	}
	if err := s.addRoom(r.id); err != nil {
		return nil, nil, err
	}
	r.cancelEvictionLocked()

	others := r.snapshotLocked()
	r.index[s.ID()] = len(r.members)
	r.members = append(r.members, s)
	return r.history.items(), others, nil
}

// leave removes s and returns the remaining members. removed is false when s
// was not a member.
func (r *Room) leave(s *Session) (remaining []*Session, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.index[s.ID()]
	if !ok {
		return nil, false
	}
	delete(r.index, s.ID())
	r.members = append(r.members[:pos], r.members[pos+1:]...)
	for i := pos; i < len(r.members); i++ {
		r.index[r.members[i].ID()] = i
	}
	s.removeRoom(r.id)
	return r.snapshotLocked(), true
}

// commit sequences payload from sender, records it in the ring buffer and
// hands it to the persister once the token is released.
func (r *Room) commit(sender *Session, payload string) (Message, []*Session, error) {
	msg, members, err := r.sequence(sender, payload)
	if err != nil {
		return Message{}, nil, err
	}
	r.persist.Submit(msg)
	return msg, members, nil
}

func (r *Room) sequence(sender *Session, payload string) (Message, []*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[sender.ID()]; !ok {
		return Message{}, nil, errNotMember
	}
	r.seq++
	msg := Message{
		ID:        uuid.NewString(),
		RoomID:    r.id,
		Sender:    sender.Identity(),
		Seq:       r.seq,
		Payload:   payload,
		Timestamp: r.now().UTC(),
	}
	r.history.push(msg)
	return msg, r.snapshotLocked(), nil
}

// historyBefore returns up to limit buffered messages with a sequence lower
// than before; before == 0 means no upper bound.
func (r *Room) historyBefore(before uint64, limit int) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := r.history.items()
	out := make([]Message, 0, len(items))
	for _, msg := range items {
		if before == 0 || msg.Seq < before {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (r *Room) isMember(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[s.ID()]
	return ok
}

// scheduleEviction arms the eviction timer if the room is empty and no timer
// is pending. evict receives the generation the timer was armed with.
func (r *Room) scheduleEviction(grace time.Duration, evict func(gen uint64)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted || len(r.members) > 0 || r.evictTimer != nil {
		return false
	}
	r.evictGen++
	gen := r.evictGen
	r.evictTimer = time.AfterFunc(grace, func() { evict(gen) })
	return true
}

func (r *Room) cancelEvictionLocked() {
	if r.evictTimer == nil {
		return
	}
	r.evictTimer.Stop()
	r.evictTimer = nil
	r.evictGen++
}

// markEvictedLocked commits an eviction armed at gen. It refuses stale
// timers and rooms that gained members in the meantime.
func (r *Room) markEvictedLocked(gen uint64) bool {
	if r.evicted || r.evictGen != gen || len(r.members) > 0 {
		return false
	}
	r.evicted = true
	r.evictTimer = nil
	return true
}
