package relay

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/telemetry"
)

// RoomInfo is a point-in-time summary of a room.
type RoomInfo struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
	LastSeq uint64 `json:"lastSeq"`
}

// Registry maps room ids to rooms. Rooms are created lazily and evicted once
// they stay empty for the grace period. The registry lock only guards the
// map; it is taken before a room token, never after.
type Registry struct {
	historySize int
	grace       time.Duration
	persist     Persister
	metrics     *telemetry.Metrics
	now         func() time.Time

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry. persist may be nil.
func NewRegistry(cfg Config, persist Persister, metrics *telemetry.Metrics) *Registry {
	cfg = cfg.Sanitize()
	return &Registry{
		historySize: cfg.HistorySize,
		grace:       cfg.GracePeriod,
		persist:     persist,
		metrics:     metrics,
		now:         time.Now,
		rooms:       make(map[string]*Room),
	}
}

// GetOrCreate returns the room for roomID, creating it on first use.
// Concurrent callers for the same unknown id receive the same instance.
func (g *Registry) GetOrCreate(roomID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	if room, ok := g.rooms[roomID]; ok {
		return room
	}
	room := newRoom(roomID, g.historySize, g.persist, g.now)
	g.rooms[roomID] = room
	g.metrics.RoomCreated(context.Background())
	log.Printf("[relay] Room %q created. Total rooms: %d", roomID, len(g.rooms))
	return room
}

// Lookup returns the room for roomID if it exists.
func (g *Registry) Lookup(roomID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[roomID]
	return room, ok
}

// ReleaseIfEmpty schedules eviction of roomID after the grace period when the
// room has no members. A join during the grace period cancels it.
func (g *Registry) ReleaseIfEmpty(roomID string) {
	room, ok := g.Lookup(roomID)
	if !ok {
		return
	}
	room.scheduleEviction(g.grace, func(gen uint64) {
		g.evict(roomID, room, gen)
	})
}

func (g *Registry) evict(roomID string, room *Room, gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rooms[roomID] != room {
		return
	}
	room.mu.Lock()
	ok := room.markEvictedLocked(gen)
	room.mu.Unlock()
	if !ok {
		return
	}
	delete(g.rooms, roomID)
	g.metrics.RoomEvicted(context.Background())
	log.Printf("[relay] Room %q evicted after %s idle. Total rooms: %d", roomID, g.grace, len(g.rooms))
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Snapshot summarises every live room, ordered by id.
func (g *Registry) Snapshot() []RoomInfo {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		infos = append(infos, RoomInfo{ID: room.id, Members: len(room.members), LastSeq: room.seq})
		room.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
