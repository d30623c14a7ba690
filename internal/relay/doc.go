// Package relay implements the room-scoped fan-out engine behind the chat
// relay.
//
// A Dispatcher accepts commands from sessions and routes them by room id onto
// a fixed set of shard workers, so that each room observes its events in one
// total order while unrelated rooms run in parallel. Rooms live in a Registry,
// which creates them on first join and evicts them after staying empty for a
// grace period. Every session owns a bounded outbound queue; a slow consumer
// loses its oldest events and receives a backlog_overflow marker instead of
// stalling the room.
//
// Lock order is registry, then room, then session. Persistence and delivery
// always happen after the room token is released.
package relay
