// Package server implements the HTTP and WebSocket front end of the room relay.
//
// The implementation is organized into specialized files for configuration,
// origin checks, client pumps, routing, and HTTP handlers. A Server owns its
// relay dispatcher, room registry and persistence gateway, so tests can build
// fully isolated instances.
package server
