// Package server implements the WebSocket transport and fan-out for the chat relay.
//
// The implementation is organized into specialized files for configuration, hub
// management, sessions, routing, and HTTP handlers. Presence state lives in
// package presence and event semantics in package chat; this package moves
// frames between connections and those two.
package server
