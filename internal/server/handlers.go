// Package server exposes HTTP handlers: the WebSocket upgrade, health
// checks, and a read-only view of the presence registry.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler upgrades the request, creates a session and hands it to
// the hub, which starts the session's pumps.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)
		if !hub.Register(client) {
			hub.logger.Warn("hub is shut down; rejecting session", "remote", r.RemoteAddr)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
		}
	}
}

// HealthHandler responds with a plain text liveness message.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}

type healthStatus struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Users    int    `json:"users"`
}

// HealthzHandler reports connected sessions and known usernames as JSON.
func HealthzHandler(hub *Hub, registry *presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, healthStatus{
			Status:   "ok",
			Sessions: hub.ClientCount(),
			Users:    registry.Len(),
		})
	}
}

// PresenceHandler serves the current registry snapshot.
func PresenceHandler(registry *presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, registry.Snapshot())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("error writing JSON response", "error", err)
	}
}
