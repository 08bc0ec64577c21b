// Package server wires HTTP handlers into a chi router for the chat relay.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Tyrowin/chatrelay/internal/presence"
)

// SetupRoutes returns the application router.
func SetupRoutes(hub *Hub, registry *presence.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", HealthHandler)
	r.Get("/healthz", HealthzHandler(hub, registry))
	r.Get("/presence", PresenceHandler(registry))
	r.Get("/ws", WebSocketHandler(hub))
	return r
}
