// Package server coordinates session registration, event fan-out, and
// connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub is the set of live sessions. Registration runs through the Run loop;
// Broadcast and Send are safe to call from any goroutine and never block on
// a slow session.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	handler    EventHandler
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub creates a hub with no event handler attached. A nil logger means
// slog.Default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		handler:    noopHandler{},
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
}

// SetEventHandler attaches the handler for lifecycle signals and inbound
// frames. It must be called before Run.
func (h *Hub) SetEventHandler(handler EventHandler) {
	if handler == nil {
		handler = noopHandler{}
	}
	h.handler = handler
}

// Register hands a new client to the Run loop. It reports false if the hub
// has shut down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of registered sessions.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Broadcast queues payload for every session registered at the time of the
// call, including the sender, and returns how many accepted it. Sessions
// whose queue is full are dropped.
func (h *Hub) Broadcast(payload []byte) int {
	clients := h.getClientSnapshot()

	delivered := 0
	var clientsToRemove []*Client
	for _, client := range clients {
		if h.safeSend(client, payload) {
			delivered++
			continue
		}
		clientsToRemove = append(clientsToRemove, client)
	}

	h.removeFailedClients(clientsToRemove)
	return delivered
}

// Send queues payload for a single session without dropping it on failure.
func (h *Hub) Send(client *Client, payload []byte) bool {
	return h.safeSend(client, payload)
}

func (h *Hub) safeSend(client *Client, message []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", "panic", r)
			sent = false
		}
	}()

	// Hold the lock during the entire send so the channel cannot be closed underneath us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info("session registered",
		"session", client.ID(),
		"remote", client.RemoteAddr(),
		"sessions", clientCount)

	h.handler.Connect(client)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closed = true
		clientCount := len(h.clients)
		h.mutex.Unlock()
		// Close the channel after releasing the lock
		close(client.send)
		h.logger.Info("session unregistered",
			"session", client.ID(),
			"remote", client.RemoteAddr(),
			"sessions", clientCount)
	} else {
		h.mutex.Unlock()
	}

	// Slow sessions were already removed by Broadcast; they still get their
	// disconnect exactly once when their read pump ends.
	client.disconnectOnce.Do(func() {
		h.handler.Disconnect(client)
	})
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.logger.Warn("session removed due to full send buffer",
				"session", client.ID(),
				"remote", client.RemoteAddr())
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		client.closed = true
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.logger.Warn("error closing client connection",
					"remote", client.RemoteAddr(),
					"error", err)
			}
		}
	}

	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits for all session goroutines to finish or
// for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()

	select {
	case <-h.done:
	case <-time.After(timeout):
		h.logger.Warn("hub loop did not stop before timeout")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
