// Package server defines the contract between the hub and the event handler
// plus utility helpers shared by client and hub logic.
package server

import (
	"strings"

	"github.com/Tyrowin/chatrelay/internal/chat"
)

// EventHandler receives session lifecycle signals and inbound frames.
// Handle runs on the session's read goroutine; Connect and Disconnect run
// on the hub goroutine.
type EventHandler interface {
	Connect(s chat.Session)
	Handle(s chat.Session, raw []byte) error
	Disconnect(s chat.Session)
}

type noopHandler struct{}

func (noopHandler) Connect(chat.Session)              {}
func (noopHandler) Handle(chat.Session, []byte) error { return nil }
func (noopHandler) Disconnect(chat.Session)           {}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
