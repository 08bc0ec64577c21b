// Package chat turns inbound client events into presence updates and
// outbound broadcasts.
package chat

import (
	"encoding/json"
	"fmt"

	"github.com/Tyrowin/chatrelay/internal/presence"
)

// Event kinds carried in the envelope's "event" field.
const (
	EventMessage    = "message"
	EventImage      = "image"
	EventImageError = "image_error"
	EventUserStatus = "user_status"
)

// TimestampLayout is the server-local format stamped on outbound events.
const TimestampLayout = "2006-01-02 15:04:05"

// Envelope is the JSON frame exchanged over the transport.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessageEvent is a broadcast chat line.
type MessageEvent struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ImageEvent is a broadcast image. ImageData is relayed exactly as received.
type ImageEvent struct {
	Username  string `json:"username"`
	ImageData string `json:"image_data"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ImageErrorEvent is sent only to the session whose image was rejected.
type ImageErrorEvent struct {
	Message string `json:"message"`
}

// StatusEvent announces a presence transition.
type StatusEvent struct {
	Username string          `json:"username"`
	Status   presence.Status `json:"status"`
}

// Inbound usernames are pointers so a missing field can be told apart from
// an empty one. Any string, including "", is a valid presence key.
type inboundMessage struct {
	Username *string `json:"username"`
	Message  *string `json:"message"`
}

type inboundImage struct {
	Username  *string `json:"username"`
	ImageData string  `json:"image_data"`
	Filename  string  `json:"filename"`
	MimeType  string  `json:"mime_type"`
}

type inboundStatus struct {
	Username *string         `json:"username"`
	Status   presence.Status `json:"status"`
}

// Encode wraps data in an envelope of the given kind.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
