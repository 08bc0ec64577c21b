// Package testutil provides helpers shared by the relay's tests: dialing
// WebSocket sessions and reading and writing event envelopes.
package testutil

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/chat"
)

// TestOrigin is the Origin header sent by Dial.
const TestOrigin = "http://localhost:8080"

// WebSocketURL converts an httptest server URL into the /ws endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// Dial opens a WebSocket session and registers cleanup with t.
func Dial(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()

	conn, err := ConnectWebSocket(WebSocketURL(serverURL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendEvent writes one envelope of the given kind.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	raw, err := chat.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

// ReceiveEvent reads the next envelope, failing the test after timeout.
func ReceiveEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) chat.Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var env chat.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// ReceiveEventOfKind skips envelopes until one of the given kind arrives.
func ReceiveEventOfKind(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) chat.Envelope {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		require.True(t, remaining > 0, "no %q event before timeout", event)
		env := ReceiveEvent(t, conn, remaining)
		if env.Event == event {
			return env
		}
	}
}

// DecodeData unmarshals an envelope's payload into v.
func DecodeData(t *testing.T, env chat.Envelope, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

// ExpectNoEvent asserts that nothing arrives on conn within wait. A timed
// out read leaves the connection unusable, so call it last.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no event, got %s", raw)
	}
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
