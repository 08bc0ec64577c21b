package server

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/chat"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, int64(16<<20), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.SendBufferSize)
	assert.Equal(t, 10*time.Second, cfg.Presence.Timeout)
	assert.Equal(t, time.Second, cfg.Presence.SweepInterval)
	assert.Zero(t, cfg.Presence.EvictAfter)
	assert.Equal(t, chat.DisconnectSession, cfg.Presence.DisconnectPolicy)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("MAX_IMAGE_SIZE", "1024")
	t.Setenv("SEND_BUFFER_SIZE", "8")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("PRESENCE_TIMEOUT", "1500ms")
	t.Setenv("PRESENCE_SWEEP_INTERVAL", "250ms")
	t.Setenv("PRESENCE_EVICT_AFTER", "1h")
	t.Setenv("DISCONNECT_POLICY", "ALL")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "json")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, 1024, cfg.MaxImageSize)
	assert.Equal(t, 8, cfg.SendBufferSize)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.Presence.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Presence.SweepInterval)
	assert.Equal(t, time.Hour, cfg.Presence.EvictAfter)
	assert.Equal(t, chat.DisconnectAll, cfg.Presence.DisconnectPolicy)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestNewConfigFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("PRESENCE_TIMEOUT", "soon")
	t.Setenv("DISCONNECT_POLICY", "nobody")

	cfg := NewConfigFromEnv()
	def := NewConfig()

	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit.Burst, cfg.RateLimit.Burst)
	assert.Equal(t, def.Presence.Timeout, cfg.Presence.Timeout)
	assert.Equal(t, def.Presence.DisconnectPolicy, cfg.Presence.DisconnectPolicy)
}

func TestSetConfigSanitizes(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	SetConfig(&Config{
		Presence: PresenceConfig{EvictAfter: -time.Second, DisconnectPolicy: "bogus"},
	})
	cfg := CurrentConfig()

	def := NewConfig()
	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.SendBufferSize, cfg.SendBufferSize)
	assert.Equal(t, def.Presence.Timeout, cfg.Presence.Timeout)
	assert.Zero(t, cfg.Presence.EvictAfter)
	assert.Equal(t, chat.DisconnectSession, cfg.Presence.DisconnectPolicy)
}

func TestCurrentConfigReturnsCopy(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })
	SetConfig(&Config{AllowedOrigins: []string{"http://a.example"}})

	cfg := CurrentConfig()
	cfg.AllowedOrigins[0] = "http://mutated.example"

	assert.Equal(t, []string{"http://a.example"}, CurrentConfig().AllowedOrigins)
}

func TestOriginChecks(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case insensitive", []string{"http://LOCALHOST:8080"}, "http://localhost:8080", true},
		{"other origin", []string{"http://localhost:8080"}, "http://evil.example", false},
		{"missing origin", []string{"http://localhost:8080"}, "", false},
		{"wildcard", []string{"*"}, "http://anything.example", true},
		{"wildcard without origin", []string{"*"}, "", true},
		{"invalid configured origin", []string{"not a url"}, "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetConfig(&Config{AllowedOrigins: tt.allowed})
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(r))
		})
	}
}

func TestRateLimiterBurstThenDeny(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "token %d", i)
	}
	assert.False(t, rl.allow())
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(1, 20*time.Millisecond)

	require.True(t, rl.allow())
	require.False(t, rl.allow())
	assert.Eventually(t, rl.allow, time.Second, 5*time.Millisecond)
}

func TestRateLimiterClampsInvalidParameters(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.True(t, rl.allow())
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "session", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "abc", rec["session"])

	buf.Reset()
	NewLogger(&buf, "bogus", "text").Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
