// Package server provides configuration helpers that define runtime defaults,
// validation, and tuning parameters for the chat relay.
package server

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/presence"
)

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 16 << 20
	defaultSendBufferSize  = 256
	defaultRateLimitBurst  = 10
	defaultShutdownTimeout = 10 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// PresenceConfig tunes liveness detection and what a disconnect demotes.
type PresenceConfig struct {
	Timeout          time.Duration
	SweepInterval    time.Duration
	EvictAfter       time.Duration
	DisconnectPolicy chat.DisconnectPolicy
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	MaxImageSize    int
	SendBufferSize  int
	RateLimit       RateLimitConfig
	Presence        PresenceConfig
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		MaxImageSize:   chat.DefaultMaxImageSize,
		SendBufferSize: defaultSendBufferSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateLimitBurst,
			RefillInterval: time.Second,
		},
		Presence: PresenceConfig{
			Timeout:          presence.DefaultTimeout,
			SweepInterval:    presence.DefaultSweepInterval,
			DisconnectPolicy: chat.DisconnectSession,
		},
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// sanitize replaces invalid values with defaults.
func (cfg Config) sanitize() Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxImageSize <= 0 {
		cfg.MaxImageSize = def.MaxImageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.Presence.Timeout <= 0 {
		cfg.Presence.Timeout = def.Presence.Timeout
	}
	if cfg.Presence.SweepInterval <= 0 {
		cfg.Presence.SweepInterval = def.Presence.SweepInterval
	}
	if cfg.Presence.EvictAfter < 0 {
		cfg.Presence.EvictAfter = 0
	}
	if !cfg.Presence.DisconnectPolicy.Valid() {
		cfg.Presence.DisconnectPolicy = def.Presence.DisconnectPolicy
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

func applyConfig(cfg Config) {
	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		applyConfig(defaultConfig())
		return
	}
	applyConfig(cfg.sanitize())
}

// CurrentConfig returns a copy of the active configuration.
func CurrentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if maxImage := os.Getenv("MAX_IMAGE_SIZE"); maxImage != "" {
		cfg.MaxImageSize = parseIntValue(maxImage, cfg.MaxImageSize)
	}
	if buf := os.Getenv("SEND_BUFFER_SIZE"); buf != "" {
		cfg.SendBufferSize = parseIntValue(buf, cfg.SendBufferSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}
	if timeout := os.Getenv("PRESENCE_TIMEOUT"); timeout != "" {
		cfg.Presence.Timeout = parseDuration(timeout, cfg.Presence.Timeout)
	}
	if interval := os.Getenv("PRESENCE_SWEEP_INTERVAL"); interval != "" {
		cfg.Presence.SweepInterval = parseDuration(interval, cfg.Presence.SweepInterval)
	}
	if evict := os.Getenv("PRESENCE_EVICT_AFTER"); evict != "" {
		cfg.Presence.EvictAfter = parseDuration(evict, cfg.Presence.EvictAfter)
	}
	if policy := os.Getenv("DISCONNECT_POLICY"); policy != "" {
		if p := chat.DisconnectPolicy(strings.ToLower(strings.TrimSpace(policy))); p.Valid() {
			cfg.Presence.DisconnectPolicy = p
		}
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax or a plain number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
