// Package config loads relayd settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// API keys accepted on the live endpoint. Empty disables auth.
	APIKeys map[string]struct{}

	// Model provider settings.
	GeminiAPIKey string
	Model        string
	SystemPrompt string

	// Live WebSocket limits.
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveMaxAudioFPS         int
	LiveMaxAudioBPS         int64
	LiveInboundBurstSeconds int
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveToolTimeout         time.Duration
	WSMaxSessionDuration    time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("RELAY_ADDR", ":8080"),
		APIKeys:                 make(map[string]struct{}),
		GeminiAPIKey:            strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:                   envOr("RELAY_MODEL", "gemini-2.0-flash"),
		SystemPrompt:            os.Getenv("RELAY_SYSTEM_PROMPT"),
		LiveMaxAudioFrameBytes:  envIntOr("RELAY_LIVE_MAX_AUDIO_FRAME_BYTES", 8192),
		LiveMaxJSONMessageBytes: envInt64Or("RELAY_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveMaxAudioFPS:         envIntOr("RELAY_LIVE_MAX_AUDIO_FPS", 120),
		LiveMaxAudioBPS:         envInt64Or("RELAY_LIVE_MAX_AUDIO_BPS", 128*1024),
		LiveInboundBurstSeconds: envIntOr("RELAY_LIVE_INBOUND_BURST_SECONDS", 2),
		LiveWSPingInterval:      envDurationOr("RELAY_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("RELAY_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveToolTimeout:         envDurationOr("RELAY_LIVE_TOOL_TIMEOUT", 30*time.Second),
		WSMaxSessionDuration:    envDurationOr("RELAY_WS_MAX_DURATION", 2*time.Hour),
		ReadHeaderTimeout:       envDurationOr("RELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:     envDurationOr("RELAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, key := range splitCSV(os.Getenv("RELAY_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("RELAY_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("RELAY_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveMaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("RELAY_LIVE_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.LiveMaxAudioBPS < 0 {
		return Config{}, fmt.Errorf("RELAY_LIVE_MAX_AUDIO_BPS must be >= 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("RELAY_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveToolTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_LIVE_TOOL_TIMEOUT must be > 0")
	}
	if cfg.WSMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("RELAY_WS_MAX_DURATION must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("RELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
