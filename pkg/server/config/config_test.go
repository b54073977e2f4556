package config

import (
	"testing"
	"time"
)

var relayEnvKeys = []string{
	"RELAY_ADDR",
	"RELAY_API_KEYS",
	"RELAY_MODEL",
	"RELAY_SYSTEM_PROMPT",
	"RELAY_LIVE_MAX_AUDIO_FRAME_BYTES",
	"RELAY_LIVE_MAX_JSON_MESSAGE_BYTES",
	"RELAY_LIVE_MAX_AUDIO_FPS",
	"RELAY_LIVE_MAX_AUDIO_BPS",
	"RELAY_LIVE_INBOUND_BURST_SECONDS",
	"RELAY_LIVE_WS_PING_INTERVAL",
	"RELAY_LIVE_WS_WRITE_TIMEOUT",
	"RELAY_LIVE_TOOL_TIMEOUT",
	"RELAY_WS_MAX_DURATION",
	"RELAY_READ_HEADER_TIMEOUT",
	"RELAY_SHUTDOWN_GRACE_PERIOD",
	"GEMINI_API_KEY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range relayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if len(cfg.APIKeys) != 0 {
		t.Errorf("APIKeys = %v, want empty", cfg.APIKeys)
	}
	if cfg.LiveMaxAudioFrameBytes != 8192 {
		t.Errorf("LiveMaxAudioFrameBytes = %d", cfg.LiveMaxAudioFrameBytes)
	}
	if cfg.LiveWSPingInterval != 20*time.Second {
		t.Errorf("LiveWSPingInterval = %v", cfg.LiveWSPingInterval)
	}
	if cfg.WSMaxSessionDuration != 2*time.Hour {
		t.Errorf("WSMaxSessionDuration = %v", cfg.WSMaxSessionDuration)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_ADDR", ":9999")
	t.Setenv("RELAY_MODEL", "gemini-2.5-pro")
	t.Setenv("RELAY_API_KEYS", "key1, key2 ,")
	t.Setenv("RELAY_LIVE_WS_PING_INTERVAL", "45s")
	t.Setenv("RELAY_LIVE_MAX_AUDIO_FPS", "60")
	t.Setenv("GEMINI_API_KEY", " secret ")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Model != "gemini-2.5-pro" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if len(cfg.APIKeys) != 2 {
		t.Errorf("APIKeys = %v, want 2 keys", cfg.APIKeys)
	}
	if _, ok := cfg.APIKeys["key2"]; !ok {
		t.Error("key2 not trimmed into set")
	}
	if cfg.LiveWSPingInterval != 45*time.Second {
		t.Errorf("LiveWSPingInterval = %v", cfg.LiveWSPingInterval)
	}
	if cfg.LiveMaxAudioFPS != 60 {
		t.Errorf("LiveMaxAudioFPS = %d", cfg.LiveMaxAudioFPS)
	}
	if cfg.GeminiAPIKey != "secret" {
		t.Errorf("GeminiAPIKey = %q, want trimmed value", cfg.GeminiAPIKey)
	}
}

func TestLoadFromEnvInvalidValueFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_LIVE_MAX_AUDIO_FPS", "not a number")
	t.Setenv("RELAY_LIVE_WS_PING_INTERVAL", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.LiveMaxAudioFPS != 120 {
		t.Errorf("LiveMaxAudioFPS = %d, want default", cfg.LiveMaxAudioFPS)
	}
	if cfg.LiveWSPingInterval != 20*time.Second {
		t.Errorf("LiveWSPingInterval = %v, want default", cfg.LiveWSPingInterval)
	}
}

func TestLoadFromEnvRejectsNonPositiveLimits(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_LIVE_MAX_AUDIO_FRAME_BYTES", "-1")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for non-positive frame limit")
	}
}
