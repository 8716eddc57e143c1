package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIEndpoint != DefaultAPIEndpoint {
		t.Fatalf("expected default endpoint got %s", cfg.APIEndpoint)
	}
	if cfg.WebSocket.ReconnectMaxAttempts != 5 || cfg.WebSocket.ReconnectDelay != time.Second {
		t.Fatalf("unexpected reconnect defaults: %+v", cfg.WebSocket)
	}
	if cfg.WebSocket.ReconnectMaxElapsed != 60*time.Second || cfg.WebSocket.PingInterval != 30*time.Second {
		t.Fatalf("unexpected timing defaults: %+v", cfg.WebSocket)
	}
	if !cfg.WebSocket.EnableProgress {
		t.Fatalf("progress should be enabled by default")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.APIEndpoint = "https://api.example.com/api/v1/"
	cfg.UserEmail = "ada@example.com"
	cfg.WebSocket.ReconnectMaxAttempts = 9
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.APIEndpoint != "https://api.example.com/api/v1" {
		t.Fatalf("trailing slash not trimmed: %s", loaded.APIEndpoint)
	}
	if loaded.UserEmail != "ada@example.com" || loaded.WebSocket.ReconnectMaxAttempts != 9 {
		t.Fatalf("unexpected config: %+v", loaded)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("apiEndpoint: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KANUNI_API_ENDPOINT", "https://env.example.com/api/v1")
	t.Setenv("KANUNI_RECONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("KANUNI_RECONNECT_DELAY", "250ms")
	t.Setenv("KANUNI_ENABLE_PROGRESS", "no")
	t.Setenv("KANUNI_PING_INTERVAL", "not-a-duration")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIEndpoint != "https://env.example.com/api/v1" {
		t.Fatalf("endpoint override ignored: %s", cfg.APIEndpoint)
	}
	if cfg.WebSocket.ReconnectMaxAttempts != 3 || cfg.WebSocket.ReconnectDelay != 250*time.Millisecond {
		t.Fatalf("reconnect overrides ignored: %+v", cfg.WebSocket)
	}
	if cfg.WebSocket.EnableProgress {
		t.Fatalf("expected progress disabled")
	}
	if cfg.WebSocket.PingInterval != 30*time.Second {
		t.Fatalf("invalid duration should keep default, got %s", cfg.WebSocket.PingInterval)
	}
}

func TestWebSocketURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		endpoint string
		override string
		want     string
	}{
		{"http api root", "http://localhost:8080/api/v1", "", "ws://localhost:8080/api/v1/ws"},
		{"https api root", "https://api.kanuni.ai/api/v1", "", "wss://api.kanuni.ai/api/v1/ws"},
		{"bare host", "https://api.kanuni.ai", "", "wss://api.kanuni.ai/api/v1/ws"},
		{"nested path", "https://gw.example.com/api/v1/tenant", "", "wss://gw.example.com/api/v1/ws/tenant"},
		{"override wins", "https://api.kanuni.ai/api/v1", "wss://stream.example.com/socket", "wss://stream.example.com/socket"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			cfg.APIEndpoint = tc.endpoint
			cfg.WebSocket.URL = tc.override
			if got := cfg.WebSocketURL(); got != tc.want {
				t.Fatalf("expected %s got %s", tc.want, got)
			}
		})
	}
}

func TestSetValidatesValues(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Set("defaultFormat", "yaml"); err != nil {
		t.Fatalf("Set format: %v", err)
	}
	if cfg.DefaultFormat != "yaml" {
		t.Fatalf("format not applied")
	}
	if err := cfg.Set("defaultFormat", "xml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
	if err := cfg.Set("websocket.reconnectDelay", "2s"); err != nil {
		t.Fatalf("Set delay: %v", err)
	}
	if cfg.WebSocket.ReconnectDelay != 2*time.Second {
		t.Fatalf("delay not applied: %s", cfg.WebSocket.ReconnectDelay)
	}
	if err := cfg.Set("colorOutput", "maybe"); err == nil {
		t.Fatalf("expected bool parse error")
	}
	if err := cfg.Set("nope", "1"); err == nil {
		t.Fatalf("expected unknown key error")
	}
}
