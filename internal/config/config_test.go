package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "http://localhost:4004" {
		t.Errorf("server_url = %q, want default", cfg.ServerURL)
	}
	if cfg.AckTimeout != 10*time.Second {
		t.Errorf("ack_timeout = %v, want 10s", cfg.AckTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, &Config{ServerURL: "https://chat.example.com", AckTimeout: 3 * time.Second, PageSize: 25}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "https://chat.example.com" {
		t.Errorf("server_url = %q", cfg.ServerURL)
	}
	if cfg.PageSize != 25 {
		t.Errorf("page_size = %d, want 25", cfg.PageSize)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, &Config{ServerURL: "http://from-file:4004"}); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PARLEY_SERVER_URL", "http://from-env:4004")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "http://from-env:4004" {
		t.Errorf("server_url = %q, want env value", cfg.ServerURL)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"http://localhost:4004", "ws://localhost:4004/ws"},
		{"https://chat.example.com/", "wss://chat.example.com/ws"},
	}
	for _, tt := range tests {
		cfg := &Config{ServerURL: tt.server}
		if got := cfg.WebsocketURL(); got != tt.want {
			t.Errorf("WebsocketURL(%q) = %q, want %q", tt.server, got, tt.want)
		}
	}
}
