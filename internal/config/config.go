package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the client configuration. Values come from
// ~/.parley/config.toml when present, overridden by PARLEY_* environment
// variables (a .env file is honored for local development).
type Config struct {
	ServerURL   string        `toml:"server_url" envconfig:"SERVER_URL"`
	AckTimeout  time.Duration `toml:"ack_timeout" envconfig:"ACK_TIMEOUT"`
	PageSize    int           `toml:"page_size" envconfig:"PAGE_SIZE"`
	LogToStderr bool          `toml:"log_to_stderr" envconfig:"LOG_TO_STDERR"`
}

func defaults() Config {
	return Config{
		ServerURL:  "http://localhost:4004",
		AckTimeout: 10 * time.Second,
		PageSize:   10,
	}
}

// Load reads configuration for the given config file path. A missing
// file is not an error; environment variables still apply. Precedence
// is env over file over defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := envconfig.Process("parley", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid server_url %q: %w", cfg.ServerURL, err)
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// WebsocketURL derives the ws:// endpoint from the configured server URL.
func (c *Config) WebsocketURL() string {
	u := c.ServerURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimSuffix(u, "/") + "/ws"
}
