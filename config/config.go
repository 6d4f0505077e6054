// Package config loads environment variables and provides a typed Config
// used across the service. It applies sensible defaults so the binary can
// run locally with minimal setup; the only hard requirement is a set of
// chamber credentials, either as definition files in the data directory or
// as BLUESKY_* bootstrap variables.
package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	// Storage
	DataDir string // chamber definitions and mute files
	LogDir  string // optional file logging alongside stdout

	// Ops server
	ListenAddr string

	// Poll pacing
	PollInterval time.Duration

	// At-rest encryption of app passwords in definition files (optional)
	CryptKey string

	// Single-chamber bootstrap, used when the data directory holds no
	// chamber definitions.
	Handle   string
	Username string
	Password string
	Hostname string
}

// Load reads environment variables and applies defaults. It doesn't fail if
// bootstrap credentials are missing; use ValidateBootstrap when no chamber
// definitions were discovered.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DataDir = os.Getenv("ECHOCHAMBER_DATADIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	cfg.LogDir = os.Getenv("ECHOCHAMBER_LOGDIR")

	cfg.ListenAddr = os.Getenv("ECHOCHAMBER_LISTEN_ADDR")
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	cfg.PollInterval = 15 * time.Second
	if v := os.Getenv("ECHOCHAMBER_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid ECHOCHAMBER_POLL_INTERVAL: %q", v)
		}
		cfg.PollInterval = d
	}

	cfg.CryptKey = os.Getenv("ECHOCHAMBER_CRYPT_KEY")

	cfg.Handle = os.Getenv("BLUESKY_HANDLE")
	cfg.Username = os.Getenv("BLUESKY_USERNAME")
	cfg.Password = os.Getenv("BLUESKY_PASSWORD")
	cfg.Hostname = os.Getenv("BLUESKY_HOSTNAME")
	if cfg.Hostname == "" {
		cfg.Hostname = "https://bsky.social"
	}

	return cfg, nil
}

// ValidateBootstrap checks the single-chamber bootstrap credentials. Only
// required when the data directory scan found no chamber definitions.
func (c *Config) ValidateBootstrap() error {
	if c.Handle == "" || c.Username == "" || c.Password == "" {
		return fmt.Errorf("missing bluesky env: require BLUESKY_HANDLE, BLUESKY_USERNAME, BLUESKY_PASSWORD")
	}
	return nil
}
