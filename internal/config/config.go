// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for ecochat.
//
// Configuration comes from ~/.ecochat/config.toml with sensible defaults and
// environment variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURE
// =============================================================================

// Config represents the complete ecochat configuration.
type Config struct {
	// ServerURL is the base URL of the assistant backend.
	ServerURL string `toml:"server_url"`

	// HistoryDir is the directory for conversation and upload history.
	// Empty selects ~/.ecochat/history.
	HistoryDir string `toml:"history_dir"`

	// IndexPath is the SQLite search database path.
	// Empty selects ~/.ecochat/search.db.
	IndexPath string `toml:"index_path"`

	// Greeting overrides the assistant message seeded into new conversations.
	Greeting string `toml:"greeting"`

	// RequestTimeoutSecs bounds how long the client waits for response
	// headers before giving up on a send.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`

	// SearchEnabled toggles the message search index.
	SearchEnabled bool `toml:"search_enabled"`

	// WatchHistory toggles the history-directory watcher that picks up
	// changes made by other processes.
	WatchHistory bool `toml:"watch_history"`
}

// =============================================================================
// DEFAULTS AND PATHS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	dir, _ := Dir()
	return &Config{
		ServerURL:          "http://127.0.0.1:8000",
		HistoryDir:         filepath.Join(dir, "history"),
		IndexPath:          filepath.Join(dir, "search.db"),
		RequestTimeoutSecs: 30,
		SearchEnabled:      true,
		WatchHistory:       false,
	}
}

// Dir returns the ecochat configuration directory (~/.ecochat).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".ecochat"), nil
}

// Path returns the configuration file path (~/.ecochat/config.toml).
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load returns the effective configuration: defaults, overlaid with
// ~/.ecochat/config.toml when present, then environment overrides.
// A missing config file is not an error.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from an explicit file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides:
//   - ECOCHAT_SERVER_URL: overrides server_url
//   - ECOCHAT_HISTORY_DIR: overrides history_dir
//   - ECOCHAT_INDEX_PATH: overrides index_path
//   - ECOCHAT_TIMEOUT_SECS: overrides request_timeout_secs
//   - ECOCHAT_SEARCH: "0"/"false" disables the search index
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ECOCHAT_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("ECOCHAT_HISTORY_DIR"); v != "" {
		c.HistoryDir = v
	}
	if v := os.Getenv("ECOCHAT_INDEX_PATH"); v != "" {
		c.IndexPath = v
	}
	if v := os.Getenv("ECOCHAT_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.RequestTimeoutSecs = secs
		}
	}
	if v := os.Getenv("ECOCHAT_SEARCH"); v == "0" || v == "false" {
		c.SearchEnabled = false
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for usability.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server_url %q: must be an absolute http(s) URL", c.ServerURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server_url scheme %q", u.Scheme)
	}
	if c.RequestTimeoutSecs <= 0 {
		return fmt.Errorf("request_timeout_secs must be positive, got %d", c.RequestTimeoutSecs)
	}
	if c.HistoryDir == "" {
		return fmt.Errorf("history_dir must not be empty")
	}
	return nil
}
