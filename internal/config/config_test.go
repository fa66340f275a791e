// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ServerURL != "http://127.0.0.1:8000" {
		t.Errorf("unexpected default server URL: %s", cfg.ServerURL)
	}
	if !cfg.SearchEnabled {
		t.Error("search should default on")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.ServerURL != Default().ServerURL {
		t.Errorf("expected default server URL, got %s", cfg.ServerURL)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
server_url = "https://eco.example.com"
request_timeout_secs = 60
search_enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.ServerURL != "https://eco.example.com" {
		t.Errorf("server_url not loaded: %s", cfg.ServerURL)
	}
	if cfg.RequestTimeoutSecs != 60 {
		t.Errorf("request_timeout_secs not loaded: %d", cfg.RequestTimeoutSecs)
	}
	if cfg.SearchEnabled {
		t.Error("search_enabled not loaded")
	}
	// Unset fields keep defaults.
	if cfg.HistoryDir == "" {
		t.Error("history_dir should fall back to default")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("server_url = [broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ECOCHAT_SERVER_URL", "http://localhost:9999")
	t.Setenv("ECOCHAT_TIMEOUT_SECS", "5")
	t.Setenv("ECOCHAT_SEARCH", "0")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.ServerURL != "http://localhost:9999" {
		t.Errorf("ECOCHAT_SERVER_URL not applied: %s", cfg.ServerURL)
	}
	if cfg.RequestTimeoutSecs != 5 {
		t.Errorf("ECOCHAT_TIMEOUT_SECS not applied: %d", cfg.RequestTimeoutSecs)
	}
	if cfg.SearchEnabled {
		t.Error("ECOCHAT_SEARCH=0 not applied")
	}
}

func TestEnvOverrideBadTimeoutIgnored(t *testing.T) {
	t.Setenv("ECOCHAT_TIMEOUT_SECS", "not-a-number")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if cfg.RequestTimeoutSecs != Default().RequestTimeoutSecs {
		t.Errorf("bad timeout override should be ignored, got %d", cfg.RequestTimeoutSecs)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty url", func(c *Config) { c.ServerURL = "" }, true},
		{"relative url", func(c *Config) { c.ServerURL = "/chat" }, true},
		{"bad scheme", func(c *Config) { c.ServerURL = "ftp://x.example.com" }, true},
		{"zero timeout", func(c *Config) { c.RequestTimeoutSecs = 0 }, true},
		{"empty history dir", func(c *Config) { c.HistoryDir = "" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
