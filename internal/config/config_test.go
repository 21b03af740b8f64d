// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if cfg.Endpoint() != "http://127.0.0.1:8080/api/chat/stream" {
		t.Errorf("Endpoint = %q", cfg.Endpoint())
	}
	if cfg.FlushInterval() != 50*time.Millisecond {
		t.Errorf("FlushInterval = %v", cfg.FlushInterval())
	}
}

func TestLoadFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
base_url = "http://localhost:9999"

[chat]
model = "mistral"
flush_interval_ms = 100

[storage]
backend = "sqlite"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.BaseURL != "http://localhost:9999" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	// Unset keys keep their defaults.
	if cfg.Server.StreamPath != "/api/chat/stream" {
		t.Errorf("StreamPath = %q, want default preserved", cfg.Server.StreamPath)
	}
	if cfg.Chat.Model != "mistral" {
		t.Errorf("Model = %q", cfg.Chat.Model)
	}
	if cfg.FlushInterval() != 100*time.Millisecond {
		t.Errorf("FlushInterval = %v", cfg.FlushInterval())
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Backend = %q", cfg.Storage.Backend)
	}
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFrom on missing file: %v", err)
	}
	if cfg.Chat.Model != Default().Chat.Model {
		t.Errorf("Model = %q, want default", cfg.Chat.Model)
	}
}

func TestLoadFrom_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[storage]\nbackend = \"carrier-pigeon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Error("expected validation error for unknown backend")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMACHAT_BASE_URL", "http://10.0.0.5:8080")
	t.Setenv("OLLAMACHAT_MODEL", "phi3")
	t.Setenv("OLLAMACHAT_FLUSH_MS", "25")
	t.Setenv("OLLAMACHAT_STORAGE", "sqlite")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Server.BaseURL != "http://10.0.0.5:8080" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Chat.Model != "phi3" {
		t.Errorf("Model = %q", cfg.Chat.Model)
	}
	if cfg.Chat.FlushIntervalMs != 25 {
		t.Errorf("FlushIntervalMs = %d", cfg.Chat.FlushIntervalMs)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Backend = %q", cfg.Storage.Backend)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad url", func(c *Config) { c.Server.BaseURL = "not a url" }, false},
		{"bad path", func(c *Config) { c.Server.StreamPath = "chat" }, false},
		{"empty model", func(c *Config) { c.Chat.Model = "" }, false},
		{"negative flush", func(c *Config) { c.Chat.FlushIntervalMs = -1 }, false},
		{"sqlite backend", func(c *Config) { c.Storage.Backend = "sqlite" }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[chat]\nmodel = \"first\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("[chat]\nmodel = \"second\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Chat.Model != "second" {
			t.Errorf("reloaded model = %q, want %q", cfg.Chat.Model, "second")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never fired")
	}
}
