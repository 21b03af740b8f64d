// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for ollamachat.
//
// TOML file with sensible defaults, environment variable overrides, and
// validation. Configuration file location: ~/.ollamachat/config.toml.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete ollamachat configuration.
type Config struct {
	// Server configuration (the streaming proxy)
	Server ServerConfig `toml:"server"`

	// Chat configuration
	Chat ChatConfig `toml:"chat"`

	// Storage configuration
	Storage StorageConfig `toml:"storage"`
}

// ServerConfig contains the proxy connection configuration.
type ServerConfig struct {
	// BaseURL is the proxy's base URL
	BaseURL string `toml:"base_url"`
	// StreamPath is the streaming chat endpoint path
	StreamPath string `toml:"stream_path"`
}

// ChatConfig contains chat behavior configuration.
type ChatConfig struct {
	// Model is the model name sent with every request
	Model string `toml:"model"`
	// FlushIntervalMs is the render debounce window in milliseconds
	FlushIntervalMs int `toml:"flush_interval_ms"`
}

// StorageConfig contains persistence configuration.
type StorageConfig struct {
	// Backend selects the store: "file" or "sqlite"
	Backend string `toml:"backend"`
	// Path overrides the store location (empty = default under ~/.ollamachat)
	Path string `toml:"path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:    "http://127.0.0.1:8080",
			StreamPath: "/api/chat/stream",
		},
		Chat: ChatConfig{
			Model:           "llama3.1",
			FlushIntervalMs: 50,
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    "",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the ollamachat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ollamachat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file, falling back to
// defaults when the file does not exist. Environment overrides always apply.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, nil
	}
	return LoadFrom(path)
}

// LoadFrom loads configuration from the given path. A missing file is not an
// error; the defaults are used.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported variables:
//   - OLLAMACHAT_BASE_URL
//   - OLLAMACHAT_MODEL
//   - OLLAMACHAT_FLUSH_MS
//   - OLLAMACHAT_STORAGE
func (c *Config) ApplyEnvOverrides() {
	if base := os.Getenv("OLLAMACHAT_BASE_URL"); base != "" {
		c.Server.BaseURL = base
	}
	if model := os.Getenv("OLLAMACHAT_MODEL"); model != "" {
		c.Chat.Model = model
	}
	if ms := os.Getenv("OLLAMACHAT_FLUSH_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 {
			c.Chat.FlushIntervalMs = v
		}
	}
	if backend := os.Getenv("OLLAMACHAT_STORAGE"); backend != "" {
		c.Storage.Backend = backend
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url %q is not a valid URL", c.Server.BaseURL)
	}
	if !strings.HasPrefix(c.Server.StreamPath, "/") {
		return fmt.Errorf("server.stream_path %q must start with /", c.Server.StreamPath)
	}
	if c.Chat.Model == "" {
		return fmt.Errorf("chat.model must not be empty")
	}
	if c.Chat.FlushIntervalMs < 0 {
		return fmt.Errorf("chat.flush_interval_ms must not be negative")
	}
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.backend %q must be \"file\" or \"sqlite\"", c.Storage.Backend)
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Endpoint returns the full streaming chat URL.
func (c *Config) Endpoint() string {
	return strings.TrimSuffix(c.Server.BaseURL, "/") + c.Server.StreamPath
}

// FlushInterval returns the render debounce window as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Chat.FlushIntervalMs) * time.Millisecond
}
