// Package config loads cgshare's YAML configuration and resolves its
// per-user directories.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the contents of config.yaml. A missing file yields Default().
type Config struct {
	// DefaultProvider is used when a share request names no provider.
	DefaultProvider string `yaml:"default_provider"`
	// Redact lists redaction categories applied to every shared transcript.
	// An explicit empty list disables redaction.
	Redact  []string `yaml:"redact"`
	Page    Page     `yaml:"page"`
	Cleanup Cleanup  `yaml:"cleanup"`
	Ngrok   Ngrok    `yaml:"ngrok"`
	Tunnel  Tunnel   `yaml:"tunnel"`
}

// Page trims what a shared page shows.
type Page struct {
	HideThinking bool `yaml:"hide_thinking"`
	CompactTools bool `yaml:"compact_tools"`
}

// Cleanup controls garbage collection of finished share records.
type Cleanup struct {
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"` // zero disables the periodic sweep
}

type Ngrok struct {
	AuthToken string `yaml:"authtoken,omitempty"`
}

type Tunnel struct {
	// Timeout bounds URL discovery for providers without a fixed timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProvider: "cloudflare",
		Redact:          []string{"secrets", "pii"},
		Cleanup: Cleanup{
			MaxAge:   24 * time.Hour,
			Interval: time.Hour,
		},
		Tunnel: Tunnel{Timeout: 30 * time.Second},
	}
}

// Load reads the config at path, layering it over Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.DefaultProvider == "":
		return errors.New("default_provider must not be empty")
	case c.Cleanup.MaxAge < 0:
		return errors.New("cleanup.max_age must not be negative")
	case c.Cleanup.Interval < 0:
		return errors.New("cleanup.interval must not be negative")
	case c.Tunnel.Timeout <= 0:
		return errors.New("tunnel.timeout must be positive")
	}
	return nil
}

// Save writes c to path, creating the directory. The file may hold an ngrok
// token, so it is readable by the owner only.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
