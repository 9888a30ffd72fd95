package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models coscribe.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Sync struct {
		BackupIntervalSeconds int `yaml:"backup_interval_seconds"`
	} `yaml:"sync"`
	Presence struct {
		MaxInactiveMs int `yaml:"max_inactive_ms"`
		CursorMaxAge  int `yaml:"cursor_max_age_ms"`
	} `yaml:"presence"`
	User struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Color string `yaml:"color"`
	} `yaml:"user"`
}

// Load reads and validates config from a workspace directory.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with coscribe config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when no config file exists.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Absent fields
// fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Sync.BackupIntervalSeconds <= 0 {
		return fmt.Errorf("config.sync.backup_interval_seconds must be positive")
	}
	if c.Presence.MaxInactiveMs <= 0 {
		return fmt.Errorf("config.presence.max_inactive_ms must be positive")
	}
	if c.Presence.CursorMaxAge <= 0 {
		return fmt.Errorf("config.presence.cursor_max_age_ms must be positive")
	}
	return nil
}

func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Sync.BackupIntervalSeconds) * time.Second
}

func (c *Config) MaxInactive() time.Duration {
	return time.Duration(c.Presence.MaxInactiveMs) * time.Millisecond
}

func (c *Config) CursorMaxAge() time.Duration {
	return time.Duration(c.Presence.CursorMaxAge) * time.Millisecond
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "coscribe.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8844
  base_path: /v0

store:
  path: ""

sync:
  backup_interval_seconds: 30

presence:
  max_inactive_ms: 30000
  cursor_max_age_ms: 10000

user:
  id: ""
  name: ""
  color: "#336699"
`
