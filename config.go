package statesync

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Modes an application can run in.
const (
	ModeRun  = "run"
	ModeEdit = "edit"
)

// DefaultMaxMessageBytes bounds a single stream message.
const DefaultMaxMessageBytes = 201 * 1024 * 1024

// Config holds runtime settings shared by the state, dispatch and serving
// layers. The zero value is not usable; start from DefaultConfig.
type Config struct {
	Mode   string `yaml:"mode" toml:"mode"`
	Listen string `yaml:"listen" toml:"listen"`

	// MailLogEntries controls whether log entries are mailed to the
	// frontend in addition to being logged.
	MailLogEntries bool `yaml:"mail_log_entries" toml:"mail_log_entries"`

	IdleSessionSeconds   int   `yaml:"idle_session_seconds" toml:"idle_session_seconds"`
	PruneIntervalSeconds int   `yaml:"prune_interval_seconds" toml:"prune_interval_seconds"`
	MaxMessageBytes      int64 `yaml:"max_message_bytes" toml:"max_message_bytes"`

	// EnableRemoteEdit allows edit mode connections from non-local origins.
	EnableRemoteEdit bool `yaml:"enable_remote_edit" toml:"enable_remote_edit"`

	// SessionKey seals session tokens handed to the browser. Must be 16, 24
	// or 32 bytes when set. Empty disables token sealing.
	SessionKey string `yaml:"session_key" toml:"session_key"`

	Logger *slog.Logger `yaml:"-" toml:"-"`
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() *Config {
	return &Config{
		Mode:                 ModeRun,
		Listen:               "127.0.0.1:5000",
		MailLogEntries:       true,
		IdleSessionSeconds:   3600,
		PruneIntervalSeconds: 60,
		MaxMessageBytes:      DefaultMaxMessageBytes,
	}
}

var fallbackConfig = DefaultConfig()

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file over the
// defaults. Keys missing from the file keep their default value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrConfiguration, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings for values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Mode != ModeRun && c.Mode != ModeEdit {
		return fmt.Errorf("%w: mode must be %q or %q, got %q", ErrConfiguration, ModeRun, ModeEdit, c.Mode)
	}
	if c.IdleSessionSeconds <= 0 {
		return fmt.Errorf("%w: idle_session_seconds must be positive", ErrConfiguration)
	}
	if c.PruneIntervalSeconds <= 0 {
		return fmt.Errorf("%w: prune_interval_seconds must be positive", ErrConfiguration)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%w: max_message_bytes must be positive", ErrConfiguration)
	}
	switch len(c.SessionKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("%w: session_key must be 16, 24 or 32 bytes", ErrConfiguration)
	}
	return nil
}

// IdleTimeout is how long a session may stay inactive before pruning.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleSessionSeconds) * time.Second
}

// PruneInterval is how often idle sessions are pruned.
func (c *Config) PruneInterval() time.Duration {
	return time.Duration(c.PruneIntervalSeconds) * time.Second
}

func (c *Config) logger() *slog.Logger {
	if c == nil || c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func configOrDefault(c *Config) *Config {
	if c == nil {
		return fallbackConfig
	}
	return c
}
