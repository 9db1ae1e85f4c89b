// Package config loads the agent's settings: environment variables for
// runtime tuning and the per-user JSON config file that carries the relay
// registration and device token.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
)

const (
	// EnvPrefix namespaces every environment override.
	EnvPrefix = "MYNDHYVE"

	configDirName   = ".myndhyve-cli"
	configFileName  = "config.json"
	credsFileName   = "credentials.json"
	pidFileName     = "daemon.pid"
	logFileName     = "daemon.log"
	dirPermissions  = 0o700
	filePermissions = 0o600
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	CloudURL string `envconfig:"CLOUD_URL" default:"https://api.myndhyve.com"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// ConfigDir overrides ~/.myndhyve-cli (used by tests and doctor).
	ConfigDir string `envconfig:"CONFIG_DIR"`

	// AdminPort serves the loopback operations endpoint; 0 disables it.
	AdminPort int `envconfig:"ADMIN_PORT" default:"4790"`

	// IMessageDBPath overrides ~/Library/Messages/chat.db.
	IMessageDBPath string `envconfig:"IMESSAGE_DB_PATH"`

	// Slack adapter tokens (optional; the adapter reports unsupported
	// when either is missing).
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAppToken string `envconfig:"SLACK_APP_TOKEN"`

	// Reconnection tuning.
	ReconnectMaxAttempts int           `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"0"`
	StableReset          time.Duration `envconfig:"STABLE_RESET" default:"60s"`
}

// Load reads environment configuration and resolves the config directory.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.ConfigDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		cfg.ConfigDir = filepath.Join(home, configDirName)
	}
	return &cfg, nil
}

// SlackEnabled reports whether both Slack tokens are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// File path helpers, all inside the config directory.
func (c *Config) ConfigFile() string      { return filepath.Join(c.ConfigDir, configFileName) }
func (c *Config) CredentialsFile() string { return filepath.Join(c.ConfigDir, credsFileName) }
func (c *Config) PIDFile() string         { return filepath.Join(c.ConfigDir, pidFileName) }
func (c *Config) LogFile() string         { return filepath.Join(c.ConfigDir, logFileName) }

// EnsureDir creates the config directory with owner-only permissions.
func (c *Config) EnsureDir() error {
	return os.MkdirAll(c.ConfigDir, dirPermissions)
}

// DeviceToken is the bearer credential the agent presents on every control
// call, together with the cloud-assigned loop intervals.
type DeviceToken struct {
	Token                   string    `json:"token"`
	ExpiresAt               time.Time `json:"expiresAt"`
	HeartbeatIntervalSec    int       `json:"heartbeatIntervalSeconds"`
	OutboundPollIntervalSec int       `json:"outboundPollIntervalSeconds"`
}

// Valid reports whether the token exists and has not expired. An expired
// token is treated as absent; only a new setup run can replace it.
func (t *DeviceToken) Valid(now time.Time) bool {
	if t == nil || t.Token == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt)
}

// RelayConfig is the persisted relay state in config.json. Exactly one
// (relayId, deviceToken) pair is active per file.
type RelayConfig struct {
	Channel       string       `json:"channel"`
	RelayID       string       `json:"relayId"`
	Label         string       `json:"label,omitempty"`
	DeviceToken   *DeviceToken `json:"deviceToken,omitempty"`
	ActiveProject string       `json:"activeProject,omitempty"`
}

// Validate checks the persisted schema: a known channel tag and a relay id
// whenever a registration is present.
func (rc *RelayConfig) Validate() error {
	if rc.Channel == "" && rc.RelayID == "" {
		return nil
	}
	if _, err := channel.Parse(rc.Channel); err != nil {
		return fmt.Errorf("config.json: %w", err)
	}
	if rc.RelayID == "" {
		return fmt.Errorf("config.json: channel set but relayId missing")
	}
	return nil
}

// Configured reports whether the relay can start: registration persisted
// and a live device token.
func (rc *RelayConfig) Configured() bool {
	return rc != nil && rc.Channel != "" && rc.RelayID != "" && rc.DeviceToken.Valid(time.Now())
}

// LoadRelay reads config.json. A missing file yields an empty RelayConfig.
func (c *Config) LoadRelay() (*RelayConfig, error) {
	data, err := os.ReadFile(c.ConfigFile())
	if os.IsNotExist(err) {
		return &RelayConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.ConfigFile(), err)
	}
	var rc RelayConfig
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", c.ConfigFile(), err)
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return &rc, nil
}

// SaveRelay writes config.json atomically with owner-only permissions.
func (c *Config) SaveRelay(rc *RelayConfig) error {
	if err := rc.Validate(); err != nil {
		return err
	}
	if err := c.EnsureDir(); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	tmp := c.ConfigFile() + ".tmp"
	if err := os.WriteFile(tmp, data, filePermissions); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp, c.ConfigFile()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
