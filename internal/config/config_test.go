package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("MYNDHYVE_CONFIG_DIR", t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, "https://api.myndhyve.com", cfg.CloudURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4790, cfg.AdminPort)
	assert.Equal(t, 60*time.Second, cfg.StableReset)
	assert.False(t, cfg.SlackEnabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MYNDHYVE_CLOUD_URL", "http://localhost:9000")
	t.Setenv("MYNDHYVE_LOG_LEVEL", "debug")
	t.Setenv("MYNDHYVE_STABLE_RESET", "90s")
	cfg := testConfig(t)
	assert.Equal(t, "http://localhost:9000", cfg.CloudURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 90*time.Second, cfg.StableReset)
}

func TestFilePaths(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, filepath.Join(cfg.ConfigDir, "config.json"), cfg.ConfigFile())
	assert.Equal(t, filepath.Join(cfg.ConfigDir, "credentials.json"), cfg.CredentialsFile())
	assert.Equal(t, filepath.Join(cfg.ConfigDir, "daemon.pid"), cfg.PIDFile())
	assert.Equal(t, filepath.Join(cfg.ConfigDir, "daemon.log"), cfg.LogFile())
}

func TestLoadRelayMissingFile(t *testing.T) {
	cfg := testConfig(t)
	rc, err := cfg.LoadRelay()
	require.NoError(t, err)
	assert.False(t, rc.Configured())
}

func TestSaveAndLoadRelay(t *testing.T) {
	cfg := testConfig(t)
	rc := &RelayConfig{
		Channel: "imessage",
		RelayID: "r-1",
		Label:   "my mac",
		DeviceToken: &DeviceToken{
			Token:                   "tok-1",
			ExpiresAt:               time.Now().Add(24 * time.Hour).UTC(),
			HeartbeatIntervalSec:    30,
			OutboundPollIntervalSec: 5,
		},
	}
	require.NoError(t, cfg.SaveRelay(rc))

	info, err := os.Stat(cfg.ConfigFile())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := cfg.LoadRelay()
	require.NoError(t, err)
	assert.Equal(t, "r-1", got.RelayID)
	assert.Equal(t, "tok-1", got.DeviceToken.Token)
	assert.True(t, got.Configured())
}

func TestLoadRelayRejectsBadJSON(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.EnsureDir())
	require.NoError(t, os.WriteFile(cfg.ConfigFile(), []byte("{not json"), 0o600))

	_, err := cfg.LoadRelay()
	assert.Error(t, err)
}

func TestLoadRelayRejectsUnknownChannel(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.EnsureDir())
	require.NoError(t, os.WriteFile(cfg.ConfigFile(),
		[]byte(`{"channel":"telegram","relayId":"r-1"}`), 0o600))

	_, err := cfg.LoadRelay()
	assert.Error(t, err)
}

func TestDeviceTokenValid(t *testing.T) {
	now := time.Now()

	var nilToken *DeviceToken
	assert.False(t, nilToken.Valid(now))
	assert.False(t, (&DeviceToken{}).Valid(now))
	assert.False(t, (&DeviceToken{Token: "t", ExpiresAt: now.Add(-time.Minute)}).Valid(now),
		"expired token is treated as absent")
	assert.True(t, (&DeviceToken{Token: "t", ExpiresAt: now.Add(time.Minute)}).Valid(now))
	assert.True(t, (&DeviceToken{Token: "t"}).Valid(now), "token without expiry never goes stale locally")
}

func TestConfiguredNeedsLiveToken(t *testing.T) {
	rc := &RelayConfig{Channel: "imessage", RelayID: "r-1"}
	assert.False(t, rc.Configured())

	rc.DeviceToken = &DeviceToken{Token: "t", ExpiresAt: time.Now().Add(-time.Hour)}
	assert.False(t, rc.Configured())

	rc.DeviceToken.ExpiresAt = time.Now().Add(time.Hour)
	assert.True(t, rc.Configured())
}
