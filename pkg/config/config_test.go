package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	customConfigPath := filepath.Join(tempDir, "custom", "path", "config.toml")

	require.NoError(t, Init(customConfigPath))
	assert.Equal(t, filepath.Join(tempDir, "custom", "path"), GetConfigDir())
	assert.Equal(t, filepath.Join(tempDir, "custom", "path", "credentials"), GetCredentialsPath())

	_, err := os.Stat(GetConfigDir())
	assert.NoError(t, err)
}

func TestDefaults(t *testing.T) {
	require.NoError(t, Init(filepath.Join(t.TempDir(), "config.toml")))

	s := Load()
	assert.Equal(t, 30*time.Second, s.Timeout)
	assert.Equal(t, 30*time.Second, s.HeartbeatInterval)
	assert.Equal(t, 24*time.Hour, s.CacheMaxAge)
	assert.Equal(t, 1000, s.CacheCapacity)
	assert.Equal(t, 30*time.Second, s.PollInterval)
	assert.Equal(t, 300*time.Millisecond, s.DebounceQuiet)
	assert.Equal(t, "info", s.LogLevel)
	assert.False(t, s.TelemetryEnabled)
	assert.Empty(t, s.MetricsAddr)
}

func TestUserConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
base_url = "https://sync.example.test"

[cache]
capacity = 50
`), 0600))

	require.NoError(t, Init(path))
	s := Load()
	assert.Equal(t, "https://sync.example.test", s.BaseURL)
	assert.Equal(t, 50, s.CacheCapacity)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SIDECHAIN_METRICS_ADDR", ":9464")
	require.NoError(t, Init(filepath.Join(t.TempDir(), "config.toml")))

	assert.Equal(t, ":9464", Load().MetricsAddr)
}

func TestSetStringWritesUserConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Init(path))

	require.NoError(t, SetString("api.anon_key", "anon"))
	require.NoError(t, Init(path))
	assert.Equal(t, "anon", GetString("api.anon_key"))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}
