package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultDatabaseURL, cfg.Database.URL)
	require.Equal(t, 5*time.Second, cfg.Monitor.PollInterval)
	require.Equal(t, 2*time.Minute, cfg.Monitor.DebounceWindow)
	require.Equal(t, 24*time.Hour, cfg.Monitor.Retention)
	require.Equal(t, 3, cfg.Connect.Attempts)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, 720, cfg.Engine().ReapEvery())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://sentinel:sentinel@db:5432/sentinel?sslmode=disable")
	t.Setenv("SENTINEL_MONITOR_POLL_INTERVAL", "2s")
	t.Setenv("SENTINEL_CONNECT_ATTEMPTS", "7")
	t.Setenv("SENTINEL_LOG_FORMAT", "console")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "postgres://sentinel:sentinel@db:5432/sentinel?sslmode=disable", cfg.Database.URL)
	require.Equal(t, 2*time.Second, cfg.Monitor.PollInterval)
	require.Equal(t, 7, cfg.Connect.Attempts)
	require.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_PrefixedURLWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://fallback/db")
	t.Setenv("SENTINEL_DATABASE_URL", "sqlite:file:primary.sqlite")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "sqlite:file:primary.sqlite", cfg.Database.URL)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	body := []byte(`
monitor:
  debounce_window: 5m
  cleanup_interval: 10m
  poll_interval: 10s
log:
  level: debug
  file: /var/log/sentinel.log
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.Monitor.DebounceWindow)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "/var/log/sentinel.log", cfg.Log.File)
	require.Equal(t, 60, cfg.Engine().ReapEvery())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_RejectsNonPositive(t *testing.T) {
	t.Setenv("SENTINEL_MONITOR_POLL_INTERVAL", "0s")
	t.Setenv("SENTINEL_CONNECT_ATTEMPTS", "0")
	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "monitor.poll_interval")
	require.Contains(t, err.Error(), "connect.attempts")
}
