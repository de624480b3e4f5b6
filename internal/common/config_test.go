package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "1s", cfg.Retry.BaseDelay)
	assert.Equal(t, "60s", cfg.Retry.MaxDelay)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, "1s", cfg.Queue.PollInterval)
	assert.Equal(t, "30s", cfg.Scraper.Timeout)
	assert.Equal(t, "30s", cfg.WebSocket.HeartbeatInterval)
	assert.Equal(t, 256, cfg.WebSocket.BufferSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestLoadFromFile_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "colligo.toml")

	content := `
environment = "production"

[server]
port = 9090
host = "127.0.0.1"

[retry]
max_attempts = 5
base_delay = "2s"

[queue]
workers = 8

[scraper]
timeout = "45s"
browser_wait = "5s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "2s", cfg.Retry.BaseDelay)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, "45s", cfg.Scraper.Timeout)
	assert.Equal(t, "5s", cfg.Scraper.BrowserWait)

	// Values absent from the file keep their defaults
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, "60s", cfg.Retry.MaxDelay)
}

func TestLoadFromFile_MissingFileFails(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadFromFile_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadFromFile_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport ="), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("COLLIGO_SERVER_PORT", "7777")
	t.Setenv("COLLIGO_RETRY_MAX_ATTEMPTS", "10")
	t.Setenv("COLLIGO_RETRY_BASE_DELAY", "500ms")
	t.Setenv("COLLIGO_QUEUE_WORKERS", "2")
	t.Setenv("COLLIGO_SCRAPER_TIMEOUT", "10s")
	t.Setenv("COLLIGO_LOG_LEVEL", "debug")
	t.Setenv("COLLIGO_LOG_OUTPUT", "stdout, file")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Retry.MaxAttempts)
	assert.Equal(t, "500ms", cfg.Retry.BaseDelay)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, "10s", cfg.Scraper.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"stdout", "file"}, cfg.Logging.Output)
}

func TestApplyEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("COLLIGO_SERVER_PORT", "not-a-number")
	t.Setenv("COLLIGO_RETRY_BASE_DELAY", "not-a-duration")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "1s", cfg.Retry.BaseDelay)
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()
	ApplyFlagOverrides(cfg, 9000, "localhost")

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)

	// Zero values leave the config untouched
	ApplyFlagOverrides(cfg, 0, "")
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseDurationOr("5s", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("garbage", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("", time.Minute))
}

func TestIsProduction(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.False(t, cfg.IsProduction())

	cfg.Environment = "production"
	assert.True(t, cfg.IsProduction())

	cfg.Environment = "PRODUCTION"
	assert.True(t, cfg.IsProduction())
}
