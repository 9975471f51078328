package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every search path at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Chdir(dir)
	return dir
}

func newTestLoader() *Loader { return NewLoaderWithViper(viper.New()) }

func TestLoad_NoConfigFile(t *testing.T) {
	isolate(t)
	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 200*time.Millisecond, cfg.Storage.RetryBackoff)
	assert.Equal(t, DefaultConfig().Pipeline.Fill, cfg.Pipeline.Fill)
}

func TestLoad_FindsFileInWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "omr.yaml"), []byte("log_level: debug\n"), 0o600))

	l := newTestLoader()
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "omr.yaml", filepath.Base(l.GetConfigFileUsed()))
}

func TestLoadWithFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := `
log_level: warn
keys_dir: /srv/keys
pipeline:
  classifier:
    kind: none
  fill:
    min_margin: 0.25
server:
  port: 9191
  rate_limit:
    enabled: true
    requests_per_minute: 5
batch:
  include: ["*.png", "*.jpg"]
storage:
  results_file: /tmp/results.jsonl
  retry_backoff: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/srv/keys", cfg.KeysDir)
	assert.Equal(t, "none", cfg.Pipeline.Classifier.Kind)
	assert.InDelta(t, 0.25, cfg.Pipeline.Fill.MinMargin, 1e-12)
	assert.InDelta(t, 0.5, cfg.Pipeline.Fill.SelectedThreshold, 1e-12)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.Server.RateLimit.RequestsPerMinute)
	assert.Equal(t, 1000, cfg.Server.RateLimit.RequestsPerHour)
	assert.Equal(t, []string{"*.png", "*.jpg"}, cfg.Batch.Include)
	assert.Equal(t, "/tmp/results.jsonl", cfg.Storage.ResultsFile)
	assert.Equal(t, time.Second, cfg.Storage.RetryBackoff)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("OMR_SERVER_PORT", "7070")
	t.Setenv("OMR_LOG_LEVEL", "error")
	t.Setenv("OMR_PIPELINE_FILL_MIN_MARGIN", "0.3")
	t.Setenv("OMR_STORAGE_POSTGRES_DSN", "postgres://omr@db/omr")

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.InDelta(t, 0.3, cfg.Pipeline.Fill.MinMargin, 1e-12)
	assert.Equal(t, "postgres://omr@db/omr", cfg.Storage.PostgresDSN)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	_, err := newTestLoader().LoadWithFile("/does/not/exist.yaml")
	assert.ErrorContains(t, err, "does not exist")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o600))
	_, err = newTestLoader().LoadWithFile(bad)
	assert.ErrorContains(t, err, "error reading config file")

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("log_level: chatty\n"), 0o600))
	_, err = newTestLoader().LoadWithFile(invalid)
	assert.ErrorContains(t, err, "configuration validation failed")

	cfg, err := newTestLoader().LoadWithoutValidation(invalid)
	require.NoError(t, err)
	assert.Equal(t, "chatty", cfg.LogLevel)
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "omr.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path, false))
	assert.ErrorContains(t, GenerateDefaultConfigFile(path, false), "already exists")
	require.NoError(t, GenerateDefaultConfigFile(path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Grading thresholds")
	assert.Contains(t, string(data), "OMR_SERVER_PORT")

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	def := DefaultConfig()
	assert.Equal(t, def.Pipeline.Normalize, cfg.Pipeline.Normalize)
	assert.Equal(t, def.Pipeline.Fill, cfg.Pipeline.Fill)
	assert.Equal(t, def.Server, cfg.Server)
	assert.Equal(t, def.Storage, cfg.Storage)
}

func TestGetConfigSearchPaths(t *testing.T) {
	dir := isolate(t)
	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, filepath.Join(dir, "xdg", "omr"))
	assert.Contains(t, paths, filepath.Join(dir, ".config", "omr"))
	assert.Equal(t, "/etc/omr", paths[len(paths)-1])
}
