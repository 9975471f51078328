package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInit(t *testing.T) {
	file := filepath.Join(t.TempDir(), "omr.yaml")

	out, err := execute(t, "config", "init", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration written to")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "OMR_SERVER_PORT")

	_, err = execute(t, "config", "init", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "config", "init", file, "--force")
	require.NoError(t, err)

	out, err = execute(t, "--config", file, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, file)
}

func TestConfigShow_AppliesFlagsAndEnv(t *testing.T) {
	t.Setenv("OMR_SERVER_PORT", "9191")
	out, err := execute(t, "--log-level", "warn", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "log_level: warn")
	assert.Contains(t, out, "port: 9191")
}

func TestConfigPath_Defaults(t *testing.T) {
	out, err := execute(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, "none, using defaults")
	assert.Contains(t, out, "/etc/omr")
}
