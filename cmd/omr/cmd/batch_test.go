package cmd

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/config"
)

func TestBatchCommandFlags(t *testing.T) {
	for _, name := range []string{"format", "output", "overlay-dir", "workers", "sheet-timeout", "recursive", "include", "exclude", "results-file", "fail-on-error"} {
		assert.NotNil(t, batchCmd.Flags().Lookup(name), name)
	}
}

func TestBatch_CSV(t *testing.T) {
	dir := t.TempDir()
	demoSheetFile(t, dir, "s1.png")
	demoSheetFile(t, dir, "s2.png")
	results := filepath.Join(t.TempDir(), "results.jsonl")

	out, err := execute(t, "batch", dir, "--format", "csv", "--quiet", "--workers", "2", "--results-file", results)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "sheet_id", rows[0][0])
	assert.ElementsMatch(t, []string{"s1", "s2"}, []string{rows[1][0], rows[2][0]})
	for _, r := range rows[1:] {
		assert.Contains(t, []string{"ok", "flagged"}, r[4])
		assert.Equal(t, "100", r[6])
	}

	data, err := os.ReadFile(results)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestBatch_FailOnError(t *testing.T) {
	dir := t.TempDir()
	demoSheetFile(t, dir, "good.png")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.png"), []byte("not a png"), 0o600))

	out, err := execute(t, "batch", dir, "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "FAILED (InvalidInput)")

	_, err = execute(t, "batch", dir, "--quiet", "--fail-on-error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 sheets not graded")
}

func TestBatch_NoInputs(t *testing.T) {
	_, err := execute(t, "batch", t.TempDir(), "--quiet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sheet files found")
}

func TestConfigToBatchConfig_FlagsOverride(t *testing.T) {
	d := config.DefaultConfig()
	cfg := &d
	require.NoError(t, batchCmd.Flags().Set("workers", "3"))
	require.NoError(t, batchCmd.Flags().Set("format", "jsonl"))
	require.NoError(t, batchCmd.Flags().Set("sheet-timeout", "5s"))
	require.NoError(t, batchCmd.Flags().Set("key-version", "B"))
	t.Cleanup(func() { resetFlags(rootCmd) })

	bc := configToBatchConfig(cfg, batchCmd)
	assert.Equal(t, 3, bc.Workers)
	assert.Equal(t, "jsonl", bc.Format)
	assert.Equal(t, 5*time.Second, bc.SheetTimeout)
	assert.Equal(t, "B", bc.Version)
	assert.Equal(t, cfg.Batch.Recursive, bc.Recursive)
	assert.NotEmpty(t, bc.RunID)
}
