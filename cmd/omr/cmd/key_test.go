package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/answerkey"
	"github.com/MeKo-Tech/omr/internal/layout"
)

// writeCSVKey writes the demo key of the default layout as <version>.csv.
func writeCSVKey(t *testing.T, dir, version string) string {
	t.Helper()
	k := answerkey.DefaultKey(layout.DefaultLayout())
	k.Version = version
	path := filepath.Join(dir, version+".csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, answerkey.WriteCSV(f, k))
	return path
}

func TestKeyList_DemoKey(t *testing.T) {
	out, err := execute(t, "key", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "A\tlayout=default\tquestions=100")
}

func TestKeyList_FromKeysDir(t *testing.T) {
	dir := t.TempDir()
	writeCSVKey(t, dir, "B")
	writeCSVKey(t, dir, "C")

	out, err := execute(t, "--keys-dir", dir, "key", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "B\tlayout=default")
	assert.Contains(t, out, "C\tlayout=default")
	assert.NotContains(t, out, "A\t")
}

func TestKeyShow(t *testing.T) {
	out, err := execute(t, "key", "show", "A", "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "Subject,Question,Answer")

	_, err = execute(t, "key", "show", "Q")
	assert.Error(t, err)
}

func TestKeyConvert_CSVToYAML(t *testing.T) {
	dir := t.TempDir()
	in := writeCSVKey(t, dir, "B")
	out := filepath.Join(dir, "B.yaml")

	_, err := execute(t, "key", "convert", in, out)
	require.NoError(t, err)

	l := layout.DefaultLayout()
	k, err := answerkey.Load(out, "", l)
	require.NoError(t, err)
	assert.Equal(t, "B", k.Version)
	bound, err := k.Bind(l)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, bound.Accepted(0, 0))
	assert.Equal(t, []int{1}, bound.Accepted(1, 5))
}

func TestKeyConvert_ToStdout(t *testing.T) {
	in := writeCSVKey(t, t.TempDir(), "D")
	out, err := execute(t, "key", "convert", in, "-", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": "D"`)
}

func TestKeyValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeCSVKey(t, dir, "B")
	bad := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: X\nsubjects:\n  - name: Chemistry\n    answers: [E]\n"), 0o600))

	out, err := execute(t, "key", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (version B, layout default)")

	out, err = execute(t, "key", "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "broken.yaml: INVALID")
	assert.Contains(t, err.Error(), "1 of 2")
}
