package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/layout"
)

func TestLayoutList(t *testing.T) {
	out, err := execute(t, "layout", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Regexp(t, `default\s+A\s+5\s+100\s+4\s+\*`, out)
}

func TestLayoutShowRoundTrip(t *testing.T) {
	out, err := execute(t, "layout", "show")
	require.NoError(t, err)

	l, err := layout.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, layout.DefaultLayout(), l)

	_, err = execute(t, "layout", "show", "missing")
	assert.Error(t, err)
}

func TestLayoutsDirFlag(t *testing.T) {
	dir := t.TempDir()
	l := layout.DefaultLayout()
	l.ID = "short"
	l.Subjects = l.Subjects[:2]
	l.Grid.SubjectsPerRow = 2
	data, err := layout.Marshal(l)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short.yaml"), data, 0o600))

	out, err := execute(t, "--layouts-dir", dir, "layout", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "short")
	assert.Contains(t, out, "default")

	out, err = execute(t, "layout", "validate", filepath.Join(dir, "short.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "ok (short, 40 questions)")
}

func TestLayoutValidate_Invalid(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("id: bad\nquestions_per_subject: 0\n"), 0o600))

	out, err := execute(t, "layout", "validate", bad)
	require.Error(t, err)
	assert.Contains(t, out, "INVALID")
}
