package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelsDir(t *testing.T) {
	t.Setenv(EnvModelsDir, "/env/path")
	assert.Equal(t, "/explicit/path", GetModelsDir("/explicit/path"))
	assert.Equal(t, "/env/path", GetModelsDir(""))

	t.Setenv(EnvModelsDir, "")
	dir := GetModelsDir("")
	assert.Equal(t, DefaultModelsDir, filepath.Base(dir))
}

func TestResolveModelPath(t *testing.T) {
	base := t.TempDir()
	assert.Equal(t, filepath.Join(base, FillLogistic), ResolveModelPath(base, FillLogistic))

	organized := filepath.Join(base, TypeClassifier)
	require.NoError(t, os.MkdirAll(organized, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(organized, FillLogistic), []byte("bias: 0\n"), 0o644))
	assert.Equal(t, filepath.Join(organized, FillLogistic), ResolveModelPath(base, FillLogistic))
}

func TestGetClassifierModelPath(t *testing.T) {
	base := t.TempDir()
	p, err := GetClassifierModelPath(base, "onnx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, FillCNN), p)

	_, err = GetClassifierModelPath(base, "svm")
	assert.Error(t, err)
}

func TestValidateModelExists(t *testing.T) {
	base := t.TempDir()
	p := filepath.Join(base, FillCNN)
	assert.Error(t, ValidateModelExists(p))
	require.NoError(t, os.WriteFile(p, []byte{0}, 0o644))
	assert.NoError(t, ValidateModelExists(p))
}

func TestListAvailableModels(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range ListAvailableModels() {
		assert.NotEmpty(t, m.Filename)
		assert.False(t, seen[m.Kind], "duplicate kind %s", m.Kind)
		seen[m.Kind] = true
	}
	assert.True(t, seen["logistic"])
	assert.True(t, seen["onnx"])
}
