// Package models resolves the on-disk location of classifier model files.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	FillLogistic = "fill_logistic.yaml"
	FillCNN      = "fill_cnn.onnx"
)

// TypeClassifier is the sub-directory holding cell classifiers.
const TypeClassifier = "classifier"

// DefaultModelsDir is relative to the project root.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "OMR_MODELS_DIR"

// ModelInfo describes a known model file.
type ModelInfo struct {
	Name        string
	Kind        string
	Description string
	Filename    string
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root (go.mod not found)")
		}
		dir = parent
	}
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. environment variable, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if env := os.Getenv(EnvModelsDir); env != "" {
		return env
	}
	if root, err := findProjectRoot(); err == nil {
		return filepath.Join(root, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers modelsDir/classifier/filename and falls back to
// a flat modelsDir/filename.
func ResolveModelPath(modelsDir, filename string) string {
	base := GetModelsDir(modelsDir)
	organized := filepath.Join(base, TypeClassifier, filename)
	if _, err := os.Stat(organized); err == nil {
		return organized
	}
	return filepath.Join(base, filename)
}

// GetClassifierModelPath returns the model path for a classifier kind
// ("logistic" or "onnx").
func GetClassifierModelPath(modelsDir, kind string) (string, error) {
	for _, m := range ListAvailableModels() {
		if m.Kind == kind {
			return ResolveModelPath(modelsDir, m.Filename), nil
		}
	}
	return "", fmt.Errorf("no model file for classifier kind %q", kind)
}

// ValidateModelExists checks that a model file exists.
func ValidateModelExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", path)
	}
	return nil
}

// ListAvailableModels lists the model files the classifier understands.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "fill-logistic",
			Kind:        "logistic",
			Description: "Logistic regression over cell intensity features",
			Filename:    FillLogistic,
		},
		{
			Name:        "fill-cnn",
			Kind:        "onnx",
			Description: "Small CNN scoring a resized cell patch",
			Filename:    FillCNN,
		},
	}
}
