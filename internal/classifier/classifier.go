// Package classifier provides the secondary fill estimators consulted for
// ambiguous cells: a logistic model over cell features and an ONNX network
// over the cell patch.
package classifier

import (
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/omr/internal/fill"
	"github.com/MeKo-Tech/omr/internal/models"
	"github.com/MeKo-Tech/omr/internal/onnx"
)

// Classifier kinds.
const (
	KindNone     = "none"
	KindLogistic = "logistic"
	KindONNX     = "onnx"
)

// Config selects and locates the secondary classifier.
type Config struct {
	Kind       string         `mapstructure:"kind" yaml:"kind" json:"kind"`
	ModelPath  string         `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	ModelsDir  string         `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	NumThreads int            `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	GPU        onnx.GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// DefaultConfig uses the built-in logistic coefficients.
func DefaultConfig() Config {
	return Config{Kind: KindLogistic, GPU: onnx.DefaultGPUConfig()}
}

// Estimator is a secondary fill estimator holding external resources.
type Estimator interface {
	fill.FillEstimator
	Kind() string
	Close() error
}

// New builds the configured classifier. It returns a nil Estimator for
// KindNone, and a nil Estimator with an error when the model cannot be
// loaded; callers keep grading with fused scores in both cases.
func New(cfg Config) (Estimator, error) {
	switch cfg.Kind {
	case "", KindNone:
		return nil, nil
	case KindLogistic:
		path := cfg.ModelPath
		if path == "" {
			p, _ := models.GetClassifierModelPath(cfg.ModelsDir, KindLogistic)
			if models.ValidateModelExists(p) != nil {
				slog.Debug("Using built-in logistic coefficients")
				return DefaultLogistic(), nil
			}
			path = p
		}
		m, err := LoadLogistic(path)
		if err != nil {
			return nil, err
		}
		return m, nil
	case KindONNX:
		if cfg.ModelPath == "" {
			p, err := models.GetClassifierModelPath(cfg.ModelsDir, KindONNX)
			if err != nil {
				return nil, err
			}
			cfg.ModelPath = p
		}
		if err := models.ValidateModelExists(cfg.ModelPath); err != nil {
			return nil, err
		}
		if err := onnx.ValidateGPUConfig(cfg.GPU); err != nil {
			return nil, err
		}
		m, err := NewONNXModel(cfg)
		if err != nil {
			return nil, fmt.Errorf("onnx init: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown classifier kind %q", cfg.Kind)
	}
}
