package classifier

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/omr/internal/fill"
)

// LogisticModel scores a cell as sigmoid(bias + weights · features).
type LogisticModel struct {
	Name    string             `yaml:"name" json:"name"`
	Bias    float64            `yaml:"bias" json:"bias"`
	Weights map[string]float64 `yaml:"weights" json:"weights"`

	vec []float64
}

// DefaultLogistic returns hand-tuned default coefficients. They are not
// fitted to data; supply a model file to use trained weights.
func DefaultLogistic() *LogisticModel {
	m := &LogisticModel{
		Name: "builtin-v1",
		Bias: -6,
		Weights: map[string]float64{
			"global":   3,
			"adaptive": 2,
			"deficit":  5,
			"edge":     0.5,
			"midpoint": 2,
			"texture":  -1,
		},
	}
	if err := m.compile(); err != nil {
		panic(err)
	}
	return m
}

// ParseLogistic decodes a YAML model.
func ParseLogistic(data []byte) (*LogisticModel, error) {
	var m LogisticModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse logistic model: %w", err)
	}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadLogistic reads a YAML model file.
func LoadLogistic(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read logistic model: %w", err)
	}
	m, err := ParseLogistic(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (m *LogisticModel) compile() error {
	if len(m.Weights) == 0 {
		return errors.New("logistic model has no weights")
	}
	index := make(map[string]int, len(FeatureNames))
	for i, n := range FeatureNames {
		index[n] = i
	}
	m.vec = make([]float64, len(FeatureNames))
	var errs []error
	for name, w := range m.Weights {
		i, ok := index[name]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown feature %q", name))
			continue
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			errs = append(errs, fmt.Errorf("weight %q is not finite", name))
		}
		m.vec[i] = w
	}
	return errors.Join(errs...)
}

// Kind implements Estimator.
func (m *LogisticModel) Kind() string { return KindLogistic }

// Close implements Estimator.
func (m *LogisticModel) Close() error { return nil }

// Score applies the model to a feature vector.
func (m *LogisticModel) Score(x []float64) float64 {
	z := m.Bias
	for i, w := range m.vec {
		if i < len(x) {
			z += w * x[i]
		}
	}
	return 1 / (1 + math.Exp(-z))
}

// Estimate implements fill.FillEstimator.
func (m *LogisticModel) Estimate(p fill.CellPatch) (float64, error) {
	if m.vec == nil {
		return 0, errors.New("logistic model not compiled")
	}
	return m.Score(Features(p)), nil
}
