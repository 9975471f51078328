// Package pipeline grades answer sheets: it chains normalization, grid
// mapping, fill classification and scoring, and runs that chain over many
// sheets with a bounded worker pool.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/omr/internal/answerkey"
	"github.com/MeKo-Tech/omr/internal/barcode"
	"github.com/MeKo-Tech/omr/internal/classifier"
	"github.com/MeKo-Tech/omr/internal/evaluate"
	"github.com/MeKo-Tech/omr/internal/fill"
	"github.com/MeKo-Tech/omr/internal/grid"
	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/normalize"
)

// Config holds configuration for the grading pipeline and its stages.
type Config struct {
	LayoutsDir    string // directory of layout YAML files; empty uses the built-in layout
	DefaultLayout string // layout used when a request names none
	KeysDir       string // directory of answer keys; empty uses the demo key of each layout

	Normalize       normalize.Config
	AspectTolerance float64 // grid mapper tolerance; layout-level tolerance wins
	Fill            fill.Config
	Classifier      classifier.Config

	LowConfidenceThreshold float64
	DetectVersion          bool // read the version QR code when a request carries no version

	Parallel ParallelConfig
}

// DefaultConfig returns a pipeline config with stage defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLayout:          layout.DefaultLayoutID,
		Normalize:              normalize.DefaultConfig(),
		AspectTolerance:        grid.DefaultAspectTolerance,
		Fill:                   fill.DefaultConfig(),
		Classifier:             classifier.DefaultConfig(),
		LowConfidenceThreshold: evaluate.DefaultLowConfidenceThreshold,
		DetectVersion:          true,
		Parallel:               DefaultParallelConfig(),
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg      Config
	registry *layout.Registry
	keys     *answerkey.Store
	second   fill.FillEstimator
	hasSec   bool
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// NewBuilderFromConfig starts from cfg instead of the defaults.
func NewBuilderFromConfig(cfg Config) *Builder { return &Builder{cfg: cfg} }

// WithLayoutsDir loads layouts from dir.
func (b *Builder) WithLayoutsDir(dir string) *Builder {
	b.cfg.LayoutsDir = dir
	return b
}

// WithDefaultLayout selects the layout used when a request names none.
func (b *Builder) WithDefaultLayout(id string) *Builder {
	if id != "" {
		b.cfg.DefaultLayout = id
	}
	return b
}

// WithKeysDir loads answer keys from dir.
func (b *Builder) WithKeysDir(dir string) *Builder {
	b.cfg.KeysDir = dir
	return b
}

// WithRegistry uses an already loaded layout registry.
func (b *Builder) WithRegistry(r *layout.Registry) *Builder {
	b.registry = r
	return b
}

// WithKeys uses an already loaded answer key store.
func (b *Builder) WithKeys(s *answerkey.Store) *Builder {
	b.keys = s
	return b
}

// WithSecondary replaces the configured classifier with est. A nil est
// disables the secondary classifier.
func (b *Builder) WithSecondary(est fill.FillEstimator) *Builder {
	b.second = est
	b.hasSec = true
	return b
}

// WithClassifier selects the secondary classifier kind and model.
func (b *Builder) WithClassifier(kind, modelPath string) *Builder {
	if kind != "" {
		b.cfg.Classifier.Kind = kind
	}
	if modelPath != "" {
		b.cfg.Classifier.ModelPath = modelPath
	}
	return b
}

// WithThresholds sets the selection threshold and minimum winning margin.
func (b *Builder) WithThresholds(selected, margin float64) *Builder {
	if selected > 0 {
		b.cfg.Fill.SelectedThreshold = selected
	}
	if margin > 0 {
		b.cfg.Fill.MinMargin = margin
	}
	return b
}

// WithAmbiguityBand sets the fused score band routed to the classifier.
func (b *Builder) WithAmbiguityBand(low, high float64) *Builder {
	b.cfg.Fill.AmbiguityLow = low
	b.cfg.Fill.AmbiguityHigh = high
	return b
}

// WithMinAreaRatio sets the minimum sheet contour area relative to the frame.
func (b *Builder) WithMinAreaRatio(r float64) *Builder {
	if r > 0 {
		b.cfg.Normalize.MinAreaRatio = r
	}
	return b
}

// WithIllumination selects the lighting correction.
func (b *Builder) WithIllumination(m normalize.IlluminationMethod) *Builder {
	if m != "" {
		b.cfg.Normalize.Illumination = m
	}
	return b
}

// WithLowConfidenceThreshold sets the overall confidence below which a
// sheet is flagged.
func (b *Builder) WithLowConfidenceThreshold(th float64) *Builder {
	if th > 0 {
		b.cfg.LowConfidenceThreshold = th
	}
	return b
}

// WithVersionDetection toggles reading the version QR code.
func (b *Builder) WithVersionDetection(on bool) *Builder {
	b.cfg.DetectVersion = on
	return b
}

// WithWorkers sets the parallel worker count.
func (b *Builder) WithWorkers(n int) *Builder {
	if n > 0 {
		b.cfg.Parallel.MaxWorkers = n
	}
	return b
}

// WithProgressCallback sets a progress reporter for parallel grading.
func (b *Builder) WithProgressCallback(cb ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = cb
	return b
}

// Config returns a copy of the current configuration.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the configuration without loading anything.
func (b *Builder) Validate() error {
	var errs []error
	if err := b.cfg.Normalize.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("normalize: %w", err))
	}
	if err := b.cfg.Fill.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fill: %w", err))
	}
	if b.cfg.AspectTolerance < 0 || b.cfg.AspectTolerance >= 1 {
		errs = append(errs, fmt.Errorf("aspect tolerance must be in [0,1), got %g", b.cfg.AspectTolerance))
	}
	if b.cfg.LowConfidenceThreshold < 0 || b.cfg.LowConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("low confidence threshold must be in [0,1], got %g", b.cfg.LowConfidenceThreshold))
	}
	if b.cfg.Parallel.MaxWorkers < 0 {
		errs = append(errs, errors.New("max workers must be >= 0"))
	}
	return errors.Join(errs...)
}

// Pipeline grades sheets. All fields are read-only after Build, so one
// Pipeline may serve any number of goroutines.
type Pipeline struct {
	cfg        Config
	Layouts    *layout.Registry
	Keys       *answerkey.Store
	Normalizer *normalize.Normalizer
	Mapper     *grid.Mapper
	Classifier *fill.Classifier
	Evaluator  *evaluate.Evaluator
	Versions   *barcode.VersionReader
	Profiler   *Profiler

	secondary classifier.Estimator
}

// Build loads layouts and keys and initializes every stage. A secondary
// classifier that fails to load is logged and left out.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	reg := b.registry
	if reg == nil {
		var err error
		reg, err = layout.LoadRegistry(b.cfg.LayoutsDir, b.cfg.DefaultLayout)
		if err != nil {
			return nil, fmt.Errorf("load layouts: %w", err)
		}
	}

	keys := b.keys
	if keys == nil {
		var err error
		keys, err = loadKeys(b.cfg.KeysDir, reg)
		if err != nil {
			return nil, err
		}
	}

	norm, err := normalize.New(b.cfg.Normalize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:        b.cfg,
		Layouts:    reg,
		Keys:       keys,
		Normalizer: norm,
		Mapper:     grid.NewMapper(b.cfg.AspectTolerance),
		Evaluator:  evaluate.New(b.cfg.LowConfidenceThreshold),
		Profiler:   &Profiler{},
	}
	if b.cfg.DetectVersion {
		p.Versions = barcode.NewVersionReader()
	}

	second := b.second
	if !b.hasSec {
		est, err := classifier.New(b.cfg.Classifier)
		switch {
		case err != nil:
			slog.Warn("Secondary classifier unavailable, ambiguous cells keep fused scores",
				"kind", b.cfg.Classifier.Kind, "error", err)
		case est != nil:
			p.secondary = est
			second = est
		}
	}

	cls, err := fill.NewClassifier(b.cfg.Fill, second)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	p.Classifier = cls

	slog.Debug("Pipeline built",
		"layouts", reg.IDs(),
		"key_versions", keys.Versions(),
		"secondary", cls.HasSecondary())
	return p, nil
}

func loadKeys(dir string, reg *layout.Registry) (*answerkey.Store, error) {
	if dir != "" {
		s, err := answerkey.LoadStore(dir, reg)
		if err != nil {
			return nil, fmt.Errorf("load answer keys: %w", err)
		}
		return s, nil
	}
	slog.Warn("No answer key directory configured, using demo keys")
	var bound []*answerkey.Key
	seen := map[string]bool{}
	for _, l := range reg.All() {
		if seen[l.Version] {
			continue
		}
		seen[l.Version] = true
		k, err := answerkey.DefaultKey(l).Bind(l)
		if err != nil {
			return nil, fmt.Errorf("demo key for layout %q: %w", l.ID, err)
		}
		bound = append(bound, k)
	}
	return answerkey.NewStore(bound...)
}

// Close releases the secondary classifier.
func (p *Pipeline) Close() error {
	if p.secondary != nil {
		err := p.secondary.Close()
		p.secondary = nil
		return err
	}
	return nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Info returns a map with key pipeline properties.
func (p *Pipeline) Info() map[string]any {
	secondary := map[string]any{"enabled": p.Classifier != nil && p.Classifier.HasSecondary()}
	if p.secondary != nil {
		secondary["kind"] = p.secondary.Kind()
	}
	info := map[string]any{
		"layouts":        p.Layouts.IDs(),
		"default_layout": p.Layouts.DefaultID(),
		"key_versions":   p.Keys.Versions(),
		"version_qr":     p.Versions != nil,
		"classifier":     secondary,
		"thresholds": map[string]any{
			"selected":         p.cfg.Fill.SelectedThreshold,
			"min_margin":       p.cfg.Fill.MinMargin,
			"ambiguity_low":    p.cfg.Fill.AmbiguityLow,
			"ambiguity_high":   p.cfg.Fill.AmbiguityHigh,
			"min_area_ratio":   p.cfg.Normalize.MinAreaRatio,
			"low_confidence":   p.cfg.LowConfidenceThreshold,
			"aspect_tolerance": p.cfg.AspectTolerance,
		},
		"parallel": map[string]any{
			"max_workers":           p.cfg.Parallel.MaxWorkers,
			"has_progress_callback": p.cfg.Parallel.ProgressCallback != nil,
		},
	}
	if p.Profiler != nil {
		info["profile"] = p.Profiler.Snapshot()
	}
	return info
}
