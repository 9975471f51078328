// Package config loads and validates the omr configuration.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/omr/internal/batch"
	"github.com/MeKo-Tech/omr/internal/classifier"
	"github.com/MeKo-Tech/omr/internal/fill"
	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/normalize"
	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/server"
	"github.com/MeKo-Tech/omr/internal/storage"
)

var (
	validLogLevels    = []string{"debug", "info", "warn", "error"}
	validIllumination = []string{string(normalize.IlluminationFlatField), string(normalize.IlluminationCLAHE), string(normalize.IlluminationNone)}
	validClassifiers  = []string{classifier.KindNone, classifier.KindLogistic, classifier.KindONNX}
)

// DefaultConfig returns a configuration with the stage defaults.
func DefaultConfig() Config {
	p := pipeline.DefaultConfig()
	srv := server.DefaultConfig()
	return Config{
		LogLevel:      "info",
		DefaultLayout: layout.DefaultLayoutID,
		Pipeline: PipelineConfig{
			Normalize:              fromNormalize(p.Normalize),
			Fill:                   fromFill(p.Fill),
			Classifier:             p.Classifier,
			AspectTolerance:        p.AspectTolerance,
			LowConfidenceThreshold: p.LowConfidenceThreshold,
			DetectVersion:          p.DetectVersion,
			MaxWorkers:             p.Parallel.MaxWorkers,
		},
		Output: OutputConfig{Format: "text"},
		Server: ServerConfig{
			Host:            srv.Host,
			Port:            srv.Port,
			CORSOrigin:      srv.CORSOrigin,
			MaxUploadMB:     int(srv.MaxUploadMB),
			TimeoutSec:      srv.TimeoutSec,
			ShutdownTimeout: srv.ShutdownTimeout,
			OverlayEnabled:  srv.OverlayEnabled,
			MaxBatchSheets:  srv.MaxBatchSheets,
			RateLimit: server.RateLimitConfig{
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
			},
		},
		Batch: BatchConfig{
			Workers:         p.Parallel.MaxWorkers,
			SheetTimeoutSec: 30,
			Recursive:       true,
		},
		Storage: storage.DefaultConfig(),
	}
}

func fromNormalize(n normalize.Config) NormalizeConfig {
	return NormalizeConfig{
		WorkingSide:     n.WorkingSide,
		DetectionSide:   n.DetectionSide,
		DenoiseRadius:   n.DenoiseRadius,
		MinContrast:     n.MinContrast,
		MinAreaRatio:    n.MinAreaRatio,
		AreaTieRatio:    n.AreaTieRatio,
		MinSolidity:     n.MinSolidity,
		CanonicalHeight: n.CanonicalHeight,
		AspectTolerance: n.AspectTolerance,
		Illumination:    string(n.Illumination),
		CLAHETiles:      n.CLAHETiles,
		CLAHEClip:       n.CLAHEClip,
		MarkerSearch:    n.MarkerSearch,
		MinMarkers:      n.MinMarkers,
	}
}

func fromFill(f fill.Config) FillConfig {
	return FillConfig{
		Weights: WeightsConfig{
			Global:   f.Weights.Global,
			Adaptive: f.Weights.Adaptive,
			Deficit:  f.Weights.Deficit,
			Edge:     f.Weights.Edge,
		},
		SelectedThreshold: f.SelectedThreshold,
		MinMargin:         f.MinMargin,
		AmbiguityLow:      f.AmbiguityLow,
		AmbiguityHigh:     f.AmbiguityHigh,
		MaxSpread:         f.MaxSpread,
		AmbiguityPenalty:  f.AmbiguityPenalty,
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(validLogLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", ")))
	}
	if c.Output.Format != "" && !slices.Contains(batch.Formats, c.Output.Format) {
		errs = append(errs, fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(batch.Formats, ", ")))
	}
	if !slices.Contains(validIllumination, c.Pipeline.Normalize.Illumination) {
		errs = append(errs, fmt.Errorf("invalid illumination method: %s (must be one of: %s)", c.Pipeline.Normalize.Illumination, strings.Join(validIllumination, ", ")))
	}
	if !slices.Contains(validClassifiers, c.Pipeline.Classifier.Kind) {
		errs = append(errs, fmt.Errorf("invalid classifier kind: %s (must be one of: %s)", c.Pipeline.Classifier.Kind, strings.Join(validClassifiers, ", ")))
	}
	if err := pipeline.NewBuilderFromConfig(c.ToPipelineConfig()).Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB))
	}
	if c.Server.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec))
	}
	if c.Server.MaxBatchSheets <= 0 {
		errs = append(errs, fmt.Errorf("invalid max batch sheets: %d (must be positive)", c.Server.MaxBatchSheets))
	}
	if c.Batch.Workers < 0 {
		errs = append(errs, fmt.Errorf("invalid batch workers: %d (must not be negative)", c.Batch.Workers))
	}
	if c.Batch.SheetTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("invalid sheet timeout: %d (must not be negative)", c.Batch.SheetTimeoutSec))
	}
	if c.Storage.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("invalid storage retry attempts: %d (must be at least 1)", c.Storage.RetryAttempts))
	}
	if s3 := c.Storage.S3; (s3.AccessKeyID == "") != (s3.SecretAccessKey == "") {
		errs = append(errs, errors.New("storage.s3 access_key_id and secret_access_key must be set together"))
	}
	return errors.Join(errs...)
}

// ToPipelineConfig converts to the pipeline configuration.
func (c *Config) ToPipelineConfig() pipeline.Config {
	p := pipeline.DefaultConfig()
	p.LayoutsDir = c.LayoutsDir
	if c.DefaultLayout != "" {
		p.DefaultLayout = c.DefaultLayout
	}
	p.KeysDir = c.KeysDir

	n := c.Pipeline.Normalize
	p.Normalize.WorkingSide = n.WorkingSide
	p.Normalize.DetectionSide = n.DetectionSide
	p.Normalize.DenoiseRadius = n.DenoiseRadius
	p.Normalize.MinContrast = n.MinContrast
	p.Normalize.MinAreaRatio = n.MinAreaRatio
	p.Normalize.AreaTieRatio = n.AreaTieRatio
	p.Normalize.MinSolidity = n.MinSolidity
	p.Normalize.CanonicalHeight = n.CanonicalHeight
	p.Normalize.AspectTolerance = n.AspectTolerance
	p.Normalize.Illumination = normalize.IlluminationMethod(n.Illumination)
	p.Normalize.CLAHETiles = n.CLAHETiles
	p.Normalize.CLAHEClip = n.CLAHEClip
	p.Normalize.MarkerSearch = n.MarkerSearch
	p.Normalize.MinMarkers = n.MinMarkers

	f := c.Pipeline.Fill
	p.Fill.Weights = fill.Weights{Global: f.Weights.Global, Adaptive: f.Weights.Adaptive, Deficit: f.Weights.Deficit, Edge: f.Weights.Edge}
	p.Fill.SelectedThreshold = f.SelectedThreshold
	p.Fill.MinMargin = f.MinMargin
	p.Fill.AmbiguityLow = f.AmbiguityLow
	p.Fill.AmbiguityHigh = f.AmbiguityHigh
	p.Fill.MaxSpread = f.MaxSpread
	p.Fill.AmbiguityPenalty = f.AmbiguityPenalty

	p.Classifier = c.Pipeline.Classifier
	p.AspectTolerance = c.Pipeline.AspectTolerance
	p.LowConfidenceThreshold = c.Pipeline.LowConfidenceThreshold
	p.DetectVersion = c.Pipeline.DetectVersion
	p.Parallel.MaxWorkers = c.Pipeline.MaxWorkers
	return p
}

// ToBatchConfig converts to the batch configuration. Per-invocation
// settings such as the run id are left to the caller.
func (c *Config) ToBatchConfig() *batch.Config {
	b := batch.DefaultConfig()
	b.Pipeline = c.ToPipelineConfig()
	b.Layout = c.DefaultLayout
	if c.Output.Format != "" {
		b.Format = c.Output.Format
	}
	b.OutputFile = c.Output.File
	b.OverlayDir = c.Output.OverlayDir
	if c.Batch.Workers > 0 {
		b.Workers = c.Batch.Workers
	}
	b.SheetTimeout = time.Duration(c.Batch.SheetTimeoutSec) * time.Second
	b.Recursive = c.Batch.Recursive
	b.IncludePatterns = c.Batch.Include
	b.ExcludePatterns = c.Batch.Exclude
	b.PDFPassword = c.Batch.PDFPassword
	b.Storage = c.Storage
	return b
}

// ToServerConfig converts to the server configuration.
func (c *Config) ToServerConfig() server.Config {
	return server.Config{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		CORSOrigin:      c.Server.CORSOrigin,
		MaxUploadMB:     int64(c.Server.MaxUploadMB),
		TimeoutSec:      c.Server.TimeoutSec,
		OverlayEnabled:  c.Server.OverlayEnabled,
		MaxBatchSheets:  c.Server.MaxBatchSheets,
		Workers:         c.Pipeline.MaxWorkers,
		PipelineConfig:  c.ToPipelineConfig(),
		RateLimit:       c.Server.RateLimit,
		Storage:         c.Storage,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}
}
