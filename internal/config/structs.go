//nolint:lll
package config

import (
	"github.com/MeKo-Tech/omr/internal/classifier"
	"github.com/MeKo-Tech/omr/internal/server"
	"github.com/MeKo-Tech/omr/internal/storage"
)

// Config is the complete configuration of the omr application. It covers
// every command (grade, batch, serve) and is loaded from configuration
// files, environment variables and command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Layouts and answer keys
	LayoutsDir    string `mapstructure:"layouts_dir" yaml:"layouts_dir" json:"layouts_dir"`
	DefaultLayout string `mapstructure:"default_layout" yaml:"default_layout" json:"default_layout"`
	KeysDir       string `mapstructure:"keys_dir" yaml:"keys_dir" json:"keys_dir"`

	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output" json:"output"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Batch    BatchConfig    `mapstructure:"batch" yaml:"batch" json:"batch"`
	Storage  storage.Config `mapstructure:"storage" yaml:"storage" json:"storage"`
}

// PipelineConfig holds the grading thresholds.
type PipelineConfig struct {
	Normalize              NormalizeConfig   `mapstructure:"normalize" yaml:"normalize" json:"normalize"`
	Fill                   FillConfig        `mapstructure:"fill" yaml:"fill" json:"fill"`
	Classifier             classifier.Config `mapstructure:"classifier" yaml:"classifier" json:"classifier"`
	AspectTolerance        float64           `mapstructure:"aspect_tolerance" yaml:"aspect_tolerance" json:"aspect_tolerance"`
	LowConfidenceThreshold float64           `mapstructure:"low_confidence_threshold" yaml:"low_confidence_threshold" json:"low_confidence_threshold"`
	DetectVersion          bool              `mapstructure:"detect_version" yaml:"detect_version" json:"detect_version"`
	MaxWorkers             int               `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
}

// NormalizeConfig holds sheet detection and rectification settings.
type NormalizeConfig struct {
	WorkingSide     int     `mapstructure:"working_side" yaml:"working_side" json:"working_side"`
	DetectionSide   int     `mapstructure:"detection_side" yaml:"detection_side" json:"detection_side"`
	DenoiseRadius   float64 `mapstructure:"denoise_radius" yaml:"denoise_radius" json:"denoise_radius"`
	MinContrast     int     `mapstructure:"min_contrast" yaml:"min_contrast" json:"min_contrast"`
	MinAreaRatio    float64 `mapstructure:"min_area_ratio" yaml:"min_area_ratio" json:"min_area_ratio"`
	AreaTieRatio    float64 `mapstructure:"area_tie_ratio" yaml:"area_tie_ratio" json:"area_tie_ratio"`
	MinSolidity     float64 `mapstructure:"min_solidity" yaml:"min_solidity" json:"min_solidity"`
	CanonicalHeight int     `mapstructure:"canonical_height" yaml:"canonical_height" json:"canonical_height"`
	AspectTolerance float64 `mapstructure:"aspect_tolerance" yaml:"aspect_tolerance" json:"aspect_tolerance"`
	Illumination    string  `mapstructure:"illumination" yaml:"illumination" json:"illumination"`
	CLAHETiles      int     `mapstructure:"clahe_tiles" yaml:"clahe_tiles" json:"clahe_tiles"`
	CLAHEClip       float64 `mapstructure:"clahe_clip" yaml:"clahe_clip" json:"clahe_clip"`
	MarkerSearch    float64 `mapstructure:"marker_search" yaml:"marker_search" json:"marker_search"`
	MinMarkers      int     `mapstructure:"min_markers" yaml:"min_markers" json:"min_markers"`
}

// FillConfig holds fill estimation and answer resolution settings.
type FillConfig struct {
	Weights           WeightsConfig `mapstructure:"weights" yaml:"weights" json:"weights"`
	SelectedThreshold float64       `mapstructure:"selected_threshold" yaml:"selected_threshold" json:"selected_threshold"`
	MinMargin         float64       `mapstructure:"min_margin" yaml:"min_margin" json:"min_margin"`
	AmbiguityLow      float64       `mapstructure:"ambiguity_low" yaml:"ambiguity_low" json:"ambiguity_low"`
	AmbiguityHigh     float64       `mapstructure:"ambiguity_high" yaml:"ambiguity_high" json:"ambiguity_high"`
	MaxSpread         float64       `mapstructure:"max_spread" yaml:"max_spread" json:"max_spread"`
	AmbiguityPenalty  float64       `mapstructure:"ambiguity_penalty" yaml:"ambiguity_penalty" json:"ambiguity_penalty"`
}

// WeightsConfig are the estimator fusion weights.
type WeightsConfig struct {
	Global   float64 `mapstructure:"global" yaml:"global" json:"global"`
	Adaptive float64 `mapstructure:"adaptive" yaml:"adaptive" json:"adaptive"`
	Deficit  float64 `mapstructure:"deficit" yaml:"deficit" json:"deficit"`
	Edge     float64 `mapstructure:"edge" yaml:"edge" json:"edge"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format     string `mapstructure:"format" yaml:"format" json:"format"`
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	OverlayDir string `mapstructure:"overlay_dir" yaml:"overlay_dir" json:"overlay_dir"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string                 `mapstructure:"host" yaml:"host" json:"host"`
	Port            int                    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string                 `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int                    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int                    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int                    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	OverlayEnabled  bool                   `mapstructure:"overlay_enabled" yaml:"overlay_enabled" json:"overlay_enabled"`
	MaxBatchSheets  int                    `mapstructure:"max_batch_sheets" yaml:"max_batch_sheets" json:"max_batch_sheets"`
	RateLimit       server.RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers         int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	SheetTimeoutSec int      `mapstructure:"sheet_timeout_sec" yaml:"sheet_timeout_sec" json:"sheet_timeout_sec"`
	Recursive       bool     `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	Include         []string `mapstructure:"include" yaml:"include" json:"include"`
	Exclude         []string `mapstructure:"exclude" yaml:"exclude" json:"exclude"`
	PDFPassword     string   `mapstructure:"pdf_password" yaml:"pdf_password" json:"-"`
}
