package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/classifier"
	"github.com/MeKo-Tech/omr/internal/normalize"
	"github.com/MeKo-Tech/omr/internal/pipeline"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Server.MaxUploadMB)
	assert.False(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 30, cfg.Batch.SheetTimeoutSec)
	assert.Equal(t, 3, cfg.Storage.RetryAttempts)
	assert.Equal(t, classifier.KindLogistic, cfg.Pipeline.Classifier.Kind)
	assert.Equal(t, "flatfield", cfg.Pipeline.Normalize.Illumination)
	assert.InDelta(t, 1.0, cfg.Pipeline.Fill.Weights.Global+cfg.Pipeline.Fill.Weights.Adaptive+
		cfg.Pipeline.Fill.Weights.Deficit+cfg.Pipeline.Fill.Weights.Edge, 1e-9)
}

func TestToPipelineConfig_DefaultsRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, pipeline.DefaultConfig(), cfg.ToPipelineConfig())
}

func TestToPipelineConfig_Overrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LayoutsDir = "/layouts"
	cfg.KeysDir = "/keys"
	cfg.DefaultLayout = "mock-exam"
	cfg.Pipeline.Normalize.Illumination = "clahe"
	cfg.Pipeline.Fill.MinMargin = 0.3
	cfg.Pipeline.Classifier.Kind = classifier.KindNone
	cfg.Pipeline.DetectVersion = false
	cfg.Pipeline.MaxWorkers = 3

	p := cfg.ToPipelineConfig()
	assert.Equal(t, "/layouts", p.LayoutsDir)
	assert.Equal(t, "/keys", p.KeysDir)
	assert.Equal(t, "mock-exam", p.DefaultLayout)
	assert.Equal(t, normalize.IlluminationCLAHE, p.Normalize.Illumination)
	assert.InDelta(t, 0.3, p.Fill.MinMargin, 1e-12)
	assert.Equal(t, classifier.KindNone, p.Classifier.Kind)
	assert.False(t, p.DetectVersion)
	assert.Equal(t, 3, p.Parallel.MaxWorkers)
	// settings without a config key keep their defaults
	assert.Equal(t, normalize.DefaultConfig().MaxCorrection, p.Normalize.MaxCorrection)
}

func TestToBatchConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = OutputConfig{Format: "csv", File: "out.csv", OverlayDir: "ov"}
	cfg.Batch.Workers = 6
	cfg.Batch.SheetTimeoutSec = 5
	cfg.Batch.Include = []string{"*.png"}
	cfg.Storage.ResultsFile = "results.jsonl"

	b := cfg.ToBatchConfig()
	require.NoError(t, b.Validate())
	assert.Equal(t, "csv", b.Format)
	assert.Equal(t, "out.csv", b.OutputFile)
	assert.Equal(t, "ov", b.OverlayDir)
	assert.Equal(t, 6, b.Workers)
	assert.Equal(t, 5*time.Second, b.SheetTimeout)
	assert.Equal(t, []string{"*.png"}, b.IncludePatterns)
	assert.Equal(t, "results.jsonl", b.Storage.ResultsFile)
	assert.Equal(t, "default", b.Layout)
}

func TestToServerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 9000
	cfg.Server.MaxUploadMB = 10
	cfg.Server.RateLimit.Enabled = true

	s := cfg.ToServerConfig()
	assert.Equal(t, 9000, s.Port)
	assert.Equal(t, int64(10), s.MaxUploadMB)
	assert.True(t, s.RateLimit.Enabled)
	assert.Equal(t, 60, s.RateLimit.RequestsPerMinute)
	assert.Equal(t, cfg.ToPipelineConfig(), s.PipelineConfig)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"
	cfg.Output.Format = "xml"
	cfg.Server.Port = 0
	cfg.Pipeline.Normalize.Illumination = "sepia"
	cfg.Pipeline.Classifier.Kind = "svm"
	cfg.Pipeline.Fill.Weights.Edge = 0.5
	cfg.Storage.RetryAttempts = 0
	cfg.Storage.S3.AccessKeyID = "AKIA"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"invalid log level: loud",
		"invalid output format: xml",
		"invalid server port: 0",
		"invalid illumination method: sepia",
		"invalid classifier kind: svm",
		"fill weights must sum to 1",
		"retry attempts",
		"secret_access_key",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
