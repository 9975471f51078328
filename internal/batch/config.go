package batch

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/storage"
)

// Formats accepted by FormatResults.
var Formats = []string{"text", "json", "jsonl", "csv"}

// Config holds all configuration for batch grading.
type Config struct {
	// Grading
	Pipeline pipeline.Config
	Layout   string // layout id for every sheet; empty uses the default
	Version  string // answer key version for every sheet; empty detects it

	// PDF input
	PageRange   string
	PDFPassword string

	// Output
	Format     string
	OutputFile string
	OverlayDir string

	// Parallel processing
	Workers      int
	SheetTimeout time.Duration

	// File discovery
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Progress
	ShowProgress     bool
	Quiet            bool
	ShowStats        bool
	ProgressInterval time.Duration

	// Result sinks
	Storage storage.Config
	RunID   string
}

// DefaultConfig returns batch defaults: text output, one worker per CPU and
// a 30 second limit per sheet.
func DefaultConfig() *Config {
	return &Config{
		Pipeline:         pipeline.DefaultConfig(),
		Format:           "text",
		Workers:          pipeline.DefaultParallelConfig().MaxWorkers,
		SheetTimeout:     30 * time.Second,
		Recursive:        true,
		ShowProgress:     true,
		ProgressInterval: 100 * time.Millisecond,
		Storage:          storage.DefaultConfig(),
	}
}

// Validate checks the batch settings.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(Formats, c.Format) {
		errs = append(errs, fmt.Errorf("unsupported format %q (want one of %v)", c.Format, Formats))
	}
	if c.Workers < 0 {
		errs = append(errs, errors.New("workers must be >= 0"))
	}
	if c.SheetTimeout < 0 {
		errs = append(errs, errors.New("sheet timeout must be >= 0"))
	}
	if c.Storage.RetryAttempts < 0 {
		errs = append(errs, errors.New("retry attempts must be >= 0"))
	}
	return errors.Join(errs...)
}
