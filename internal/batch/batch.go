// Package batch grades many answer sheets in one run: it discovers inputs,
// grades them in parallel, stores the results and formats reports.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/storage"
)

var progressOutput io.Writer = os.Stderr

// ErrNoInputs is returned when discovery finds no sheet files.
var ErrNoInputs = errors.New("no sheet files found")

// Runner executes batches on a shared pipeline.
type Runner struct {
	Pipeline *pipeline.Pipeline
	Config   *Config
	// OpenS3 resolves s3:// inputs; nil uses the storage settings of Config.
	OpenS3 S3Opener
	// Sink overrides the sinks configured in Config.Storage.
	Sink storage.ResultSink
	// Progress overrides the reporter derived from Config.
	Progress pipeline.ProgressCallback
}

// Result holds the outcome of one batch run.
type Result struct {
	RunID    string                  `json:"run_id"`
	Results  []*pipeline.SheetResult `json:"sheets"`
	Stats    pipeline.ParallelStats  `json:"stats"`
	Duration time.Duration           `json:"duration_ns"`
}

// ProcessBatch builds a pipeline from config and grades the inputs.
func ProcessBatch(ctx context.Context, inputs []string, config *Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	pl, err := buildPipeline(config)
	if err != nil {
		return nil, fmt.Errorf("failed to build grading pipeline: %w", err)
	}
	defer func() {
		if err := pl.Close(); err != nil {
			slog.Warn("Error closing pipeline", "error", err)
		}
	}()
	r := &Runner{Pipeline: pl, Config: config}
	return r.Run(ctx, inputs)
}

// Run grades every sheet found in inputs. Sheet failures are part of the
// result; an error is returned when nothing could be graded at all, when
// the run was canceled or when storing results failed. A canceled run still
// returns the sheets graded so far.
func (r *Runner) Run(ctx context.Context, inputs []string) (*Result, error) {
	cfg := r.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	openS3 := r.OpenS3
	if openS3 == nil {
		openS3 = defaultS3Opener(cfg.Storage.S3)
	}

	found, err := discoverInputs(ctx, inputs, cfg, openS3)
	if err != nil {
		return nil, fmt.Errorf("failed to discover sheet files: %w", err)
	}
	if len(found) == 0 {
		return nil, ErrNoInputs
	}
	jobs := planJobs(ctx, found, cfg)

	runID := cfg.RunID
	if runID == "" {
		runID = NewRunID(time.Now())
	}
	progress := r.Progress
	if progress == nil {
		progress = progressCallback(cfg)
	}

	slog.Info("Batch started", "run_id", runID, "inputs", len(found), "sheets", len(jobs), "workers", cfg.Workers)
	start := time.Now()
	results, stats, runErr := r.Pipeline.GradeParallel(ctx, jobs, pipeline.ParallelConfig{
		MaxWorkers:       cfg.Workers,
		SheetTimeout:     cfg.SheetTimeout,
		ProgressCallback: progress,
	})
	res := &Result{RunID: runID, Results: results, Stats: stats, Duration: time.Since(start)}

	var errs []error
	if runErr != nil {
		errs = append(errs, fmt.Errorf("batch interrupted: %w", runErr))
	}
	if cfg.OverlayDir != "" {
		if err := saveOverlays(results, cfg.OverlayDir); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.store(ctx, cfg, runID, results); err != nil {
		errs = append(errs, fmt.Errorf("store results: %w", err))
	}
	slog.Info("Batch finished", "run_id", runID, "graded", stats.Graded, "failed", stats.Failed,
		"flagged", stats.Flagged, "duration", res.Duration)
	return res, errors.Join(errs...)
}

// store hands results to the sinks. It runs even after cancellation so the
// sheets that were graded are not lost.
func (r *Runner) store(ctx context.Context, cfg *Config, runID string, results []*pipeline.SheetResult) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	sink := r.Sink
	if sink == nil {
		if !cfg.Storage.Enabled() {
			return nil
		}
		opened, err := storage.Open(ctx, cfg.Storage, runID)
		if err != nil {
			return err
		}
		defer func() { _ = opened.Close() }()
		sink = opened
	}
	return sink.Write(ctx, results)
}

func defaultS3Opener(base storage.S3Config) S3Opener {
	return func(ctx context.Context, bucket, prefix string) (*storage.S3Source, error) {
		c := base
		c.Bucket = bucket
		client, err := storage.NewS3Client(ctx, c)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Source(client, bucket, prefix), nil
	}
}

// NewRunID derives a sortable run identifier from t.
func NewRunID(t time.Time) string {
	return t.UTC().Format("20060102T150405.000Z")
}

// FormatResults formats the batch results in the given format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatBatchResults(r, format)
}

// SaveResults writes the formatted results to outputFile, or to w when no
// file is given.
func (r *Result) SaveResults(w io.Writer, format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}
	if outputFile == "" {
		_, err := io.WriteString(w, output)
		return err
	}
	if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if !quiet {
		_, _ = fmt.Fprintf(w, "Results written to %s\n", outputFile)
	}
	return nil
}

// PrintStats prints run statistics.
func (r *Result) PrintStats(w io.Writer) {
	s := r.Stats
	_, _ = fmt.Fprintf(w, "\nGrading Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Run: %s\n", r.RunID)
	_, _ = fmt.Fprintf(w, "  Sheets: %d\n", s.Sheets)
	_, _ = fmt.Fprintf(w, "  Graded: %d (%d flagged for review)\n", s.Graded, s.Flagged)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", s.Failed)
	for kind, n := range sortedKinds(s.FailuresByKind) {
		_, _ = fmt.Fprintf(w, "    %s: %d\n", kind, n)
	}
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", s.WorkerCount)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", s.TotalDuration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Avg per sheet: %v\n", s.AveragePerSheet.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Throughput: %.1f sheets/sec\n", s.ThroughputPerSec)
}
