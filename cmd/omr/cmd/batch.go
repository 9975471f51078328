package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/omr/internal/batch"
	"github.com/MeKo-Tech/omr/internal/config"
)

// batchCmd represents the batch command for parallel sheet grading.
var batchCmd = &cobra.Command{
	Use:   "batch [files|dirs|globs|s3://bucket/prefix...]",
	Short: "Grade many answer sheets in parallel",
	Long: `Grade answer sheet images and PDFs in parallel.

Inputs may be files, directories, glob patterns or s3://bucket/prefix
URLs. Every page image of a PDF is graded as its own sheet. A sheet that
fails is reported and the batch goes on; results can additionally be
stored in a JSON lines file, PostgreSQL or S3 (see the storage section of
the configuration).

Supported formats: JPEG, PNG, BMP, TIFF, WebP, PDF

Examples:
  omr batch scans/
  omr batch 'scans/*.jpg' --key-version A --workers 8
  omr batch scans/ --format csv --output results.csv --stats
  omr batch s3://exams/2026-10/ --format jsonl`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runBatchCommand,
}

// configToBatchConfig maps centralized configuration to batch.Config.
// Flags the user set explicitly win over the configuration.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) *batch.Config {
	bc := cfg.ToBatchConfig()
	flags := cmd.Flags()

	if flags.Changed("layout") {
		bc.Layout, _ = flags.GetString("layout")
	}
	bc.Version, _ = flags.GetString("key-version")
	bc.PageRange, _ = flags.GetString("pages")
	if flags.Changed("password") {
		bc.PDFPassword, _ = flags.GetString("password")
	}

	if flags.Changed("format") {
		bc.Format, _ = flags.GetString("format")
	}
	if flags.Changed("output") {
		bc.OutputFile, _ = flags.GetString("output")
	}
	if flags.Changed("overlay-dir") {
		bc.OverlayDir, _ = flags.GetString("overlay-dir")
	}
	if flags.Changed("results-file") {
		bc.Storage.ResultsFile, _ = flags.GetString("results-file")
	}

	if flags.Changed("workers") {
		bc.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("sheet-timeout") {
		bc.SheetTimeout, _ = flags.GetDuration("sheet-timeout")
	}

	if flags.Changed("recursive") {
		bc.Recursive, _ = flags.GetBool("recursive")
	}
	if flags.Changed("include") {
		bc.IncludePatterns, _ = flags.GetStringSlice("include")
	}
	if flags.Changed("exclude") {
		bc.ExcludePatterns, _ = flags.GetStringSlice("exclude")
	}

	bc.ShowProgress, _ = flags.GetBool("progress")
	bc.Quiet, _ = flags.GetBool("quiet")
	bc.ShowStats, _ = flags.GetBool("stats")
	bc.ProgressInterval, _ = flags.GetDuration("progress-interval")
	bc.RunID, _ = flags.GetString("run-id")
	if bc.RunID == "" {
		bc.RunID = batch.NewRunID(time.Now())
	}
	return bc
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	bc := configToBatchConfig(cfg, cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !bc.Quiet {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Grading %d inputs (run %s)...\n", len(args), bc.RunID)
	}

	result, err := batch.ProcessBatch(ctx, args, bc)
	if result == nil {
		return fmt.Errorf("batch grading failed: %w", err)
	}
	// An interrupted run still reports the sheets graded so far.
	if saveErr := result.SaveResults(cmd.OutOrStdout(), bc.Format, bc.OutputFile, bc.Quiet); saveErr != nil {
		return errors.Join(err, fmt.Errorf("failed to save results: %w", saveErr))
	}
	if bc.ShowStats && !bc.Quiet {
		result.PrintStats(cmd.ErrOrStderr())
	}
	if err != nil {
		return fmt.Errorf("batch grading failed: %w", err)
	}

	failOnError, _ := cmd.Flags().GetBool("fail-on-error")
	if failOnError && result.Stats.Failed > 0 {
		return fmt.Errorf("%d of %d sheets not graded", result.Stats.Failed, result.Stats.Sheets)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(batchCmd)

	// Grading flags
	batchCmd.Flags().String("layout", "", "layout id for every sheet (default: configured default layout)")
	batchCmd.Flags().StringP("key-version", "k", "", "answer key version for every sheet (default: read from each sheet)")
	batchCmd.Flags().String("pages", "", "PDF page range, e.g. 1-3,5")
	batchCmd.Flags().String("password", "", "PDF user password")

	// Output flags
	batchCmd.Flags().StringP("format", "f", "text", "output format: text, json, jsonl, csv")
	batchCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	batchCmd.Flags().String("overlay-dir", "", "directory to save diagnostics overlays")
	batchCmd.Flags().String("results-file", "", "append results as JSON lines to this file")
	batchCmd.Flags().String("run-id", "", "identifier stored with every result (default: start time)")
	batchCmd.Flags().Bool("fail-on-error", false, "exit non-zero when any sheet could not be graded")

	// Parallel processing flags
	batchCmd.Flags().IntP("workers", "w", 0, fmt.Sprintf("number of parallel workers (default: %d)", runtime.NumCPU()))
	batchCmd.Flags().Duration("sheet-timeout", 30*time.Second, "time limit per sheet including decoding (0 = none)")

	// File discovery flags
	batchCmd.Flags().BoolP("recursive", "r", true, "recursively scan directories")
	batchCmd.Flags().StringSlice("include", nil, "file patterns to include")
	batchCmd.Flags().StringSlice("exclude", nil, "file patterns to exclude")

	// Progress and monitoring flags
	batchCmd.Flags().Bool("progress", true, "show progress bar")
	batchCmd.Flags().Bool("quiet", false, "suppress progress output")
	batchCmd.Flags().Bool("stats", false, "show grading statistics")
	batchCmd.Flags().Duration("progress-interval", 100*time.Millisecond, "progress update interval")
}
