package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/testutil"
)

// generateCmd renders synthetic answer sheets for testing and tuning.
var generateCmd = &cobra.Command{
	Use:   "generate <dir>",
	Short: "Render synthetic answer sheets",
	Long: `Render synthetic filled answer sheets as PNG files, together with a
manifest.jsonl that records the marks drawn on every sheet.

Marks are drawn at random from --seed, with optional blank questions and
double marks. With --capture each sheet is placed on a dark background,
rotated, shaded and noised like a phone photo.

Examples:
  omr generate testdata/sheets --count 20
  omr generate /tmp/sheets --capture --rotate 6 --noise 10 --key-version B`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runGenerateCommand,
}

type manifestEntry struct {
	File    string  `json:"file"`
	Layout  string  `json:"layout"`
	Version string  `json:"version,omitempty"`
	Marks   [][]int `json:"marks"`
}

func runGenerateCommand(cmd *cobra.Command, args []string) error {
	dir := args[0]
	flags := cmd.Flags()
	count, _ := flags.GetInt("count")
	seed, _ := flags.GetUint64("seed")
	blankRate, _ := flags.GetFloat64("blank-rate")
	doubleRate, _ := flags.GetFloat64("double-rate")
	version, _ := flags.GetString("key-version")
	layoutID, _ := flags.GetString("layout")
	capture, _ := flags.GetBool("capture")
	rotate, _ := flags.GetFloat64("rotate")
	noise, _ := flags.GetFloat64("noise")
	gradient, _ := flags.GetFloat64("gradient")
	if count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", count)
	}

	cfg := GetConfig()
	reg, err := layout.LoadRegistry(cfg.LayoutsDir, cfg.DefaultLayout)
	if err != nil {
		return err
	}
	l, err := reg.Get(layoutID)
	if err != nil {
		return err
	}

	if err := testutil.EnsureDir(dir); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	manifest, err := os.Create(filepath.Join(dir, "manifest.jsonl")) //nolint:gosec // G304: user-chosen output directory
	if err != nil {
		return err
	}
	defer func() { _ = manifest.Close() }()
	enc := json.NewEncoder(manifest)

	for i := range count {
		spec := testutil.DefaultSheetSpec()
		spec.Layout = l
		spec.Version = version
		spec.Marks = testutil.RandomMarks(l, testutil.MarkOptions{
			Seed:       seed + uint64(i),
			BlankRate:  blankRate,
			DoubleRate: doubleRate,
		})
		img, err := testutil.RenderSheet(spec)
		if err != nil {
			return fmt.Errorf("render sheet %d: %w", i+1, err)
		}

		out := img
		if capture {
			c := testutil.DefaultCaptureSpec()
			c.Rotate = rotate
			c.Noise = noise
			c.Gradient = gradient
			c.Seed = seed + uint64(i)
			out = testutil.Capture(img, c)
		}

		name := fmt.Sprintf("sheet-%03d.png", i+1)
		if err := testutil.WritePNG(filepath.Join(dir, name), out); err != nil {
			return err
		}
		if err := enc.Encode(manifestEntry{File: name, Layout: l.ID, Version: version, Marks: spec.Marks}); err != nil {
			return err
		}
		slog.Debug("Generated sheet", "file", name)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Generated %d sheets in %s\n", count, dir)
	return manifest.Close()
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().IntP("count", "n", 10, "number of sheets")
	generateCmd.Flags().Uint64("seed", 1, "random seed for the marks")
	generateCmd.Flags().Float64("blank-rate", 0.05, "probability that a question is left blank")
	generateCmd.Flags().Float64("double-rate", 0.02, "probability that a question is marked twice")
	generateCmd.Flags().StringP("key-version", "k", "", "print this version as a QR code on the sheet")
	generateCmd.Flags().String("layout", "", "layout id (default: configured default layout)")
	generateCmd.Flags().Bool("capture", false, "simulate a photo of the sheet")
	generateCmd.Flags().Float64("rotate", 0, "rotation in degrees when capturing")
	generateCmd.Flags().Float64("noise", 0, "noise amplitude in gray levels when capturing")
	generateCmd.Flags().Float64("gradient", 0, "left to right brightness falloff when capturing (0..1)")
}
