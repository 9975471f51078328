package cmd

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/omr/internal/batch"
	"github.com/MeKo-Tech/omr/internal/config"
	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/utils"
)

var gradeFormats = []string{"text", "json", "csv"}

// gradeCmd grades a single image, or every sheet of a PDF.
var gradeCmd = &cobra.Command{
	Use:   "grade <image|pdf>",
	Short: "Grade one answer sheet",
	Long: `Grade one answer sheet image, or every page of a scanned PDF.

The answer key version is taken from --key-version, else from the QR code
printed on the sheet, else from the layout. Text output is a short report,
json the full result and csv one row per question (one row per sheet for
PDFs).

The command exits non-zero when a sheet could not be graded; flagged
sheets are graded and exit zero.

Examples:
  omr grade sheet.jpg
  omr grade sheet.jpg --key-version B --format json
  omr grade sheet.jpg --overlay sheet_overlay.png
  omr grade scans.pdf --pages 1-3 --format csv --output scores.csv`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runGradeCommand,
}

func init() {
	rootCmd.AddCommand(gradeCmd)

	gradeCmd.Flags().String("layout", "", "layout id (default: configured default layout)")
	gradeCmd.Flags().StringP("key-version", "k", "", "answer key version (default: read from the sheet)")
	gradeCmd.Flags().String("sheet-id", "", "sheet identifier (default: file name)")
	gradeCmd.Flags().StringP("format", "f", "", "output format: text, json or csv (default: configured format)")
	gradeCmd.Flags().StringP("output", "o", "", "write results to this file instead of stdout")
	gradeCmd.Flags().String("overlay", "", "write a diagnostics overlay PNG (a directory for PDFs)")
	gradeCmd.Flags().String("detection", "", "write the input image with the detected sheet outline")
	gradeCmd.Flags().String("pages", "", "PDF page range, e.g. 1-3,5")
	gradeCmd.Flags().String("password", "", "PDF user password")
}

type gradeOptions struct {
	layout    string
	version   string
	sheetID   string
	format    string
	output    string
	overlay   string
	detection string
	pages     string
	password  string
}

func gradeOptionsFromFlags(cmd *cobra.Command, cfg *config.Config) (gradeOptions, error) {
	var o gradeOptions
	o.layout, _ = cmd.Flags().GetString("layout")
	o.version, _ = cmd.Flags().GetString("key-version")
	o.sheetID, _ = cmd.Flags().GetString("sheet-id")
	o.output, _ = cmd.Flags().GetString("output")
	o.overlay, _ = cmd.Flags().GetString("overlay")
	o.detection, _ = cmd.Flags().GetString("detection")
	o.pages, _ = cmd.Flags().GetString("pages")
	o.password, _ = cmd.Flags().GetString("password")

	o.format = cfg.Output.Format
	if cmd.Flags().Changed("format") {
		o.format, _ = cmd.Flags().GetString("format")
	}
	if !slices.Contains(gradeFormats, o.format) {
		return o, fmt.Errorf("unsupported format %q (want one of %s)", o.format, strings.Join(gradeFormats, ", "))
	}
	if o.password == "" {
		o.password = cfg.Batch.PDFPassword
	}
	return o, nil
}

func runGradeCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	opts, err := gradeOptionsFromFlags(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := args[0]
	if utils.IsPDF(path) {
		return gradePDF(ctx, cmd.OutOrStdout(), cfg, path, opts)
	}
	return gradeImage(ctx, cmd.OutOrStdout(), cfg, path, opts)
}

func gradeImage(ctx context.Context, w io.Writer, cfg *config.Config, path string, opts gradeOptions) error {
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	if err := utils.ValidateImageConstraints(img, utils.DefaultImageConstraints()); err != nil {
		return err
	}

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	id := opts.sheetID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	res, gradeErr := p.Grade(ctx, img, pipeline.Request{
		SheetID:  id,
		LayoutID: opts.layout,
		Version:  opts.version,
		Trace:    opts.overlay != "" || opts.detection != "",
	})
	res.Source = path

	if err := writeSheetImages(img, res, opts); err != nil {
		return err
	}

	out, err := formatSheet(res, opts.format)
	if err != nil {
		return err
	}
	if err := writeOutput(w, opts.output, out); err != nil {
		return err
	}
	if gradeErr != nil {
		return fmt.Errorf("sheet %s not graded: %w", id, gradeErr)
	}
	return nil
}

// writeSheetImages saves the overlays requested for a traced result.
func writeSheetImages(src image.Image, res *pipeline.SheetResult, opts gradeOptions) error {
	if res.Trace == nil {
		return nil
	}
	if opts.overlay != "" {
		ov, err := pipeline.RenderOverlay(res, pipeline.DefaultOverlayStyle())
		if err != nil {
			return err
		}
		if err := imaging.Save(ov, opts.overlay); err != nil {
			return fmt.Errorf("save overlay: %w", err)
		}
	}
	if opts.detection != "" {
		det, err := pipeline.RenderDetection(src, res, color.RGBA{R: 255, A: 255})
		if err != nil {
			return err
		}
		if err := imaging.Save(det, opts.detection); err != nil {
			return fmt.Errorf("save detection image: %w", err)
		}
	}
	return nil
}

func formatSheet(res *pipeline.SheetResult, format string) (string, error) {
	switch format {
	case "json":
		s, err := pipeline.ToJSON(res)
		return s + "\n", err
	case "csv":
		if !res.OK() {
			return pipeline.ToPlainText(res), nil
		}
		return pipeline.ToAnswersCSV(res)
	default:
		return pipeline.ToPlainText(res), nil
	}
}

func writeOutput(w io.Writer, file, content string) error {
	if file == "" {
		_, err := io.WriteString(w, content)
		return err
	}
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// gradePDF grades every page image of a PDF as one small batch.
func gradePDF(ctx context.Context, w io.Writer, cfg *config.Config, path string, opts gradeOptions) error {
	bc := cfg.ToBatchConfig()
	bc.Layout = opts.layout
	bc.Version = opts.version
	bc.PageRange = opts.pages
	bc.PDFPassword = opts.password
	bc.OverlayDir = opts.overlay
	bc.Format = opts.format
	bc.Quiet = true
	bc.ShowProgress = false
	bc.Storage.ResultsFile = ""
	bc.Storage.PostgresDSN = ""
	bc.Storage.S3.Bucket = ""
	bc.RunID = batch.NewRunID(time.Now())

	res, err := batch.ProcessBatch(ctx, []string{path}, bc)
	if res == nil {
		return err
	}
	if opts.sheetID != "" {
		for _, r := range res.Results {
			r.SheetID = opts.sheetID + strings.TrimPrefix(r.SheetID, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		}
	}
	if saveErr := res.SaveResults(w, opts.format, opts.output, true); saveErr != nil {
		return saveErr
	}
	if err != nil {
		return err
	}
	if res.Stats.Failed > 0 {
		return fmt.Errorf("%d of %d sheets not graded", res.Stats.Failed, res.Stats.Sheets)
	}
	return nil
}
