package batch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/omr/internal/pdf"
	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// planJobs turns inputs into grading jobs. Images are decoded lazily by the
// workers. PDFs are split into one job per page image here; a PDF that
// cannot be read becomes a single failing job.
func planJobs(ctx context.Context, inputs []Input, cfg *Config) []pipeline.Job {
	extractor := &pdf.Extractor{UserPassword: cfg.PDFPassword}
	var jobs []pipeline.Job
	for _, in := range inputs {
		req := pipeline.Request{
			SheetID:  sheetID(in.Path),
			LayoutID: cfg.Layout,
			Version:  cfg.Version,
			Trace:    cfg.OverlayDir != "",
		}
		if !in.PDF {
			jobs = append(jobs, pipeline.Job{Request: req, Source: in.Path, Load: imageLoader(in)})
			continue
		}

		pages, err := extractPages(ctx, extractor, in, cfg.PageRange)
		if err != nil {
			slog.Warn("PDF extraction failed", "file", in.Path, "error", err)
			jobs = append(jobs, pipeline.Job{Request: req, Source: in.Path, Load: failing(err)})
			continue
		}
		for _, pg := range pages {
			r := req
			r.SheetID = pageSheetID(req.SheetID, pg)
			jobs = append(jobs, pipeline.Job{
				Request: r,
				Source:  fmt.Sprintf("%s#page=%d", in.Path, pg.Number),
				Image:   pg.Image,
			})
		}
	}
	return jobs
}

func extractPages(ctx context.Context, e *pdf.Extractor, in Input, pageRange string) ([]pdf.Page, error) {
	if in.remote == nil {
		return e.ExtractFile(ctx, in.Path, pageRange)
	}
	data, err := in.remote.Fetch(ctx, in.key)
	if err != nil {
		return nil, err
	}
	return e.ExtractBytes(ctx, data, pageRange)
}

func imageLoader(in Input) func(context.Context) (image.Image, error) {
	return func(ctx context.Context) (image.Image, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var (
			img image.Image
			err error
		)
		if in.remote != nil {
			var data []byte
			if data, err = in.remote.Fetch(ctx, in.key); err != nil {
				return nil, err
			}
			img, _, err = utils.DecodeImage(bytes.NewReader(data))
		} else {
			img, _, err = utils.LoadImage(in.Path)
		}
		if err != nil {
			return nil, err
		}
		if err := utils.ValidateImageConstraints(img, utils.DefaultImageConstraints()); err != nil {
			return nil, err
		}
		return img, nil
	}
}

func failing(err error) func(context.Context) (image.Image, error) {
	return func(context.Context) (image.Image, error) { return nil, err }
}

// sheetID is the file name without extension.
func sheetID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func pageSheetID(base string, pg pdf.Page) string {
	if pg.Index > 0 {
		return fmt.Sprintf("%s-p%d-%d", base, pg.Number, pg.Index)
	}
	return fmt.Sprintf("%s-p%d", base, pg.Number)
}

// saveOverlays writes a diagnostics overlay for every traced result and
// drops the trace afterwards.
func saveOverlays(results []*pipeline.SheetResult, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create overlay directory: %w", err)
	}
	style := pipeline.DefaultOverlayStyle()
	for _, res := range results {
		if res == nil || res.Trace == nil {
			continue
		}
		ov, err := pipeline.RenderOverlay(res, style)
		res.Trace = nil
		if err != nil {
			slog.Warn("Overlay rendering failed", "sheet_id", res.SheetID, "error", err)
			continue
		}
		out := filepath.Join(dir, overlayName(res.SheetID)+"_overlay.png")
		if err := imaging.Save(ov, out); err != nil {
			return fmt.Errorf("save overlay %s: %w", out, err)
		}
	}
	return nil
}

func overlayName(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, id)
}
