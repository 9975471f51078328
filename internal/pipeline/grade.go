package pipeline

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/evaluate"
	"github.com/MeKo-Tech/omr/internal/fill"
	"github.com/MeKo-Tech/omr/internal/grid"
	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/normalize"
)

// VersionSource records where a sheet's version came from.
type VersionSource string

const (
	VersionFromRequest VersionSource = "request"
	VersionFromQR      VersionSource = "qr"
	VersionFromLayout  VersionSource = "layout"
)

// Request identifies one sheet to grade. Empty fields fall back to the
// default layout and to version detection.
type Request struct {
	SheetID  string
	LayoutID string
	Version  string
	// Trace keeps the canonical image and per-cell readings on the result,
	// for overlays and debugging.
	Trace bool
}

// Diagnostics describes how the sheet was read.
type Diagnostics struct {
	SkewDegrees    float64 `json:"skew_degrees"`
	MeasuredAspect float64 `json:"measured_aspect"`
	MarkersFound   int     `json:"markers_found"`
	MarkerAdjusted bool    `json:"marker_adjusted"`
	CanonicalW     int     `json:"canonical_width"`
	CanonicalH     int     `json:"canonical_height"`
	Threshold      uint8   `json:"threshold"`
	PaperLevel     float64 `json:"paper_level"`
	InkLevel       float64 `json:"ink_level"`
	AmbiguousCells int     `json:"ambiguous_cells"`
	Fallbacks      int     `json:"classifier_fallbacks"`
}

// Trace holds the intermediate products of one grading run.
type Trace struct {
	Canonical *normalize.CanonicalImage
	Cells     []grid.CellRegion
	Readings  []fill.CellReading
	Answers   []fill.QuestionAnswer
}

// SheetResult is the outcome of grading one sheet. Score is nil when the
// sheet failed; ErrorKind and Error then say why.
type SheetResult struct {
	SheetID       string                `json:"sheet_id,omitempty"`
	Source        string                `json:"source,omitempty"`
	Layout        string                `json:"layout,omitempty"`
	Version       string                `json:"version,omitempty"`
	VersionSource VersionSource         `json:"version_source,omitempty"`
	Score         *evaluate.ScoreResult `json:"score,omitempty"`
	ErrorKind     common.ErrorKind      `json:"error_kind,omitempty"`
	Error         string                `json:"error,omitempty"`
	Diagnostics   *Diagnostics          `json:"diagnostics,omitempty"`
	Timings       common.StageTimings   `json:"timings"`

	Trace *Trace `json:"-"`
}

// OK reports whether the sheet was scored.
func (r *SheetResult) OK() bool { return r != nil && r.Score != nil }

// Flagged reports whether a scored sheet needs human review.
func (r *SheetResult) Flagged() bool { return r.OK() && r.Score.Quality.Any() }

func (r *SheetResult) fail(err error) error {
	r.ErrorKind = common.KindOf(err)
	r.Error = err.Error()
	r.Score = nil
	return err
}

// Grade runs every stage on one decoded image. The returned result is never
// nil; a fatal condition is reported both as the error and on the result.
// ctx is checked between stages.
func (p *Pipeline) Grade(ctx context.Context, img image.Image, req Request) (*SheetResult, error) {
	total := common.NewNamedTimer("grade")
	res := &SheetResult{SheetID: req.SheetID}
	defer func() {
		res.Timings.TotalNs = int64(total.Stop())
		if p != nil && p.Profiler != nil {
			p.Profiler.Record(res)
		}
	}()

	if p == nil || p.Normalizer == nil || p.Classifier == nil {
		return res, res.fail(errors.New("pipeline not initialized"))
	}
	if img == nil {
		return res, res.fail(common.NewSheetError(common.KindInvalidInput, "grade", errors.New("nil image")))
	}

	l, err := p.Layouts.Get(req.LayoutID)
	if err != nil {
		return res, res.fail(common.NewSheetError(common.KindInvalidInput, "layout", err))
	}
	res.Layout = l.ID

	t := common.NewTimer()
	canon, err := p.Normalizer.Normalize(img, l)
	res.Timings.NormalizeNs = int64(t.Stop())
	if err != nil {
		return res, res.fail(err)
	}
	diag := &Diagnostics{
		SkewDegrees:    canon.SkewDegrees,
		MeasuredAspect: canon.MeasuredAspect,
		MarkersFound:   canon.MarkersFound,
		MarkerAdjusted: canon.MarkerAdjusted,
		CanonicalW:     canon.Width(),
		CanonicalH:     canon.Height(),
	}
	res.Diagnostics = diag
	if err := ctx.Err(); err != nil {
		return res, res.fail(err)
	}

	res.Version, res.VersionSource = p.resolveVersion(ctx, canon, req.Version, l)
	key, err := p.Keys.Get(res.Version)
	if err != nil {
		return res, res.fail(err)
	}
	if key.Layout.ID != l.ID {
		return res, res.fail(common.LayoutMismatch("evaluate",
			"answer key %q is for layout %q, sheet uses %q", res.Version, key.Layout.ID, l.ID))
	}

	t = common.NewTimer()
	cells, err := p.Mapper.Map(canon.Width(), canon.Height(), l)
	res.Timings.GridNs = int64(t.Stop())
	if err != nil {
		return res, res.fail(err)
	}

	t = common.NewTimer()
	reading := p.Classifier.ReadSheet(canon.Gray, cells)
	answers := fill.ResolveSheet(reading.Cells, l.OptionsPerQuestion, p.Classifier.Config())
	res.Timings.ClassifyNs = int64(t.Stop())
	diag.Threshold = reading.Stats.Threshold
	diag.PaperLevel = reading.Stats.Paper
	diag.InkLevel = reading.Stats.Ink
	diag.AmbiguousCells = reading.Ambiguous
	diag.Fallbacks = reading.Fallbacks
	if err := ctx.Err(); err != nil {
		return res, res.fail(err)
	}

	t = common.NewTimer()
	score, err := p.Evaluator.Evaluate(evaluate.Sheet{
		ID:             req.SheetID,
		Answers:        answers,
		AmbiguousCells: reading.Ambiguous,
	}, key)
	res.Timings.EvaluateNs = int64(t.Stop())
	if err != nil {
		return res, res.fail(err)
	}
	res.Score = score

	if req.Trace {
		res.Trace = &Trace{Canonical: canon, Cells: cells, Readings: reading.Cells, Answers: answers}
	}

	slog.Debug("Sheet graded",
		"sheet_id", req.SheetID,
		"layout", l.ID,
		"version", res.Version,
		"version_source", res.VersionSource,
		"score", score.TotalScore,
		"max_score", score.MaxScore,
		"confidence", score.OverallConfidence,
		"ambiguous", reading.Ambiguous,
		"normalize_ns", res.Timings.NormalizeNs,
		"classify_ns", res.Timings.ClassifyNs)
	return res, nil
}

// resolveVersion prefers the request, then a version QR code, then the
// layout default.
func (p *Pipeline) resolveVersion(ctx context.Context, canon *normalize.CanonicalImage, requested string, l *layout.SheetLayout) (string, VersionSource) {
	if v := strings.TrimSpace(requested); v != "" {
		return v, VersionFromRequest
	}
	if p.Versions != nil {
		if v, ok := p.Versions.Read(ctx, canon.Gray, l); ok {
			return v, VersionFromQR
		}
	}
	return l.Version, VersionFromLayout
}
