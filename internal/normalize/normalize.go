// Package normalize turns a photographed or scanned answer sheet into a
// canonical, axis-aligned grayscale image: it finds the paper boundary,
// removes perspective, evens out lighting and refines rotation from the
// printed reference markers.
package normalize

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/anthonynsimon/bild/effect"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// CanonicalImage is the normalized sheet plus how it was obtained.
type CanonicalImage struct {
	Gray *image.Gray `json:"-"`

	// SourceQuad is the detected sheet outline in source image pixels,
	// ordered TL, TR, BR, BL.
	SourceQuad     [4]utils.Point `json:"source_quad"`
	MeasuredAspect float64        `json:"measured_aspect"`
	SkewDegrees    float64        `json:"skew_degrees"`
	MarkersFound   int            `json:"markers_found"`
	Markers        []MarkerHit    `json:"markers,omitempty"`
	MarkerAdjusted bool           `json:"marker_adjusted"`
}

// Width of the canonical image.
func (c *CanonicalImage) Width() int { return c.Gray.Bounds().Dx() }

// Height of the canonical image.
func (c *CanonicalImage) Height() int { return c.Gray.Bounds().Dy() }

// Normalizer runs the geometric and photometric preprocessing chain. It is
// immutable and safe for concurrent use.
type Normalizer struct {
	cfg Config
}

// New validates cfg and returns a Normalizer.
func New(cfg Config) (*Normalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid normalizer config: %w", err)
	}
	return &Normalizer{cfg: cfg}, nil
}

// Config returns the normalizer configuration.
func (n *Normalizer) Config() Config { return n.cfg }

// Normalize produces the canonical sheet for img under layout l. It fails
// with a SheetNotDetected error when no sheet outline can be found.
func (n *Normalizer) Normalize(img image.Image, l *layout.SheetLayout) (*CanonicalImage, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, common.NewSheetError(common.KindInvalidInput, stage, errors.New("empty image"))
	}
	if l == nil {
		return nil, common.NewSheetError(common.KindInvalidInput, stage, errors.New("no layout"))
	}

	src := utils.ToGray(img)
	work, scale, err := utils.ShrinkGray(src, n.cfg.WorkingSide)
	if err != nil {
		return nil, common.NewSheetError(common.KindInternal, stage, err)
	}
	if n.cfg.DenoiseRadius > 0 {
		work = utils.ToGray(effect.Median(work, n.cfg.DenoiseRadius))
	}

	det, _, err := utils.ShrinkGray(work, n.cfg.DetectionSide)
	if err != nil {
		return nil, common.NewSheetError(common.KindInternal, stage, err)
	}
	quad, err := n.findSheet(det)
	if err != nil {
		return nil, err
	}
	wb, db := work.Bounds(), det.Bounds()
	quad = rescaleQuad(quad, float64(wb.Dx())/float64(db.Dx()), float64(wb.Dy())/float64(db.Dy()))

	qw, qh := utils.QuadSize(quad)
	if qh <= 0 || qw <= 0 {
		return nil, common.SheetNotDetected(stage, "degenerate sheet outline")
	}
	measured := qw / qh
	cw, ch := n.canonicalSize(measured, l)

	toSource, ok := utils.ComputeHomography(edgeCorners(cw, ch), quad)
	if !ok {
		return nil, common.SheetNotDetected(stage, "sheet outline is degenerate")
	}
	canon := utils.WarpGray(work, toSource, cw, ch, 255)

	out := &CanonicalImage{
		SourceQuad:     rescaleQuad(quad, 1/scale, 1/scale),
		MeasuredAspect: measured,
		SkewDegrees:    math.Atan2(quad[1].Y-quad[0].Y, quad[1].X-quad[0].X) * 180 / math.Pi,
	}

	if len(l.Markers) > 0 {
		out.Markers = LocateMarkers(canon, l, n.cfg.MarkerSearch)
		if hm, ok := n.markerCorrection(out.Markers, cw, ch); ok {
			canon = utils.WarpGray(work, toSource.Compose(hm), cw, ch, 255)
			out.SkewDegrees += hm.Rotation()
			out.MarkerAdjusted = true
			out.Markers = LocateMarkers(canon, l, n.cfg.MarkerSearch)
		}
		for _, m := range out.Markers {
			if m.OK {
				out.MarkersFound++
			}
		}
	}

	out.Gray = n.equalize(canon)

	slog.Debug("Sheet normalized",
		"stage", stage,
		"width", cw, "height", ch,
		"measured_aspect", measured,
		"skew_degrees", out.SkewDegrees,
		"markers_found", out.MarkersFound,
		"marker_adjusted", out.MarkerAdjusted)
	return out, nil
}

// canonicalSize fixes the height and derives the width. A measured aspect
// within tolerance of the layout snaps to the layout so grids line up
// exactly; anything else keeps the measurement and is left for the grid
// mapper to reject.
func (n *Normalizer) canonicalSize(measured float64, l *layout.SheetLayout) (int, int) {
	h := n.cfg.CanonicalHeight
	aspect := measured
	tol := n.cfg.AspectTolerance
	if l.AspectTolerance > 0 {
		tol = l.AspectTolerance
	}
	if l.AspectRatio > 0 && math.Abs(measured/l.AspectRatio-1) <= tol {
		aspect = l.AspectRatio
	}
	return max(1, int(math.Round(float64(h)*aspect))), h
}

// edgeCorners are the outer pixel edges of a w x h image in pixel-centre
// coordinates, ordered TL, TR, BR, BL.
func edgeCorners(w, h int) [4]utils.Point {
	fw, fh := float64(w)-0.5, float64(h)-0.5
	return [4]utils.Point{{X: -0.5, Y: -0.5}, {X: fw, Y: -0.5}, {X: fw, Y: fh}, {X: -0.5, Y: fh}}
}
