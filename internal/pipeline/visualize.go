package pipeline

import (
	"errors"
	"image"
	"image/color"
	"image/draw"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/MeKo-Tech/omr/internal/fill"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// OverlayStyle sets the colors of the diagnostics overlay.
type OverlayStyle struct {
	Blank     colorful.Color // heat color of an empty cell
	Filled    colorful.Color // heat color of a solid cell
	Alpha     float64        // tint opacity
	Correct   color.Color
	Wrong     color.Color
	Multiple  color.Color
	Ambiguous color.Color
}

// DefaultOverlayStyle tints from pale blue to red.
func DefaultOverlayStyle() OverlayStyle {
	return OverlayStyle{
		Blank:     colorful.Color{R: 0.55, G: 0.75, B: 1},
		Filled:    colorful.Color{R: 0.9, G: 0.1, B: 0.1},
		Alpha:     0.45,
		Correct:   color.RGBA{0, 170, 0, 255},
		Wrong:     color.RGBA{220, 0, 0, 255},
		Multiple:  color.RGBA{255, 140, 0, 255},
		Ambiguous: color.RGBA{200, 0, 200, 255},
	}
}

// HeatColor maps a fill score to the overlay palette, blending in HCL so
// mid scores stay saturated.
func (s OverlayStyle) HeatColor(score float64) colorful.Color {
	return s.Blank.BlendHcl(s.Filled, utils.Clamp01(score)).Clamped()
}

// RenderOverlay draws the canonical sheet of a traced result with every
// cell tinted by its fill score. Selected answers are outlined green when
// correct and red when wrong, all marks of a MULTIPLE question orange, and
// ambiguous cells get a thin magenta frame.
func RenderOverlay(res *SheetResult, style OverlayStyle) (*image.RGBA, error) {
	if res == nil || res.Trace == nil || res.Trace.Canonical == nil {
		return nil, errors.New("result carries no trace; grade with Request.Trace set")
	}
	tr := res.Trace
	src := tr.Canonical.Gray
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	for i, c := range tr.Cells {
		if i >= len(tr.Readings) {
			break
		}
		r := tr.Readings[i]
		tint(dst, c.Rect, style.HeatColor(r.FillScore), style.Alpha)
		if r.Ambiguous {
			utils.DrawRect(dst, c.Rect.Inset(-2), style.Ambiguous, 1)
		}
	}

	if len(tr.Cells) == 0 || len(tr.Answers) == 0 {
		return dst, nil
	}
	options := len(tr.Cells) / len(tr.Answers)
	for qi, a := range tr.Answers {
		base := qi * options
		switch a.State {
		case fill.AnswerSingle:
			col := style.Wrong
			if res.Score != nil && qi < len(res.Score.Questions) && res.Score.Questions[qi].Correct {
				col = style.Correct
			}
			utils.DrawRect(dst, tr.Cells[base+a.Option].Rect, col, 2)
		case fill.AnswerMultiple:
			for _, o := range a.Marked {
				utils.DrawRect(dst, tr.Cells[base+o].Rect, style.Multiple, 2)
			}
		}
	}
	return dst, nil
}

func tint(dst *image.RGBA, r image.Rectangle, c colorful.Color, alpha float64) {
	r = r.Intersect(dst.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := dst.PixOffset(x, y)
			base := colorful.Color{
				R: float64(dst.Pix[i]) / 255,
				G: float64(dst.Pix[i+1]) / 255,
				B: float64(dst.Pix[i+2]) / 255,
			}
			out := base.BlendRgb(c, alpha)
			r8, g8, b8 := out.RGB255()
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = r8, g8, b8, 255
		}
	}
}

// RenderDetection draws the detected sheet outline of a traced result on
// the source image.
func RenderDetection(src image.Image, res *SheetResult, col color.Color) (*image.RGBA, error) {
	if src == nil {
		return nil, errors.New("nil source image")
	}
	if res == nil || res.Trace == nil || res.Trace.Canonical == nil {
		return nil, errors.New("result carries no trace; grade with Request.Trace set")
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	q := res.Trace.Canonical.SourceQuad
	utils.DrawPolygon(dst, q[:], col, 3)
	return dst, nil
}
