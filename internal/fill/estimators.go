package fill

import (
	"image"

	"github.com/MeKo-Tech/omr/internal/utils"
)

// Measure runs the four estimators on the cell at r.
func Measure(g *image.Gray, r image.Rectangle, s *SheetStats, cfg Config) MethodScores {
	inner := utils.InsetRect(r, cfg.InnerInset).Intersect(g.Bounds())
	return MethodScores{
		Global:   globalRatio(g, inner, s.Threshold),
		Adaptive: adaptiveRatio(g, inner, r, s, cfg),
		Deficit:  meanDeficit(inner, s, cfg),
		Edge:     edgeScore(r, s),
	}
}

// globalRatio is the share of pixels at or below the sheet threshold.
func globalRatio(g *image.Gray, r image.Rectangle, t uint8) float64 {
	if r.Empty() {
		return 0
	}
	dark := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for _, v := range g.Pix[g.PixOffset(r.Min.X, y):g.PixOffset(r.Max.X, y)] {
			if v <= t {
				dark++
			}
		}
	}
	return float64(dark) / float64(r.Dx()*r.Dy())
}

// adaptiveRatio is the share of pixels darker than their neighbourhood mean
// by more than the offset. The neighbourhood is AdaptiveWindow cells wide.
func adaptiveRatio(g *image.Gray, inner, cell image.Rectangle, s *SheetStats, cfg Config) float64 {
	if inner.Empty() {
		return 0
	}
	half := int(cfg.AdaptiveWindow*float64(max(cell.Dx(), cell.Dy()))) / 2
	dark := 0
	for y := inner.Min.Y; y < inner.Max.Y; y++ {
		for x := inner.Min.X; x < inner.Max.X; x++ {
			local := s.Mean(image.Rect(x-half, y-half, x+half+1, y+half+1))
			if float64(g.Pix[g.PixOffset(x, y)]) < local-cfg.AdaptiveOffset {
				dark++
			}
		}
	}
	return float64(dark) / float64(inner.Dx()*inner.Dy())
}

// meanDeficit measures how far the cell mean falls from the blank-cell level
// towards the ink level.
func meanDeficit(inner image.Rectangle, s *SheetStats, cfg Config) float64 {
	if inner.Empty() {
		return 0
	}
	span := max(s.Blank-s.Ink, cfg.MinInkSpan)
	return utils.Clamp01((s.Blank - s.Mean(inner)) / span)
}

// edgeScore rewards cells with fewer edges than a blank one: filling a
// bubble erases its inner outline and printed letter.
func edgeScore(r image.Rectangle, s *SheetStats) float64 {
	if s.EdgeBaseline <= 0 {
		return 0
	}
	return utils.Clamp01((s.EdgeBaseline - s.EdgeDensity(r)) / (0.5 * s.EdgeBaseline))
}

// FusedEstimator is the weighted average of the four estimators.
type FusedEstimator struct {
	cfg Config
}

// NewFusedEstimator returns the fused estimator for cfg.
func NewFusedEstimator(cfg Config) *FusedEstimator { return &FusedEstimator{cfg: cfg} }

// Estimate implements FillEstimator.
func (f *FusedEstimator) Estimate(p CellPatch) (float64, error) {
	m := Measure(p.Image, p.Rect, p.Stats, f.cfg)
	return utils.Clamp01(m.Fuse(f.cfg.Weights)), nil
}
