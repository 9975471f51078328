package classifier

import (
	"math"

	"github.com/MeKo-Tech/omr/internal/fill"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// FeatureNames are the inputs of the logistic model, in vector order.
var FeatureNames = []string{"global", "adaptive", "deficit", "edge", "midpoint", "texture"}

// innerInset matches the fill estimators' inner region.
const innerInset = 0.25

// Features computes the feature vector of a cell patch. The first four
// entries are the estimator scores already attached to the patch.
//
//   - midpoint: share of inner pixels darker than halfway between the blank
//     level and the ink level
//   - texture: standard deviation of the inner pixels, scaled to [0,1]
func Features(p fill.CellPatch) []float64 {
	m := p.Methods
	out := []float64{m.Global, m.Adaptive, m.Deficit, m.Edge, 0, 0}
	if p.Image == nil || p.Stats == nil {
		return out
	}
	inner := utils.InsetRect(p.Rect, innerInset).Intersect(p.Image.Bounds())
	if inner.Empty() {
		return out
	}

	mid := (p.Stats.Blank + p.Stats.Ink) / 2
	var n, dark int
	var sum, sumSq float64
	for y := inner.Min.Y; y < inner.Max.Y; y++ {
		for _, v := range p.Image.Pix[p.Image.PixOffset(inner.Min.X, y):p.Image.PixOffset(inner.Max.X, y)] {
			f := float64(v)
			if f < mid {
				dark++
			}
			sum += f
			sumSq += f * f
			n++
		}
	}
	mean := sum / float64(n)
	variance := max(0, sumSq/float64(n)-mean*mean)
	out[4] = float64(dark) / float64(n)
	out[5] = utils.Clamp01(math.Sqrt(variance) / 128)
	return out
}
