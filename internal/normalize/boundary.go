package normalize

import (
	"image"
	"math"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/utils"
)

const stage = "normalize"

// quadCandidate is a bright region whose outline is close to a quadrilateral.
type quadCandidate struct {
	quad      [4]utils.Point
	area      float64
	deviation float64 // worst corner deviation from 90°, degrees
	solidity  float64
}

// findSheet locates the paper in a detection-scale image. The returned quad
// is ordered TL, TR, BR, BL and lies on the outer pixel edges of the region.
func (n *Normalizer) findSheet(g *image.Gray) ([4]utils.Point, error) {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	hist := utils.Histogram(g, b)
	lo, hi := utils.Percentile(hist, 0.02), utils.Percentile(hist, 0.98)
	if int(hi)-int(lo) < n.cfg.MinContrast {
		return [4]utils.Point{}, common.SheetNotDetected(stage,
			"image has no usable contrast (p2=%d p98=%d)", lo, hi)
	}

	t := utils.OtsuThreshold(hist)
	mask := make([]bool, w*h)
	for i, v := range g.Pix[:w*h] {
		mask[i] = v > t
	}
	comps, labels := labelComponents(mask, w, h)

	frame := float64(w * h)
	var cands []quadCandidate
	for _, c := range comps {
		if float64(c.width()*c.height()) < n.cfg.MinAreaRatio*frame {
			continue
		}
		contour := traceOuterContour(labels, w, h, c)
		if len(contour) < 4 {
			continue
		}
		outline := utils.PolygonArea(contour)
		if outline < n.cfg.MinAreaRatio*frame {
			continue
		}
		quad, ok := utils.QuadFromHull(utils.ConvexHull(contour))
		if !ok {
			continue
		}
		qa := utils.PolygonArea(quad[:])
		if qa == 0 {
			continue
		}
		solidity := outline / qa
		if solidity < n.cfg.MinSolidity {
			continue
		}
		cands = append(cands, quadCandidate{
			quad:      quad,
			area:      qa,
			deviation: utils.CornerDeviation(quad),
			solidity:  solidity,
		})
	}

	best, ok := selectCandidate(cands, n.cfg.AreaTieRatio)
	if !ok {
		return [4]utils.Point{}, common.SheetNotDetected(stage,
			"no quadrilateral region covers %.0f%% of the frame", n.cfg.MinAreaRatio*100)
	}
	return expandToEdges(best.quad), nil
}

// selectCandidate picks the largest quadrilateral; candidates within tie of
// the largest area compete on corner squareness, remaining ties go to area.
func selectCandidate(cands []quadCandidate, tie float64) (quadCandidate, bool) {
	if len(cands) == 0 {
		return quadCandidate{}, false
	}
	maxArea := 0.0
	for _, c := range cands {
		maxArea = math.Max(maxArea, c.area)
	}
	var best quadCandidate
	found := false
	for _, c := range cands {
		if c.area < maxArea*(1-tie) {
			continue
		}
		switch {
		case !found,
			c.deviation < best.deviation-1e-9,
			math.Abs(c.deviation-best.deviation) <= 1e-9 && c.area > best.area:
			best, found = c, true
		}
	}
	return best, found
}

// expandToEdges moves pixel-centre corners half a pixel outwards so the quad
// follows the outer edges of the boundary pixels.
func expandToEdges(q [4]utils.Point) [4]utils.Point {
	var c utils.Point
	for _, p := range q {
		c.X += p.X / 4
		c.Y += p.Y / 4
	}
	for i := range q {
		q[i].X += 0.5 * sign(q[i].X-c.X)
		q[i].Y += 0.5 * sign(q[i].Y-c.Y)
	}
	return q
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// rescaleQuad maps an edge-aligned quad between two pixel grids whose
// extents differ by (fx, fy).
func rescaleQuad(q [4]utils.Point, fx, fy float64) [4]utils.Point {
	for i := range q {
		q[i].X = (q[i].X+0.5)*fx - 0.5
		q[i].Y = (q[i].Y+0.5)*fy - 0.5
	}
	return q
}
