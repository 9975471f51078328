package normalize

import (
	"image"
	"math"

	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// MarkerHit is the outcome of searching for one reference marker.
type MarkerHit struct {
	Index    int         `json:"index"`
	Expected utils.Point `json:"expected"`
	Found    utils.Point `json:"found"`
	OK       bool        `json:"ok"`
}

// LocateMarkers searches a canonical sheet for the layout's reference
// markers. Each marker is looked for in a window of ±search marker sides
// around its nominal position; coordinates use pixel centres.
func LocateMarkers(g *image.Gray, l *layout.SheetLayout, search float64) []MarkerHit {
	b := g.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	hits := make([]MarkerHit, len(l.Markers))
	for i, m := range l.Markers {
		cx, cy := m.Center(w, h)
		side := m.Side(w)
		exp := utils.Pt(cx-0.5, cy-0.5)
		hits[i] = MarkerHit{Index: i, Expected: exp}

		half := search * side
		win := image.Rect(
			int(math.Floor(cx-half)), int(math.Floor(cy-half)),
			int(math.Ceil(cx+half)), int(math.Ceil(cy+half)),
		).Intersect(b)
		if found, ok := findMarker(g, win, exp, side); ok {
			hits[i].Found, hits[i].OK = found, true
		}
	}
	return hits
}

// findMarker returns the centroid of the solid, roughly square dark blob in
// win closest to exp.
func findMarker(g *image.Gray, win image.Rectangle, exp utils.Point, side float64) (utils.Point, bool) {
	if win.Empty() {
		return utils.Point{}, false
	}
	hist := utils.Histogram(g, win)
	if int(utils.Percentile(hist, 0.95))-int(utils.Percentile(hist, 0.05)) < 60 {
		return utils.Point{}, false
	}
	t := utils.OtsuThreshold(hist)

	ww, wh := win.Dx(), win.Dy()
	mask := make([]bool, ww*wh)
	for y := range wh {
		row := g.Pix[g.PixOffset(win.Min.X, win.Min.Y+y):]
		for x := range ww {
			mask[y*ww+x] = row[x] <= t
		}
	}
	comps, _ := labelComponents(mask, ww, wh)

	best, bestD := utils.Point{}, math.Inf(1)
	for _, c := range comps {
		cw, ch := float64(c.width()), float64(c.height())
		if cw < 0.5*side || ch < 0.5*side || cw > 1.6*side || ch > 1.6*side {
			continue
		}
		if r := cw / ch; r < 0.6 || r > 1/0.6 {
			continue
		}
		if float64(c.count)/(cw*ch) < 0.7 {
			continue
		}
		mx, my := c.centroid()
		p := utils.Pt(mx+float64(win.Min.X), my+float64(win.Min.Y))
		if d := utils.Dist(p, exp); d < bestD {
			best, bestD = p, d
		}
	}
	return best, !math.IsInf(bestD, 1)
}

// markerCorrection fits the transform taking nominal marker positions to
// where they were found. ok is false when too few markers were found, the
// residual is negligible, or the fit is implausible.
func (n *Normalizer) markerCorrection(hits []MarkerHit, w, h int) (utils.Homography, bool) {
	var exp, got []utils.Point
	residual := 0.0
	for _, hit := range hits {
		if !hit.OK {
			continue
		}
		exp = append(exp, hit.Expected)
		got = append(got, hit.Found)
		residual = math.Max(residual, utils.Dist(hit.Expected, hit.Found))
	}
	if len(exp) < n.cfg.MinMarkers || residual < n.cfg.MinResidualPx {
		return utils.Homography{}, false
	}

	var hm utils.Homography
	ok := false
	if len(exp) == 4 {
		hm, ok = utils.ComputeHomography([4]utils.Point(exp), [4]utils.Point(got))
	}
	if !ok {
		hm, ok = utils.FitSimilarity(exp, got)
	}
	if !ok {
		return utils.Homography{}, false
	}

	limit := n.cfg.MaxCorrection * float64(w)
	corners := [4]utils.Point{{X: 0, Y: 0}, {X: float64(w - 1), Y: 0}, {X: float64(w - 1), Y: float64(h - 1)}, {X: 0, Y: float64(h - 1)}}
	for _, c := range corners {
		if utils.Dist(c, hm.ApplyPoint(c)) > limit {
			return utils.Homography{}, false
		}
	}
	return hm, true
}
