package fill

import (
	"image"
	"slices"

	"github.com/anthonynsimon/bild/effect"

	"github.com/MeKo-Tech/omr/internal/grid"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// SheetStats are computed once per canonical sheet and shared by all cell
// estimators of that sheet.
type SheetStats struct {
	Threshold uint8   // global dark/light split
	Paper     float64 // typical paper level
	Ink       float64 // typical darkest ink level
	// Blank is the typical inner mean of an unmarked cell and EdgeBaseline
	// its typical edge density. Both come from the cells of this sheet;
	// Blank never drops below the paper/ink midpoint so a sheet with most
	// bubbles filled still measures marks against paper.
	Blank        float64
	EdgeBaseline float64

	width, height int
	integral      []int64 // (w+1)*(h+1) summed-area table of intensities
	edges         []int32 // (w+1)*(h+1) summed-area table of edge pixels
}

// NewSheetStats analyses g for the given cells.
func NewSheetStats(g *image.Gray, cells []grid.CellRegion, cfg Config) *SheetStats {
	b := g.Bounds()
	s := &SheetStats{width: b.Dx(), height: b.Dy()}

	hist := utils.Histogram(g, b)
	s.Paper = float64(utils.Percentile(hist, 0.5))
	s.Ink = float64(utils.Percentile(hist, 0.01))
	s.Threshold = utils.OtsuThreshold(hist)
	if span := s.Paper - s.Ink; span >= cfg.MinInkSpan {
		lo, hi := s.Ink+0.25*span, s.Ink+0.75*span
		s.Threshold = uint8(max(lo, min(hi, float64(s.Threshold))))
	}

	s.integral = summedArea(g, func(v uint8) int64 { return int64(v) })
	sobel := utils.ToGray(effect.Sobel(g))
	s.edges = summedArea32(sobel, cfg.EdgeThreshold)

	if len(cells) == 0 {
		s.Blank, s.EdgeBaseline = s.Paper, 0
		return s
	}
	means := make([]float64, len(cells))
	densities := make([]float64, len(cells))
	for i, c := range cells {
		means[i] = s.Mean(utils.InsetRect(c.Rect, cfg.InnerInset))
		densities[i] = s.EdgeDensity(c.Rect)
	}
	mid := s.Ink + 0.5*(s.Paper-s.Ink)
	s.Blank = max(quantile(means, 0.75), mid)

	// edge baseline from the cells that look unmarked
	var blank []float64
	for i, m := range means {
		if m >= mid {
			blank = append(blank, densities[i])
		}
	}
	if len(blank) == 0 {
		blank = densities
	}
	s.EdgeBaseline = quantile(blank, 0.5)
	return s
}

// Mean intensity over r.
func (s *SheetStats) Mean(r image.Rectangle) float64 {
	r = r.Intersect(image.Rect(0, 0, s.width, s.height))
	if r.Empty() {
		return 0
	}
	return float64(s.sum(r)) / float64(r.Dx()*r.Dy())
}

// EdgeDensity is the fraction of edge pixels in r.
func (s *SheetStats) EdgeDensity(r image.Rectangle) float64 {
	r = r.Intersect(image.Rect(0, 0, s.width, s.height))
	if r.Empty() {
		return 0
	}
	w := s.width + 1
	e := s.edges
	n := e[r.Max.Y*w+r.Max.X] - e[r.Min.Y*w+r.Max.X] - e[r.Max.Y*w+r.Min.X] + e[r.Min.Y*w+r.Min.X]
	return float64(n) / float64(r.Dx()*r.Dy())
}

func (s *SheetStats) sum(r image.Rectangle) int64 {
	w := s.width + 1
	t := s.integral
	return t[r.Max.Y*w+r.Max.X] - t[r.Min.Y*w+r.Max.X] - t[r.Max.Y*w+r.Min.X] + t[r.Min.Y*w+r.Min.X]
}

func summedArea(g *image.Gray, f func(uint8) int64) []int64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	t := make([]int64, (w+1)*(h+1))
	for y := range h {
		var row int64
		src := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := range w {
			row += f(src[x])
			t[(y+1)*(w+1)+x+1] = t[y*(w+1)+x+1] + row
		}
	}
	return t
}

func summedArea32(g *image.Gray, threshold uint8) []int32 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	t := make([]int32, (w+1)*(h+1))
	for y := range h {
		var row int32
		src := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := range w {
			if src[x] >= threshold {
				row++
			}
			t[(y+1)*(w+1)+x+1] = t[y*(w+1)+x+1] + row
		}
	}
	return t
}

func quantile(v []float64, q float64) float64 {
	s := slices.Clone(v)
	slices.Sort(s)
	i := int(q * float64(len(s)-1))
	return s[i]
}
