package normalize

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/omr/internal/utils"
)

// equalize applies the configured illumination correction.
func (n *Normalizer) equalize(g *image.Gray) *image.Gray {
	switch n.cfg.Illumination {
	case IlluminationFlatField:
		return flatField(g, n.cfg.FlatFieldBlock)
	case IlluminationCLAHE:
		return clahe(g, n.cfg.CLAHETiles, n.cfg.CLAHEClip)
	default:
		return g
	}
}

// flatField estimates the paper level per block (90th percentile, so ink
// never dominates), smooths and upsamples that estimate, then divides it out.
func flatField(g *image.Gray, block int) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if block <= 0 {
		block = max(16, h/24)
	}
	bw, bh := (w+block-1)/block, (h+block-1)/block

	bg := image.NewGray(image.Rect(0, 0, bw, bh))
	for by := range bh {
		for bx := range bw {
			r := image.Rect(bx*block, by*block, (bx+1)*block, (by+1)*block)
			hist := utils.Histogram(g, r)
			bg.Pix[by*bg.Stride+bx] = max(1, utils.Percentile(hist, 0.9))
		}
	}

	smooth := imaging.Resize(imaging.Blur(bg, 1), w, h, imaging.Linear)
	field := utils.ToGray(smooth)

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		src := g.Pix[y*g.Stride : y*g.Stride+w]
		ref := field.Pix[y*field.Stride : y*field.Stride+w]
		dst := out.Pix[y*out.Stride : y*out.Stride+w]
		for x, v := range src {
			p := float64(max(ref[x], 1))
			dst[x] = uint8(math.Min(255, math.Round(float64(v)*255/p)))
		}
	}
	return out
}

// clahe is contrast-limited adaptive histogram equalization with bilinear
// blending between tile mappings.
func clahe(g *image.Gray, tiles int, clip float64) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	tw, th := max(1, (w+tiles-1)/tiles), max(1, (h+tiles-1)/tiles)
	nx, ny := (w+tw-1)/tw, (h+th-1)/th

	maps := make([][256]uint8, nx*ny)
	for ty := range ny {
		for tx := range nx {
			r := image.Rect(tx*tw, ty*th, min(w, (tx+1)*tw), min(h, (ty+1)*th))
			maps[ty*nx+tx] = tileMapping(utils.Histogram(g, r), r.Dx()*r.Dy(), clip)
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		fy := (float64(y)+0.5)/float64(th) - 0.5
		y0 := clampIdx(int(math.Floor(fy)), ny)
		y1 := clampIdx(y0+1, ny)
		ay := math.Max(0, math.Min(1, fy-float64(y0)))
		for x := range w {
			fx := (float64(x)+0.5)/float64(tw) - 0.5
			x0 := clampIdx(int(math.Floor(fx)), nx)
			x1 := clampIdx(x0+1, nx)
			ax := math.Max(0, math.Min(1, fx-float64(x0)))

			v := g.Pix[y*g.Stride+x]
			top := (1-ax)*float64(maps[y0*nx+x0][v]) + ax*float64(maps[y0*nx+x1][v])
			bot := (1-ax)*float64(maps[y1*nx+x0][v]) + ax*float64(maps[y1*nx+x1][v])
			out.Pix[y*out.Stride+x] = uint8(math.Round((1-ay)*top + ay*bot))
		}
	}
	return out
}

func tileMapping(hist [256]int, n int, clip float64) [256]uint8 {
	var m [256]uint8
	if n == 0 {
		for i := range m {
			m[i] = uint8(i)
		}
		return m
	}
	limit := max(1, int(clip*float64(n)/256))
	excess := 0
	for i, c := range hist {
		if c > limit {
			excess += c - limit
			hist[i] = limit
		}
	}
	bonus, rest := excess/256, excess%256
	acc := 0
	for i := range hist {
		acc += hist[i] + bonus
		if i < rest {
			acc++
		}
		m[i] = uint8(math.Min(255, math.Round(float64(acc)*255/float64(n))))
	}
	return m
}

func clampIdx(i, n int) int {
	return max(0, min(i, n-1))
}
