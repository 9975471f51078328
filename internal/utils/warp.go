package utils

import (
	"image"
	"math"
)

// WarpGray renders a w x h image whose pixel (x, y) samples src at
// h.Apply(x, y) with bilinear interpolation. Samples outside src take fill.
func WarpGray(src *image.Gray, h Homography, w, hgt int, fill uint8) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, w, hgt))
	for y := range hgt {
		row := out.Pix[y*out.Stride : y*out.Stride+w]
		for x := range w {
			sx, sy := h.Apply(float64(x), float64(y))
			row[x] = SampleGray(src, sx, sy, fill)
		}
	}
	return out
}

// SampleGray bilinearly interpolates src at (x, y), given in coordinates
// relative to src's bounds origin.
func SampleGray(src *image.Gray, x, y float64, fill uint8) uint8 {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if x < -0.5 || y < -0.5 || x > float64(w)-0.5 || y > float64(h)-0.5 || math.IsNaN(x) || math.IsNaN(y) {
		return fill
	}
	x = math.Max(0, math.Min(x, float64(w-1)))
	y = math.Max(0, math.Min(y, float64(h-1)))
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)

	at := func(px, py int) float64 { return float64(src.Pix[py*src.Stride+px]) }
	top := at(x0, y0) + (at(x1, y0)-at(x0, y0))*fx
	bot := at(x0, y1) + (at(x1, y1)-at(x0, y1))*fx
	v := top + (bot-top)*fy
	return uint8(math.Max(0, math.Min(255, v+0.5)))
}
