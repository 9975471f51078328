package utils

import (
	"image"
	"image/draw"
)

// ToGray converts any image to an 8-bit grayscale image anchored at (0,0).
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	switch src := img.(type) {
	case *image.Gray:
		for y := range b.Dy() {
			copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	case *image.NRGBA:
		for y := range b.Dy() {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := range b.Dx() {
				i := x * 4
				out.Pix[y*out.Stride+x] = luma(row[i], row[i+1], row[i+2], row[i+3])
			}
		}
	case *image.RGBA:
		for y := range b.Dy() {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := range b.Dx() {
				i := x * 4
				out.Pix[y*out.Stride+x] = lumaPremul(row[i], row[i+1], row[i+2], row[i+3])
			}
		}
	default:
		draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	}
	return out
}

// luma matches color.GrayModel weights; transparent pixels count as white paper.
func luma(r, g, b, a uint8) uint8 {
	if a == 0 {
		return 255
	}
	y := (19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16
	if a == 255 {
		return uint8(y)
	}
	return uint8((y*uint32(a) + 255*(255-uint32(a))) / 255)
}

// lumaPremul composites a premultiplied pixel over white.
func lumaPremul(r, g, b, a uint8) uint8 {
	y := (19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16
	return uint8(min(255, y+255-uint32(a)))
}

// CloneGray returns a deep copy of g anchored at (0,0).
func CloneGray(g *image.Gray) *image.Gray {
	return ToGray(g)
}

// Histogram counts intensities of g (optionally restricted to r).
func Histogram(g *image.Gray, r image.Rectangle) [256]int {
	var h [256]int
	r = r.Intersect(g.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := g.Pix[g.PixOffset(r.Min.X, y) : g.PixOffset(r.Min.X, y)+r.Dx()]
		for _, v := range row {
			h[v]++
		}
	}
	return h
}

// OtsuThreshold returns the level that maximizes between-class variance of
// the histogram. Pixels <= level belong to the dark class.
func OtsuThreshold(hist [256]int) uint8 {
	total := 0
	sumAll := 0.0
	for i, c := range hist {
		total += c
		sumAll += float64(i * c)
	}
	if total == 0 {
		return 127
	}
	var sumB, maxVar float64
	wB, best := 0, 0
	for t := range 256 {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sumAll - sumB) / float64(wF)
		if v := float64(wB) * float64(wF) * (mB - mF) * (mB - mF); v > maxVar {
			maxVar, best = v, t
		}
	}
	return uint8(best)
}

// Percentile returns the smallest level at or below which fraction p of the
// histogram mass lies.
func Percentile(hist [256]int, p float64) uint8 {
	total := 0
	for _, c := range hist {
		total += c
	}
	if total == 0 {
		return 0
	}
	target := int(p * float64(total))
	acc := 0
	for i, c := range hist {
		acc += c
		if acc > target {
			return uint8(i)
		}
	}
	return 255
}
