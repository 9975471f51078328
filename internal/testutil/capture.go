package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand/v2"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/omr/internal/utils"
)

// CaptureSpec simulates photographing a sheet: the sheet is placed on a
// darker background, optionally keystoned, rotated, unevenly lit and noisy.
type CaptureSpec struct {
	Margin     int
	Background uint8
	Rotate     float64 // degrees, counter-clockwise
	Keystone   float64 // fraction by which the top edge is narrower than the bottom
	Gradient   float64 // brightness falloff from left to right, 0..1
	Noise      float64 // max absolute noise in gray levels
	Seed       uint64
}

// DefaultCaptureSpec places the sheet flat on a dark desk.
func DefaultCaptureSpec() CaptureSpec {
	return CaptureSpec{Margin: 80, Background: 50, Seed: 1}
}

// Capture renders sheet as seen through c.
func Capture(sheet *image.Gray, c CaptureSpec) *image.Gray {
	sb := sheet.Bounds()
	w, h := sb.Dx(), sb.Dy()
	m := max(0, c.Margin)
	bg := color.Gray{Y: c.Background}

	canvas := image.NewGray(image.Rect(0, 0, w+2*m, h+2*m))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(m, m, m+w, m+h), sheet, sb.Min, draw.Src)

	if c.Keystone != 0 {
		canvas = keystone(canvas, m, w, h, c.Keystone, c.Background)
	}
	if c.Rotate != 0 {
		canvas = utils.ToGray(imaging.Rotate(canvas, c.Rotate, bg))
	}
	if c.Gradient != 0 || c.Noise != 0 {
		shade(canvas, c.Gradient, c.Noise, c.Seed)
	}
	return canvas
}

// keystone narrows the top edge of the sheet symmetrically, as a camera
// tilted away from the top of the page would.
func keystone(canvas *image.Gray, m, w, h int, k float64, bg uint8) *image.Gray {
	fm, fw, fh := float64(m), float64(w), float64(h)
	inset := k * fw / 2
	seen := [4]utils.Point{
		{X: fm + inset, Y: fm}, {X: fm + fw - inset, Y: fm},
		{X: fm + fw, Y: fm + fh}, {X: fm, Y: fm + fh},
	}
	flat := [4]utils.Point{
		{X: fm, Y: fm}, {X: fm + fw, Y: fm},
		{X: fm + fw, Y: fm + fh}, {X: fm, Y: fm + fh},
	}
	hm, ok := utils.ComputeHomography(seen, flat)
	if !ok {
		return canvas
	}
	b := canvas.Bounds()
	return utils.WarpGray(canvas, hm, b.Dx(), b.Dy(), bg)
}

func shade(img *image.Gray, gradient, noise float64, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	b := img.Bounds()
	w := float64(b.Dx())
	for y := range b.Dy() {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()]
		for x, v := range row {
			f := float64(v) * (1 - gradient*float64(x)/w)
			if noise > 0 {
				f += (rng.Float64()*2 - 1) * noise
			}
			row[x] = uint8(math.Max(0, math.Min(255, math.Round(f))))
		}
	}
}
