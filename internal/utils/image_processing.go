package utils

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ImageConstraints bounds accepted input dimensions. Zero max means unbounded.
type ImageConstraints struct {
	MaxWidth  int
	MaxHeight int
	MinWidth  int
	MinHeight int
}

// DefaultImageConstraints returns the limits applied to uploaded sheets.
func DefaultImageConstraints() ImageConstraints {
	return ImageConstraints{
		MaxWidth:  10000,
		MaxHeight: 10000,
		MinWidth:  100,
		MinHeight: 100,
	}
}

// FitScale returns the factor that shrinks w x h so its longer side is at
// most maxSide. It never enlarges.
func FitScale(w, h, maxSide int) float64 {
	if maxSide <= 0 || w <= 0 || h <= 0 {
		return 1
	}
	s := float64(maxSide) / float64(max(w, h))
	return math.Min(1, s)
}

// ResizeGray resamples a grayscale image to w x h.
func ResizeGray(g *image.Gray, w, h int, filter imaging.ResampleFilter) (*image.Gray, error) {
	if g == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	if w <= 0 || h <= 0 {
		return nil, &ImageProcessingError{Operation: "resize", Err: fmt.Errorf("invalid target size %dx%d", w, h)}
	}
	b := g.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return CloneGray(g), nil
	}
	return ToGray(imaging.Resize(g, w, h, filter)), nil
}

// ShrinkGray downsamples g so its longer side is at most maxSide and returns
// the applied scale.
func ShrinkGray(g *image.Gray, maxSide int) (*image.Gray, float64, error) {
	b := g.Bounds()
	s := FitScale(b.Dx(), b.Dy(), maxSide)
	if s >= 1 {
		return g, 1, nil
	}
	w := max(1, int(math.Round(float64(b.Dx())*s)))
	h := max(1, int(math.Round(float64(b.Dy())*s)))
	out, err := ResizeGray(g, w, h, imaging.Box)
	if err != nil {
		return nil, 0, err
	}
	return out, s, nil
}
