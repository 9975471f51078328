package barcode

import (
	"context"
	"image"
	"strings"

	"github.com/MeKo-Tech/omr/internal/layout"
)

// VersionReader reads the sheet version from the layout's version region.
type VersionReader struct {
	Backend Backend
	// Pad grows the region by this fraction on each side before decoding,
	// to keep the quiet zone after imperfect normalization.
	Pad float64
}

// NewVersionReader returns a reader backed by gozxing.
func NewVersionReader() *VersionReader {
	return &VersionReader{Backend: NewBackend(), Pad: 0.1}
}

// Read decodes the version. ok is false when the layout has no version
// region or nothing could be decoded.
func (v *VersionReader) Read(ctx context.Context, img image.Image, l *layout.SheetLayout) (string, bool) {
	if l.VersionRegion == nil {
		return "", false
	}
	b := img.Bounds()
	roi := l.VersionRegion.Pixels(b.Dx(), b.Dy()).Add(b.Min)
	dx := int(float64(roi.Dx()) * v.Pad)
	dy := int(float64(roi.Dy()) * v.Pad)
	roi = image.Rect(roi.Min.X-dx, roi.Min.Y-dy, roi.Max.X+dx, roi.Max.Y+dy)

	res, err := v.Backend.Decode(ctx, img, Options{Formats: []Format{FormatQR}, TryHarder: true, ROI: roi})
	if err != nil || len(res) == 0 {
		return "", false
	}
	val := strings.TrimSpace(res[0].Value)
	return val, val != ""
}
