package barcode

import (
	"context"
	"image"
)

// Format is a barcode symbology.
type Format int

const (
	FormatUnknown Format = iota
	FormatQR
	FormatDataMatrix
	FormatCode128
)

func (f Format) String() string {
	switch f {
	case FormatQR:
		return "qr"
	case FormatDataMatrix:
		return "datamatrix"
	case FormatCode128:
		return "code128"
	default:
		return "unknown"
	}
}

// Options controls decoding.
type Options struct {
	// Formats constrains the symbologies searched. Empty means QR only.
	Formats []Format
	// TryHarder enables the slower exhaustive search.
	TryHarder bool
	// ROI restricts decoding to a sub-rectangle; ignored when empty.
	ROI image.Rectangle
}

// Point is an integer point in image coordinates.
type Point struct {
	X int
	Y int
}

// Result is one decoded symbol.
type Result struct {
	Type   Format
	Value  string
	Points []Point
	BBox   image.Rectangle
}

// Backend decodes symbols from an image.
type Backend interface {
	Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error)
}

// NewBackend returns the gozxing decoder.
func NewBackend() Backend { return &gozxingBackend{} }
