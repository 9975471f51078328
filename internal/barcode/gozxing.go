package barcode

import (
	"context"
	"errors"
	"image"
	"image/draw"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNotFound is returned when no symbol could be decoded.
var ErrNotFound = errors.New("barcode: no symbol found")

type gozxingBackend struct{}

func (b *gozxingBackend) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if !opts.ROI.Empty() {
		sub, ok := subImage(img, opts.ROI)
		if !ok {
			return nil, ErrNotFound
		}
		img = sub
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, err
	}
	hints := map[gozxing.DecodeHintType]any{}
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	formats := opts.Formats
	if len(formats) == 0 {
		formats = []Format{FormatQR}
	}
	var out []Result
	for _, f := range formats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reader := readerFor(f)
		if reader == nil {
			continue
		}
		r, err := reader.Decode(bmp, hints)
		if err != nil {
			continue
		}
		out = append(out, toResult(f, r, img.Bounds().Min))
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func readerFor(f Format) gozxing.Reader {
	switch f {
	case FormatQR:
		return qrcode.NewQRCodeReader()
	case FormatDataMatrix:
		return datamatrix.NewDataMatrixReader()
	case FormatCode128:
		return oned.NewCode128Reader()
	default:
		return nil
	}
}

func toResult(f Format, r *gozxing.Result, origin image.Point) Result {
	pts := r.GetResultPoints()
	points := make([]Point, 0, len(pts))
	for _, p := range pts {
		points = append(points, Point{X: int(p.GetX()) + origin.X, Y: int(p.GetY()) + origin.Y})
	}
	return Result{Type: f, Value: r.GetText(), Points: points, BBox: rectFromPoints(points)}
}

func rectFromPoints(pts []Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	minX, minY, maxX, maxY := pts[0].X, pts[0].Y, pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		minX, minY = min(minX, p.X), min(minY, p.Y)
		maxX, maxY = max(maxX, p.X), max(maxY, p.Y)
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

func subImage(img image.Image, r image.Rectangle) (image.Image, bool) {
	rb := r.Intersect(img.Bounds())
	if rb.Empty() {
		return nil, false
	}
	type subImager interface{ SubImage(r image.Rectangle) image.Image }
	if s, ok := img.(subImager); ok {
		return s.SubImage(rb), true
	}
	dst := image.NewRGBA(image.Rect(0, 0, rb.Dx(), rb.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rb.Min, draw.Src)
	return dst, true
}
