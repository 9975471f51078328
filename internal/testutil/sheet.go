package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MeKo-Tech/omr/internal/grid"
	"github.com/MeKo-Tech/omr/internal/layout"
)

// DefaultSheetHeight is the rendered height of a canonical sheet.
const DefaultSheetHeight = 1000

const (
	paperLevel   = 255
	outlineLevel = 110
	defaultInk   = 20
)

// SheetSpec describes a synthetic answer sheet.
type SheetSpec struct {
	Layout *layout.SheetLayout
	Height int // canonical height in pixels; width follows the layout aspect

	// Marks lists the marked options per question, indexed by
	// subject*QuestionsPerSubject + question. Missing entries are blank.
	Marks [][]int
	// Ink is the gray level of a mark (0 = black).
	Ink uint8
	// FillRadius is the filled fraction of the bubble radius.
	FillRadius float64
	// Faint overrides Ink for single questions, for partial erasures.
	Faint map[int]uint8

	// Version, when set, is printed as a QR code inside the layout's
	// version region.
	Version string
	Labels  bool
}

// DefaultSheetSpec returns a blank sheet for the default layout.
func DefaultSheetSpec() SheetSpec {
	return SheetSpec{
		Layout:     layout.DefaultLayout(),
		Height:     DefaultSheetHeight,
		Ink:        defaultInk,
		FillRadius: 0.9,
		Labels:     true,
	}
}

// SheetSize returns the canonical width and height for spec.
func (s SheetSpec) SheetSize() (int, int) {
	h := s.Height
	if h <= 0 {
		h = DefaultSheetHeight
	}
	return int(math.Round(float64(h) * s.Layout.AspectRatio)), h
}

// RenderSheet draws an axis-aligned sheet filling the whole image.
func RenderSheet(spec SheetSpec) (*image.Gray, error) {
	if spec.Layout == nil {
		spec.Layout = layout.DefaultLayout()
	}
	if spec.FillRadius <= 0 {
		spec.FillRadius = 0.9
	}
	l := spec.Layout
	w, h := spec.SheetSize()
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.Gray{Y: paperLevel}}, image.Point{}, draw.Src)

	for _, m := range l.Markers {
		cx, cy := m.Center(float64(w), float64(h))
		side := m.Side(float64(w))
		r := image.Rect(
			int(math.Round(cx-side/2)), int(math.Round(cy-side/2)),
			int(math.Round(cx+side/2)), int(math.Round(cy+side/2)),
		)
		draw.Draw(img, r, &image.Uniform{color.Gray{Y: 0}}, image.Point{}, draw.Src)
	}

	cells, err := grid.NewMapper(0).Map(w, h, l)
	if err != nil {
		return nil, fmt.Errorf("lay out synthetic sheet: %w", err)
	}
	for i, c := range cells {
		q := i / l.OptionsPerQuestion
		ink, marked := spec.markLevel(q, c.Option)
		drawBubble(img, c.Rect, marked, ink, spec.FillRadius)
	}

	if spec.Labels {
		drawLabels(img, l, cells)
	}
	if spec.Version != "" && l.VersionRegion != nil {
		if err := drawQR(img, l.VersionRegion.Pixels(w, h), spec.Version); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func (s SheetSpec) markLevel(question, option int) (uint8, bool) {
	if question >= len(s.Marks) {
		return 0, false
	}
	for _, o := range s.Marks[question] {
		if o == option {
			if v, ok := s.Faint[question]; ok {
				return v, true
			}
			return s.Ink, true
		}
	}
	return 0, false
}

func drawBubble(img *image.Gray, r image.Rectangle, marked bool, ink uint8, fill float64) {
	cx := float64(r.Min.X+r.Max.X) / 2
	cy := float64(r.Min.Y+r.Max.Y) / 2
	radius := float64(min(r.Dx(), r.Dy()))/2 - 1
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			switch {
			case marked && d <= radius*fill:
				img.SetGray(x, y, color.Gray{Y: ink})
			case math.Abs(d-radius) <= 0.75:
				img.SetGray(x, y, color.Gray{Y: outlineLevel})
			}
		}
	}
}

func drawLabels(img *image.Gray, l *layout.SheetLayout, cells []grid.CellRegion) {
	d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13}
	text := func(s string, x, y int) {
		d.Dot = fixed.P(x, y)
		d.DrawString(s)
	}

	text("ANSWER SHEET", int(0.1*float64(img.Bounds().Dx())), int(0.12*float64(img.Bounds().Dy())))
	for s, name := range l.Subjects {
		first := cells[grid.Index(l, s, 0, 0)].Rect
		text(name, max(0, first.Min.X-first.Dx()), first.Min.Y-8)
		for q := range l.QuestionsPerSubject {
			c := cells[grid.Index(l, s, q, 0)].Rect
			num := strconv.Itoa(q + 1)
			width := font.MeasureString(basicfont.Face7x13, num).Ceil()
			text(num, c.Min.X-4-width, (c.Min.Y+c.Max.Y)/2+5)
		}
	}
}

func drawQR(img *image.Gray, region image.Rectangle, content string) error {
	side := min(region.Dx(), region.Dy())
	bm, err := qrcode.NewQRCodeWriter().Encode(content, gozxing.BarcodeFormat_QR_CODE, side, side, nil)
	if err != nil {
		return fmt.Errorf("encode version QR: %w", err)
	}
	ox := region.Min.X + (region.Dx()-bm.GetWidth())/2
	oy := region.Min.Y + (region.Dy()-bm.GetHeight())/2
	for y := range bm.GetHeight() {
		for x := range bm.GetWidth() {
			if bm.Get(x, y) {
				img.SetGray(ox+x, oy+y, color.Gray{Y: 0})
			}
		}
	}
	return nil
}
