package pipeline

import (
	"context"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/grid"
	"github.com/MeKo-Tech/omr/internal/testutil"
)

func TestHeatColor(t *testing.T) {
	s := DefaultOverlayStyle()
	blank := s.HeatColor(0)
	full := s.HeatColor(1)
	assert.InDelta(t, s.Blank.R, blank.R, 1e-3)
	assert.InDelta(t, s.Filled.R, full.R, 1e-3)
	assert.True(t, s.HeatColor(0.5).IsValid())
	assert.Equal(t, full, s.HeatColor(3))
}

func TestRenderOverlay(t *testing.T) {
	_, err := RenderOverlay(&SheetResult{}, DefaultOverlayStyle())
	assert.Error(t, err)

	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)
	spec.Marks = testutil.DoubleMark(spec.Marks, spec.Layout, 1)
	res, err := p.Grade(context.Background(), testutil.MustRender(t, spec), Request{Version: "A", Trace: true})
	require.NoError(t, err)
	require.NotNil(t, res.Trace)

	style := DefaultOverlayStyle()
	img, err := RenderOverlay(res, style)
	require.NoError(t, err)
	assert.Equal(t, res.Trace.Canonical.Gray.Bounds().Size(), img.Bounds().Size())

	l := spec.Layout
	answer := res.Trace.Answers[0]
	chosen := res.Trace.Cells[grid.Index(l, 0, 0, answer.Option)].Rect
	assert.Equal(t, style.Correct, img.At(chosen.Min.X, chosen.Min.Y))

	multi := res.Trace.Answers[1]
	require.Len(t, multi.Marked, 2)
	mr := res.Trace.Cells[grid.Index(l, 0, 1, multi.Marked[0])].Rect
	assert.Equal(t, style.Multiple, img.At(mr.Min.X, mr.Min.Y))

	blankOpt := (answer.Option + 2) % l.OptionsPerQuestion
	br := res.Trace.Cells[grid.Index(l, 0, 0, blankOpt)].Rect
	c := img.RGBAAt(br.Min.X+br.Dx()/2, br.Min.Y+br.Dy()/2)
	assert.Greater(t, c.B, c.R, "blank cells lean blue")
	assert.Equal(t, uint8(255), c.A)
}

func TestRenderDetection(t *testing.T) {
	_, err := RenderDetection(nil, &SheetResult{}, color.White)
	assert.Error(t, err)

	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)
	img := testutil.Capture(testutil.MustRender(t, spec), testutil.DefaultCaptureSpec())
	_, err = RenderDetection(img, &SheetResult{}, color.White)
	assert.Error(t, err)

	res, err := p.Grade(context.Background(), img, Request{Version: "A", Trace: true})
	require.NoError(t, err)

	red := color.RGBA{255, 0, 0, 255}
	out, err := RenderDetection(img, res, red)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds().Size(), out.Bounds().Size())

	tl := res.Trace.Canonical.SourceQuad[0]
	assert.Equal(t, red, out.RGBAAt(int(math.Round(tl.X)), int(math.Round(tl.Y))))
}
