package normalize

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/grid"
	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/testutil"
	"github.com/MeKo-Tech/omr/internal/utils"
)

func newNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New(DefaultConfig())
	require.NoError(t, err)
	return n
}

func markedSheet(t *testing.T) (*image.Gray, []int) {
	t.Helper()
	spec := testutil.DefaultSheetSpec()
	answers := testutil.CyclicAnswers(spec.Layout)
	spec.Marks = testutil.SingleMarks(answers)
	return testutil.MustRender(t, spec), answers
}

// assertReadable checks that marked and blank bubbles land where the grid
// expects them on the canonical image.
func assertReadable(t *testing.T, c *CanonicalImage, answers []int) {
	t.Helper()
	l := layout.DefaultLayout()
	cells, err := grid.NewMapper(0).Map(c.Width(), c.Height(), l)
	require.NoError(t, err)

	bad := 0
	for i, cell := range cells {
		q, o := i/l.OptionsPerQuestion, i%l.OptionsPerQuestion
		mean := meanIn(c.Gray, utils.InsetRect(cell.Rect, 0.25))
		if o == answers[q] && mean > 110 {
			bad++
		}
		if o != answers[q] && mean < 170 {
			bad++
		}
	}
	assert.Zero(t, bad, "cells read on the wrong side of the threshold")
}

func meanIn(g *image.Gray, r image.Rectangle) float64 {
	sum, n := 0, 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			sum += int(g.GrayAt(x, y).Y)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MinAreaRatio = 0
	cfg.Illumination = "sepia"
	cfg.DetectionSide = 4000
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min area ratio")
	assert.Contains(t, err.Error(), "sepia")
	assert.Contains(t, err.Error(), "detection side")

	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNormalize_CanonicalInputIsNearIdentity(t *testing.T) {
	sheet, answers := markedSheet(t)
	c, err := newNormalizer(t).Normalize(sheet, layout.DefaultLayout())
	require.NoError(t, err)

	assert.Equal(t, 800, c.Width())
	assert.Equal(t, 1000, c.Height())
	assert.False(t, c.MarkerAdjusted)
	assert.Equal(t, 4, c.MarkersFound)
	assert.InDelta(t, 0, c.SkewDegrees, 0.5)
	assert.InDelta(t, 0.8, c.MeasuredAspect, 0.01)
	for _, m := range c.Markers {
		assert.InDelta(t, m.Expected.X, m.Found.X, 1)
		assert.InDelta(t, m.Expected.Y, m.Found.Y, 1)
	}

	differing := 0
	for i := range sheet.Pix {
		d := int(sheet.Pix[i]) - int(c.Gray.Pix[i])
		if d > 64 || d < -64 {
			differing++
		}
	}
	assert.Less(t, float64(differing)/float64(len(sheet.Pix)), 0.06)
	assert.InDelta(t, -0.5, c.SourceQuad[0].X, 1)
	assert.InDelta(t, 799.5, c.SourceQuad[2].X, 1)
	assert.InDelta(t, 999.5, c.SourceQuad[2].Y, 1)
	assertReadable(t, c, answers)
}

func TestNormalize_RecoversRotation(t *testing.T) {
	sheet, answers := markedSheet(t)
	for _, deg := range []float64{-15, -7, 4, 15} {
		capture := testutil.DefaultCaptureSpec()
		capture.Rotate = deg
		img := testutil.Capture(sheet, capture)

		c, err := newNormalizer(t).Normalize(img, layout.DefaultLayout())
		require.NoError(t, err, "rotation %v", deg)
		assert.Equal(t, 800, c.Width())
		assert.Equal(t, 1000, c.Height())
		assert.InDelta(t, deg, -c.SkewDegrees, 1.5, "rotation %v", deg)
		assert.Equal(t, 4, c.MarkersFound)
		for _, m := range c.Markers {
			assert.InDelta(t, m.Expected.X, m.Found.X, 2.5, "rotation %v", deg)
			assert.InDelta(t, m.Expected.Y, m.Found.Y, 2.5, "rotation %v", deg)
		}
		assertReadable(t, c, answers)
	}
}

func TestNormalize_PerspectiveLightingAndNoise(t *testing.T) {
	sheet, answers := markedSheet(t)
	capture := testutil.DefaultCaptureSpec()
	capture.Keystone = 0.08
	capture.Rotate = -5
	capture.Gradient = 0.35
	capture.Noise = 12
	capture.Seed = 7

	c, err := newNormalizer(t).Normalize(testutil.Capture(sheet, capture), layout.DefaultLayout())
	require.NoError(t, err)
	assert.Equal(t, 800, c.Width())
	assert.GreaterOrEqual(t, c.MarkersFound, 3)
	assertReadable(t, c, answers)
}

func TestNormalize_CLAHE(t *testing.T) {
	sheet, answers := markedSheet(t)
	cfg := DefaultConfig()
	cfg.Illumination = IlluminationCLAHE
	n, err := New(cfg)
	require.NoError(t, err)

	capture := testutil.DefaultCaptureSpec()
	capture.Gradient = 0.3
	c, err := n.Normalize(testutil.Capture(sheet, capture), layout.DefaultLayout())
	require.NoError(t, err)
	assertReadable(t, c, answers)
}

func TestNormalize_Deterministic(t *testing.T) {
	sheet, _ := markedSheet(t)
	capture := testutil.DefaultCaptureSpec()
	capture.Rotate = 6
	capture.Noise = 10
	img := testutil.Capture(sheet, capture)

	a, err := newNormalizer(t).Normalize(img, layout.DefaultLayout())
	require.NoError(t, err)
	b, err := newNormalizer(t).Normalize(img, layout.DefaultLayout())
	require.NoError(t, err)
	assert.Equal(t, a.Gray.Pix, b.Gray.Pix)
	assert.Equal(t, a.SourceQuad, b.SourceQuad)
}

func TestNormalize_NoSheet(t *testing.T) {
	n := newNormalizer(t)

	flat := image.NewGray(image.Rect(0, 0, 600, 800))
	draw.Draw(flat, flat.Bounds(), &image.Uniform{color.Gray{Y: 128}}, image.Point{}, draw.Src)
	_, err := n.Normalize(flat, layout.DefaultLayout())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrSheetNotDetected)

	// A bright patch far below the minimum area ratio.
	small := image.NewGray(image.Rect(0, 0, 600, 800))
	draw.Draw(small, small.Bounds(), &image.Uniform{color.Gray{Y: 30}}, image.Point{}, draw.Src)
	draw.Draw(small, image.Rect(250, 350, 350, 450), &image.Uniform{color.Gray{Y: 250}}, image.Point{}, draw.Src)
	_, err = n.Normalize(small, layout.DefaultLayout())
	require.Error(t, err)
	assert.Equal(t, common.KindSheetNotDetected, common.KindOf(err))

	_, err = n.Normalize(image.NewGray(image.Rect(0, 0, 0, 0)), layout.DefaultLayout())
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestNormalize_KeepsForeignAspect(t *testing.T) {
	wide := layout.DefaultLayout()
	wide.AspectRatio = 1.25
	wide.Markers = nil
	spec := testutil.DefaultSheetSpec()
	spec.Layout = wide
	spec.Labels = false
	sheet := testutil.MustRender(t, spec)

	c, err := newNormalizer(t).Normalize(testutil.Capture(sheet, testutil.DefaultCaptureSpec()), layout.DefaultLayout())
	require.NoError(t, err)
	assert.InDelta(t, 1250, c.Width(), 10)

	_, err = grid.NewMapper(0).Map(c.Width(), c.Height(), layout.DefaultLayout())
	assert.ErrorIs(t, err, common.ErrLayoutMismatch)
}

func TestSelectCandidate(t *testing.T) {
	skewed := quadCandidate{area: 1000, deviation: 8}
	square := quadCandidate{area: 980, deviation: 1}
	small := quadCandidate{area: 500, deviation: 0}

	got, ok := selectCandidate([]quadCandidate{skewed, square, small}, 0.05)
	require.True(t, ok)
	assert.Equal(t, square, got, "close areas compete on squareness")

	got, _ = selectCandidate([]quadCandidate{skewed, small}, 0.05)
	assert.Equal(t, skewed, got, "a much smaller region never wins")

	twin := quadCandidate{area: 990, deviation: 1}
	got, _ = selectCandidate([]quadCandidate{twin, square}, 0.05)
	assert.Equal(t, twin, got, "equal squareness falls back to area")

	_, ok = selectCandidate(nil, 0.05)
	assert.False(t, ok)
}
