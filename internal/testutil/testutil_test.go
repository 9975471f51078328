package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/grid"
	"github.com/MeKo-Tech/omr/internal/layout"
)

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRoot()
	require.NoError(t, err)
	assert.True(t, FileExists(root+"/go.mod"))
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir() + "/a/b/c"
	require.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(dir+"/missing"))
}

func TestRenderSheet_Default(t *testing.T) {
	spec := DefaultSheetSpec()
	spec.Marks = SingleMarks(CyclicAnswers(spec.Layout))
	img := MustRender(t, spec)

	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 1000, img.Bounds().Dy())

	// Marker centres are black.
	for _, m := range spec.Layout.Markers {
		x, y := m.Center(800, 1000)
		assert.Equal(t, uint8(0), img.GrayAt(int(x), int(y)).Y)
	}

	cells, err := grid.NewMapper(0).Map(800, 1000, spec.Layout)
	require.NoError(t, err)
	answers := CyclicAnswers(spec.Layout)
	for q := 0; q < 5; q++ {
		for o := range 4 {
			r := cells[q*4+o].Rect
			c := img.GrayAt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2).Y
			if o == answers[q] {
				assert.Equal(t, uint8(defaultInk), c)
			} else {
				assert.Equal(t, uint8(paperLevel), c)
			}
		}
	}
}

func TestRenderSheet_FaintOverridesInk(t *testing.T) {
	spec := DefaultSheetSpec()
	spec.Marks = [][]int{{2}}
	spec.Faint = map[int]uint8{0: 180}
	img := MustRender(t, spec)

	cells, err := grid.NewMapper(0).Map(800, 1000, spec.Layout)
	require.NoError(t, err)
	r := cells[2].Rect
	assert.Equal(t, uint8(180), img.GrayAt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2).Y)
}

func TestCapture_AddsMarginAndRotation(t *testing.T) {
	sheet := MustRender(t, DefaultSheetSpec())

	flat := Capture(sheet, DefaultCaptureSpec())
	assert.Equal(t, 960, flat.Bounds().Dx())
	assert.Equal(t, 1160, flat.Bounds().Dy())
	assert.Equal(t, uint8(50), flat.GrayAt(5, 5).Y)

	c := DefaultCaptureSpec()
	c.Rotate = 10
	rotated := Capture(sheet, c)
	assert.Greater(t, rotated.Bounds().Dx(), flat.Bounds().Dx())
}

func TestCapture_Deterministic(t *testing.T) {
	sheet := MustRender(t, DefaultSheetSpec())
	c := DefaultCaptureSpec()
	c.Noise = 20
	c.Gradient = 0.3
	c.Keystone = 0.05
	a := Capture(sheet, c)
	b := Capture(sheet, c)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestRandomMarks(t *testing.T) {
	l := layout.DefaultLayout()
	marks := RandomMarks(l, MarkOptions{Seed: 3, BlankRate: 0.1, DoubleRate: 0.1})
	require.Len(t, marks, l.TotalQuestions())
	for _, m := range marks {
		assert.LessOrEqual(t, len(m), 2)
		if len(m) == 2 {
			assert.NotEqual(t, m[0], m[1])
		}
	}
	assert.Equal(t, marks, RandomMarks(l, MarkOptions{Seed: 3, BlankRate: 0.1, DoubleRate: 0.1}))

	doubled := DoubleMark(SingleMarks([]int{1, -1}), l, 0, 1)
	assert.Equal(t, [][]int{{1, 2}, {0, 1}}, doubled)
}
