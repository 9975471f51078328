package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLayout(t *testing.T) {
	l := DefaultLayout()
	require.NoError(t, l.Validate())
	assert.Equal(t, 100, l.TotalQuestions())
	assert.Equal(t, 400, l.CellCount())
	assert.Equal(t, 1, l.Bands())
	assert.Equal(t, 5, l.SubjectsPerRow())
	assert.Equal(t, 0, l.SubjectIndex("Mathematics"))
	assert.Equal(t, -1, l.SubjectIndex("History"))
}

func TestOptionLabels(t *testing.T) {
	l := DefaultLayout()
	assert.Equal(t, "A", l.OptionLabel(0))
	assert.Equal(t, "D", l.OptionLabel(3))

	i, err := l.ParseOption(" b ")
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	_, err = l.ParseOption("E")
	assert.ErrorContains(t, err, "A,B,C,D")

	l.OptionLabels = []string{"1", "2", "3", "4"}
	i, err = l.ParseOption("3")
	require.NoError(t, err)
	assert.Equal(t, 2, i)
	assert.Equal(t, "#30", LetterLabel(30))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(l *SheetLayout)
		want   string
	}{
		{"no id", func(l *SheetLayout) { l.ID = "" }, "id is required"},
		{"no subjects", func(l *SheetLayout) { l.Subjects = nil }, "at least one subject"},
		{"duplicate subject", func(l *SheetLayout) { l.Subjects = []string{"A", "A"} }, "duplicate subject"},
		{"one option", func(l *SheetLayout) { l.OptionsPerQuestion = 1 }, "options_per_question"},
		{"labels mismatch", func(l *SheetLayout) { l.OptionLabels = []string{"x"} }, "option_labels"},
		{"bad aspect", func(l *SheetLayout) { l.AspectRatio = 0 }, "aspect_ratio"},
		{"area outside", func(l *SheetLayout) { l.Grid.Area.Right = 1.2 }, "grid.area"},
		{"bubble fill", func(l *SheetLayout) { l.Grid.BubbleFill = 0 }, "bubble_fill"},
		{"marker", func(l *SheetLayout) { l.Markers[0].Size = 0 }, "marker 0"},
		{"version region", func(l *SheetLayout) { l.VersionRegion = &Rect{Left: 0.5, Right: 0.4, Top: 0, Bottom: 1} }, "version_region"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLayout()
			tt.mutate(l)
			assert.ErrorContains(t, l.Validate(), tt.want)
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	data, err := Marshal(DefaultLayout())
	require.NoError(t, err)

	l, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, DefaultLayout(), l)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("id: x\nversion: A\nbogus: 1\n"))
	assert.Error(t, err)
}

const compactLayout = `
id: quiz
version: Q1
subjects: [Science]
questions_per_subject: 10
options_per_question: 5
aspect_ratio: 0.7071
grid:
  area: {left: 0.1, top: 0.2, right: 0.9, bottom: 0.9}
  label_width: 0.15
  bubble_fill: 0.7
`

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quiz.yaml"), []byte(compactLayout), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o600))

	reg, err := LoadRegistry(dir, "quiz")
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "quiz"}, reg.IDs())
	assert.Equal(t, "quiz", reg.DefaultID())

	l, err := reg.Get("")
	require.NoError(t, err)
	assert.Equal(t, 50, l.CellCount())
	assert.Equal(t, 1, l.SubjectsPerRow())

	_, err = reg.Get("missing")
	assert.ErrorContains(t, err, "unknown layout")
	assert.Len(t, reg.All(), 2)
}

func TestLoadRegistry_BuiltinOnly(t *testing.T) {
	reg, err := LoadRegistry("", "")
	require.NoError(t, err)
	assert.Equal(t, "default", reg.Default().ID)
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry("")
	assert.Error(t, err)

	_, err = NewRegistry("", DefaultLayout(), DefaultLayout())
	assert.ErrorContains(t, err, "duplicate layout")

	_, err = NewRegistry("nope", DefaultLayout())
	assert.ErrorContains(t, err, "not found")
}

func TestGeometryHelpers(t *testing.T) {
	l := DefaultLayout()
	x, y := l.Markers[2].Center(800, 1000)
	assert.InDelta(t, 760, x, 1e-9)
	assert.InDelta(t, 960, y, 1e-9)
	assert.InDelta(t, 24, l.Markers[2].Side(800), 1e-9)

	r := l.VersionRegion.Pixels(800, 1000)
	assert.Equal(t, 608, r.Min.X)
	assert.Equal(t, 70, r.Min.Y)
	assert.Equal(t, 752, r.Max.X)
	assert.Equal(t, 210, r.Max.Y)
}
