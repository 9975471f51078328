package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/answerkey"
	"github.com/MeKo-Tech/omr/internal/classifier"
	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/fill"
	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/normalize"
	"github.com/MeKo-Tech/omr/internal/testutil"
)

// keyFor binds a key whose correct answers are options.
func keyFor(t *testing.T, version string, l *layout.SheetLayout, options []int) *answerkey.Key {
	t.Helper()
	ak, err := answerkey.FromOptions(version, l, options)
	require.NoError(t, err)
	k, err := ak.Bind(l)
	require.NoError(t, err)
	return k
}

func newTestPipeline(t *testing.T, configure func(*Builder)) *Pipeline {
	t.Helper()
	l := layout.DefaultLayout()
	reg, err := layout.NewRegistry("", l)
	require.NoError(t, err)
	answers := testutil.CyclicAnswers(l)
	shifted := make([]int, len(answers))
	for i, a := range answers {
		shifted[i] = (a + 1) % l.OptionsPerQuestion
	}
	store, err := answerkey.NewStore(keyFor(t, "A", l, answers), keyFor(t, "B", l, shifted))
	require.NoError(t, err)

	b := NewBuilder().WithRegistry(reg).WithKeys(store).WithSecondary(classifier.DefaultLogistic())
	if configure != nil {
		configure(b)
	}
	p, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func cyclicSheet(t *testing.T) (testutil.SheetSpec, []int) {
	t.Helper()
	spec := testutil.DefaultSheetSpec()
	answers := testutil.CyclicAnswers(spec.Layout)
	spec.Marks = testutil.SingleMarks(answers)
	return spec, answers
}

func TestBuilder_Validate(t *testing.T) {
	require.NoError(t, NewBuilder().Validate())

	b := NewBuilder().WithAmbiguityBand(0.9, 0.1)
	b.cfg.LowConfidenceThreshold = 2
	err := b.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguity band")
	assert.Contains(t, err.Error(), "low confidence")

	_, err = b.Build()
	assert.Error(t, err)
}

func TestBuilder_DefaultsUseDemoKeys(t *testing.T) {
	p, err := NewBuilder().WithClassifier(classifier.KindNone, "").Build()
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	assert.Equal(t, []string{"A"}, p.Keys.Versions())
	assert.Equal(t, layout.DefaultLayoutID, p.Layouts.DefaultID())
	assert.False(t, p.Classifier.HasSecondary())

	info := p.Info()
	assert.Equal(t, []string{"A"}, info["key_versions"])
	assert.Equal(t, map[string]any{"enabled": false}, info["classifier"])
}

func TestBuilder_BrokenClassifierDegrades(t *testing.T) {
	p, err := NewBuilder().WithClassifier(classifier.KindONNX, "/does/not/exist.onnx").Build()
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	assert.False(t, p.Classifier.HasSecondary())
}

func TestGrade_AllCorrect(t *testing.T) {
	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)
	img := testutil.MustRender(t, spec)

	res, err := p.Grade(context.Background(), img, Request{SheetID: "student-1", Version: "A"})
	require.NoError(t, err)
	require.True(t, res.OK())

	s := res.Score
	assert.Equal(t, 100, s.TotalScore)
	assert.Equal(t, 100, s.MaxScore)
	assert.InDelta(t, 100.0, s.Percentage, 1e-9)
	assert.False(t, s.Quality.Any(), "quality flags: %+v", s.Quality)
	assert.Equal(t, "student-1", s.SheetID)
	assert.Equal(t, "A", res.Version)
	assert.Equal(t, VersionFromRequest, res.VersionSource)
	require.Len(t, s.Subjects, 5)
	for _, sub := range s.Subjects {
		assert.Equal(t, 20, sub.Score, sub.Name)
	}

	require.NotNil(t, res.Diagnostics)
	assert.Equal(t, 800, res.Diagnostics.CanonicalW)
	assert.Equal(t, 4, res.Diagnostics.MarkersFound)
	assert.Positive(t, res.Timings.TotalNs)
	assert.Nil(t, res.Trace)
	assert.Equal(t, "ok", Status(res))
}

func TestGrade_OtherVersionScoresZero(t *testing.T) {
	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)

	res, err := p.Grade(context.Background(), testutil.MustRender(t, spec), Request{Version: "B"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Score.TotalScore)
}

func TestGrade_DoubleMarksAreMultiple(t *testing.T) {
	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)
	double := make([]int, 20)
	for i := range double {
		double[i] = i * 5
	}
	spec.Marks = testutil.DoubleMark(spec.Marks, spec.Layout, double...)

	res, err := p.Grade(context.Background(), testutil.MustRender(t, spec), Request{Version: "A"})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Score.TotalScore, 80)
	assert.Equal(t, 20, res.Score.Quality.MultipleCount)
	assert.Zero(t, res.Score.Quality.NoneCount)
	assert.Equal(t, "flagged", Status(res))
	for _, q := range double {
		assert.Equal(t, fill.AnswerMultiple, res.Score.Questions[q].State, "question %d", q)
		assert.False(t, res.Score.Questions[q].Correct)
	}
}

func TestGrade_EveryQuestionOvermarked(t *testing.T) {
	p := newTestPipeline(t, nil)
	for _, k := range []int{3, 4} {
		t.Run(fmt.Sprintf("%d marks", k), func(t *testing.T) {
			spec := testutil.DefaultSheetSpec()
			spec.Marks = make([][]int, spec.Layout.TotalQuestions())
			for q := range spec.Marks {
				for o := range k {
					spec.Marks[q] = append(spec.Marks[q], o)
				}
			}

			res, err := p.Grade(context.Background(), testutil.MustRender(t, spec), Request{Version: "A", Trace: true})
			require.NoError(t, err)
			assert.Zero(t, res.Score.TotalScore)
			assert.Equal(t, 100, res.Score.Quality.MultipleCount)
			assert.Zero(t, res.Score.Quality.NoneCount)
			for _, r := range res.Trace.Readings {
				if r.Option < k {
					assert.GreaterOrEqual(t, r.FillScore, 0.9, "subject %d question %d option %d", r.Subject, r.Question, r.Option)
				}
			}
		})
	}
}

func TestGrade_RotatedCapture(t *testing.T) {
	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)
	capture := testutil.DefaultCaptureSpec()
	capture.Rotate = 8
	img := testutil.Capture(testutil.MustRender(t, spec), capture)

	res, err := p.Grade(context.Background(), img, Request{Version: "A"})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Score.TotalScore)
	assert.InDelta(t, -8, res.Diagnostics.SkewDegrees, 1.5)
}

func TestGrade_VersionFromQRCode(t *testing.T) {
	p := newTestPipeline(t, func(b *Builder) { b.WithIllumination(normalize.IlluminationNone) })
	spec, _ := cyclicSheet(t)
	spec.Version = "B"

	res, err := p.Grade(context.Background(), testutil.MustRender(t, spec), Request{})
	require.NoError(t, err)
	assert.Equal(t, "B", res.Version)
	assert.Equal(t, VersionFromQR, res.VersionSource)
	assert.Equal(t, 0, res.Score.TotalScore)
}

func TestGrade_VersionFallsBackToLayout(t *testing.T) {
	p := newTestPipeline(t, func(b *Builder) { b.WithVersionDetection(false) })
	spec, _ := cyclicSheet(t)

	res, err := p.Grade(context.Background(), testutil.MustRender(t, spec), Request{})
	require.NoError(t, err)
	assert.Equal(t, "A", res.Version)
	assert.Equal(t, VersionFromLayout, res.VersionSource)
	assert.Equal(t, 100, res.Score.TotalScore)
}

func TestGrade_FatalConditions(t *testing.T) {
	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)
	sheet := testutil.MustRender(t, spec)

	flat := image.NewGray(image.Rect(0, 0, 600, 800))
	draw.Draw(flat, flat.Bounds(), &image.Uniform{color.Gray{Y: 128}}, image.Point{}, draw.Src)

	wide := layout.DefaultLayout()
	wide.AspectRatio = 1.25
	wide.Markers = nil
	wideSpec := testutil.DefaultSheetSpec()
	wideSpec.Layout = wide
	wideSpec.Labels = false
	wideImg := testutil.Capture(testutil.MustRender(t, wideSpec), testutil.DefaultCaptureSpec())

	tests := []struct {
		name string
		img  image.Image
		req  Request
		kind common.ErrorKind
	}{
		{"no sheet", flat, Request{Version: "A"}, common.KindSheetNotDetected},
		{"foreign aspect", wideImg, Request{Version: "A"}, common.KindLayoutMismatch},
		{"unknown version", sheet, Request{Version: "Z"}, common.KindKeyVersionMismatch},
		{"unknown layout", sheet, Request{LayoutID: "nope"}, common.KindInvalidInput},
		{"nil image", nil, Request{}, common.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Grade(context.Background(), tt.img, tt.req)
			require.Error(t, err)
			require.NotNil(t, res)
			assert.Nil(t, res.Score)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.Equal(t, tt.kind, common.KindOf(err))
			assert.NotEmpty(t, res.Error)
			assert.Equal(t, "failed", Status(res))
		})
	}
}

func TestGrade_CanceledContext(t *testing.T) {
	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Grade(ctx, testutil.MustRender(t, spec), Request{Version: "A"})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.OK())
}

func TestGrade_Deterministic(t *testing.T) {
	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)
	spec.Marks = testutil.RandomMarks(spec.Layout, testutil.MarkOptions{Seed: 3, BlankRate: 0.1, DoubleRate: 0.1})
	capture := testutil.DefaultCaptureSpec()
	capture.Rotate = -4
	capture.Noise = 8
	img := testutil.Capture(testutil.MustRender(t, spec), capture)

	a, err := p.Grade(context.Background(), img, Request{SheetID: "x", Version: "A"})
	require.NoError(t, err)
	b, err := p.Grade(context.Background(), img, Request{SheetID: "x", Version: "A"})
	require.NoError(t, err)

	ja, err := json.Marshal(a.Score)
	require.NoError(t, err)
	jb, err := json.Marshal(b.Score)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))
}

func TestProfiler(t *testing.T) {
	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)
	_, _ = p.Grade(context.Background(), testutil.MustRender(t, spec), Request{Version: "A"})
	_, _ = p.Grade(context.Background(), nil, Request{})

	snap := p.Profiler.Snapshot()
	assert.Equal(t, int64(2), snap["sheets"])
	assert.Equal(t, int64(1), snap["graded"])
	assert.Equal(t, int64(1), snap["failed"])
	assert.Contains(t, snap, "ms_per_sheet")
}
