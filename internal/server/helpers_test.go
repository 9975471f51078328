package server

import (
	"bytes"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/classifier"
	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/testutil"
)

var (
	sheetOnce sync.Once
	sheetPNG  []byte
)

// demoSheet renders a sheet answered exactly like the built-in demo key.
func demoSheet(t *testing.T) []byte {
	t.Helper()
	sheetOnce.Do(func() {
		spec := testutil.DefaultSheetSpec()
		l := spec.Layout
		answers := make([]int, l.TotalQuestions())
		for i := range answers {
			answers[i] = (i % l.QuestionsPerSubject) % l.OptionsPerQuestion
		}
		spec.Marks = testutil.SingleMarks(answers)
		sheetPNG = pngBytes(t, testutil.MustRender(t, spec))
	})
	require.NotEmpty(t, sheetPNG)
	return sheetPNG
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.Classifier.Kind = classifier.KindNone
	pl, err := pipeline.NewBuilderFromConfig(cfg).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pl.Close() })
	return pl
}

func newTestServer(t *testing.T, configure func(*Config)) (*Server, *http.ServeMux) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = 2
	if configure != nil {
		configure(&cfg)
	}
	s, err := NewServerWithPipeline(cfg, testPipeline(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return s, mux
}

// uploadRequest builds a multipart POST with one file and extra fields.
func uploadRequest(t *testing.T, path, field, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if data != nil {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}
