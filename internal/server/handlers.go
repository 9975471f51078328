package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/utils"
	"github.com/MeKo-Tech/omr/internal/version"
)

const (
	formatJSON = "json"
	formatText = "text"
	formatCSV  = "csv"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// layoutsHandler lists the loaded sheet layouts.
func (s *Server) layoutsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		s.writeErrorResponse(w, "grading pipeline not initialized", http.StatusServiceUnavailable)
		return
	}
	reg := s.pipeline.Layouts
	resp := LayoutsResponse{}
	for _, l := range reg.All() {
		resp.Layouts = append(resp.Layouts, LayoutInfo{
			ID:                  l.ID,
			Version:             l.Version,
			Description:         l.Description,
			Subjects:            l.Subjects,
			QuestionsPerSubject: l.QuestionsPerSubject,
			OptionsPerQuestion:  l.OptionsPerQuestion,
			AspectRatio:         l.AspectRatio,
			Default:             l.ID == reg.DefaultID(),
		})
	}
	resp.Count = len(resp.Layouts)
	writeJSON(w, http.StatusOK, resp)
}

// keysHandler lists the answer key versions. Answers are never exposed.
func (s *Server) keysHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		s.writeErrorResponse(w, "grading pipeline not initialized", http.StatusServiceUnavailable)
		return
	}
	resp := KeysResponse{}
	for _, v := range s.pipeline.Keys.Versions() {
		k, err := s.pipeline.Keys.Get(v)
		if err != nil {
			continue
		}
		resp.Keys = append(resp.Keys, KeyInfo{Version: v, Layout: k.Layout.ID, Questions: k.Layout.TotalQuestions()})
	}
	resp.Count = len(resp.Keys)
	writeJSON(w, http.StatusOK, resp)
}

// upload is a parsed grading request.
type upload struct {
	data     []byte
	filename string
	req      pipeline.Request
	pages    string
	password string
	format   string
}

// readUpload parses the multipart form. The sheet file is taken from the
// "sheet" field, falling back to "image" and "pdf".
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("file too large")
		}
		return nil, http.StatusBadRequest, errors.New("failed to parse form data")
	}

	var (
		file   multipart.File
		header *multipart.FileHeader
		err    error
	)
	for _, field := range []string{"sheet", "image", "pdf"} {
		if file, header, err = r.FormFile(field); err == nil {
			break
		}
	}
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("no sheet file provided")
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, http.StatusInternalServerError, errors.New("failed to read upload")
	}
	uploadSizeBytes.Observe(float64(len(data)))

	u := &upload{
		data:     data,
		filename: header.Filename,
		pages:    r.FormValue("pages"),
		password: r.FormValue("password"),
		format:   r.FormValue("format"),
		req: pipeline.Request{
			SheetID:  r.FormValue("sheet_id"),
			LayoutID: r.FormValue("layout"),
			Version:  r.FormValue("version"),
		},
	}
	if u.format == "" {
		u.format = r.URL.Query().Get("format")
	}
	if u.req.SheetID == "" {
		u.req.SheetID = strings.TrimSuffix(header.Filename, extOf(header.Filename))
	}
	return u, http.StatusOK, nil
}

// gradeHandler grades an uploaded image or PDF.
func (s *Server) gradeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		s.writeErrorResponse(w, "grading pipeline not initialized", http.StatusServiceUnavailable)
		return
	}
	u, status, err := s.readUpload(w, r)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), status)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	if isPDFUpload(u) {
		s.gradePDF(ctx, w, u)
		return
	}

	res := s.gradeImage(ctx, u)
	recordSheet("grade", res)
	s.store(ctx, res)
	if interrupted(ctx, res) {
		s.writeErrorResponse(w, fmt.Sprintf("grading interrupted: %v", ctx.Err()), http.StatusGatewayTimeout)
		return
	}

	switch u.format {
	case formatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(statusForResult(res))
		_, _ = io.WriteString(w, pipeline.ToPlainText(res))
	case formatCSV:
		out, err := pipeline.ToAnswersCSV(res)
		if err != nil {
			s.writeErrorResponse(w, res.Error, statusForResult(res))
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, out)
	default:
		writeJSON(w, statusForResult(res), GradeResponse{Success: res.OK(), Result: res, Error: res.Error})
	}
}

func (s *Server) gradeImage(ctx context.Context, u *upload) *pipeline.SheetResult {
	img, _, err := utils.DecodeImage(bytes.NewReader(u.data))
	if err == nil {
		err = utils.ValidateImageConstraints(img, utils.DefaultImageConstraints())
	}
	if err != nil {
		res := &pipeline.SheetResult{SheetID: u.req.SheetID, Source: u.filename}
		res.ErrorKind = common.KindInvalidInput
		res.Error = err.Error()
		return res
	}
	res, _ := s.pipeline.Grade(ctx, img, u.req)
	res.Source = u.filename
	return res
}

func (s *Server) gradePDF(ctx context.Context, w http.ResponseWriter, u *upload) {
	jobs, err := s.pdfJobs(ctx, u.data, u.filename, u.pages, u.password, u.req)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	results, _, err := s.pipeline.GradeParallel(ctx, jobs, pipeline.ParallelConfig{MaxWorkers: s.workers})
	for _, res := range results {
		recordSheet("grade_pdf", res)
	}
	s.store(ctx, results...)
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("grading interrupted: %v", err), http.StatusGatewayTimeout)
		return
	}
	success := true
	for _, res := range results {
		success = success && res.OK()
	}
	writeJSON(w, http.StatusOK, GradeResponse{Success: success, Results: results})
}

func (s *Server) pdfJobs(ctx context.Context, data []byte, name, pages, password string, base pipeline.Request) ([]pipeline.Job, error) {
	ex := *s.extractor
	if password != "" {
		ex.UserPassword = password
	}
	pdfPages, err := ex.ExtractBytes(ctx, data, pages)
	if err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}
	jobs := make([]pipeline.Job, len(pdfPages))
	for i, pg := range pdfPages {
		req := base
		req.SheetID = fmt.Sprintf("%s-p%d", base.SheetID, pg.Number)
		if pg.Index > 0 {
			req.SheetID = fmt.Sprintf("%s-%d", req.SheetID, pg.Index)
		}
		jobs[i] = pipeline.Job{Request: req, Source: fmt.Sprintf("%s#page=%d", name, pg.Number), Image: pg.Image}
	}
	return jobs, nil
}

// overlayHandler grades an uploaded image and returns the diagnostics
// overlay as PNG.
func (s *Server) overlayHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.overlayEnabled {
		http.Error(w, "overlay output disabled", http.StatusForbidden)
		return
	}
	if s.pipeline == nil {
		s.writeErrorResponse(w, "grading pipeline not initialized", http.StatusServiceUnavailable)
		return
	}
	u, status, err := s.readUpload(w, r)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), status)
		return
	}
	if isPDFUpload(u) {
		s.writeErrorResponse(w, "overlay needs an image upload", http.StatusBadRequest)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	u.req.Trace = true
	res := s.gradeImage(ctx, u)
	recordSheet("overlay", res)
	if interrupted(ctx, res) {
		s.writeErrorResponse(w, fmt.Sprintf("grading interrupted: %v", ctx.Err()), http.StatusGatewayTimeout)
		return
	}
	if res.Trace == nil {
		s.writeErrorResponse(w, fmt.Sprintf("%s: %s", res.ErrorKind, res.Error), statusForResult(res))
		return
	}
	ov, err := pipeline.RenderOverlay(res, pipeline.DefaultOverlayStyle())
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if res.Score != nil {
		w.Header().Set("X-OMR-Score", fmt.Sprintf("%d/%d", res.Score.TotalScore, res.Score.MaxScore))
	}
	if err := png.Encode(w, ov); err != nil {
		slog.Error("Failed to encode overlay", "error", err)
	}
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(r.Context(), s.timeout)
	}
	return context.WithCancel(r.Context())
}

// store persists results when a sink is configured. Storage failures are
// logged; the client still gets its grades.
func (s *Server) store(ctx context.Context, results ...*pipeline.SheetResult) {
	if s.sink == nil || len(results) == 0 {
		return
	}
	if err := s.sink.Write(context.WithoutCancel(ctx), results); err != nil {
		slog.Error("Failed to store results", "sink", s.sink.Name(), "error", err)
	}
}

// statusForResult maps a sheet outcome to an HTTP status.
func statusForResult(res *pipeline.SheetResult) int {
	switch res.ErrorKind {
	case common.KindNone:
		return http.StatusOK
	case common.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// interrupted reports whether res failed because ctx ended first.
func interrupted(ctx context.Context, res *pipeline.SheetResult) bool {
	return !res.OK() && ctx.Err() != nil
}

func isPDFUpload(u *upload) bool {
	return bytes.HasPrefix(u.data, []byte("%PDF")) || utils.IsPDF(u.filename)
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
