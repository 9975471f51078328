package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// BatchSheet is one file of a batch request. Data is base64 in JSON.
type BatchSheet struct {
	Name     string `json:"name"`
	Data     []byte `json:"data"`
	SheetID  string `json:"sheet_id,omitempty"`
	Layout   string `json:"layout,omitempty"`
	Version  string `json:"version,omitempty"`
	Pages    string `json:"pages,omitempty"`
	Password string `json:"password,omitempty"`
}

// BatchRequest grades several sheets in one call. Layout and Version apply
// to sheets that do not set their own.
type BatchRequest struct {
	Sheets  []BatchSheet `json:"sheets"`
	Layout  string       `json:"layout,omitempty"`
	Version string       `json:"version,omitempty"`
}

// BatchResponse holds the per-sheet results in request order.
type BatchResponse struct {
	Success bool                    `json:"success"`
	Results []*pipeline.SheetResult `json:"results"`
	Stats   pipeline.ParallelStats  `json:"stats"`
	Error   string                  `json:"error,omitempty"`
}

// batchHandler grades a JSON batch of images and PDFs.
func (s *Server) batchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		s.writeErrorResponse(w, "grading pipeline not initialized", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.writeErrorResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.validateBatch(&req); err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	resp, err := s.runBatch(ctx, &req, nil)
	if err != nil {
		resp.Error = fmt.Sprintf("batch interrupted: %v", err)
		writeJSON(w, http.StatusGatewayTimeout, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) validateBatch(req *BatchRequest) error {
	switch n := len(req.Sheets); {
	case n == 0:
		return errors.New("no sheets provided")
	case n > s.maxBatchSheets:
		return fmt.Errorf("too many sheets: %d (max %d)", n, s.maxBatchSheets)
	}
	for i, sh := range req.Sheets {
		if len(sh.Data) == 0 {
			return fmt.Errorf("sheet %d (%s): no data", i, sh.Name)
		}
		uploadSizeBytes.Observe(float64(len(sh.Data)))
	}
	return nil
}

// runBatch expands PDFs into page jobs and grades everything in parallel.
func (s *Server) runBatch(ctx context.Context, req *BatchRequest, progress pipeline.ProgressCallback) (*BatchResponse, error) {
	var jobs []pipeline.Job
	for i, sh := range req.Sheets {
		jobs = append(jobs, s.sheetJobs(ctx, i, sh, req)...)
	}
	results, stats, err := s.pipeline.GradeParallel(ctx, jobs, pipeline.ParallelConfig{
		MaxWorkers:       s.workers,
		SheetTimeout:     s.timeout,
		ProgressCallback: progress,
	})
	for _, res := range results {
		recordSheet("batch", res)
	}
	s.store(ctx, results...)
	return &BatchResponse{Success: err == nil && stats.Failed == 0, Results: results, Stats: stats}, err
}

func (s *Server) sheetJobs(ctx context.Context, i int, sh BatchSheet, req *BatchRequest) []pipeline.Job {
	name := sh.Name
	if name == "" {
		name = fmt.Sprintf("sheet-%d", i+1)
	}
	base := pipeline.Request{SheetID: sh.SheetID, LayoutID: sh.Layout, Version: sh.Version}
	if base.SheetID == "" {
		base.SheetID = strings.TrimSuffix(name, extOf(name))
	}
	if base.LayoutID == "" {
		base.LayoutID = req.Layout
	}
	if base.Version == "" {
		base.Version = req.Version
	}

	if bytes.HasPrefix(sh.Data, []byte("%PDF")) || utils.IsPDF(name) {
		jobs, err := s.pdfJobs(ctx, sh.Data, name, sh.Pages, sh.Password, base)
		if err != nil {
			return []pipeline.Job{failingJob(base, name, err)}
		}
		return jobs
	}

	data := sh.Data
	return []pipeline.Job{{
		Request: base,
		Source:  name,
		Load: func(context.Context) (image.Image, error) {
			img, _, err := utils.DecodeImage(bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			return img, utils.ValidateImageConstraints(img, utils.DefaultImageConstraints())
		},
	}}
}

func failingJob(req pipeline.Request, source string, err error) pipeline.Job {
	return pipeline.Job{
		Request: req,
		Source:  source,
		Load: func(context.Context) (image.Image, error) {
			return nil, common.NewSheetError(common.KindInvalidInput, "pdf", err)
		},
	}
}
