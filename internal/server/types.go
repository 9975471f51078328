// Package server exposes the grading pipeline over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/omr/internal/pdf"
	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/storage"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline       *pipeline.Pipeline
	ownsPipeline   bool
	sink           storage.ResultSink
	rateLimiter    *RateLimiter
	extractor      *pdf.Extractor
	corsOrigin     string
	maxUploadBytes int64
	timeout        time.Duration
	overlayEnabled bool
	maxBatchSheets int
	workers        int
}

// RateLimitConfig holds per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	OverlayEnabled  bool
	MaxBatchSheets  int
	Workers         int
	PipelineConfig  pipeline.Config
	RateLimit       RateLimitConfig
	Storage         storage.Config
	ShutdownTimeout int
}

// DefaultConfig mirrors the serve command defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8080,
		CORSOrigin:      "*",
		MaxUploadMB:     50,
		TimeoutSec:      30,
		OverlayEnabled:  true,
		MaxBatchSheets:  100,
		PipelineConfig:  pipeline.DefaultConfig(),
		Storage:         storage.DefaultConfig(),
		ShutdownTimeout: 10,
	}
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type LayoutInfo struct {
	ID                  string   `json:"id"`
	Version             string   `json:"version"`
	Description         string   `json:"description,omitempty"`
	Subjects            []string `json:"subjects"`
	QuestionsPerSubject int      `json:"questions_per_subject"`
	OptionsPerQuestion  int      `json:"options_per_question"`
	AspectRatio         float64  `json:"aspect_ratio"`
	Default             bool     `json:"default"`
}

type LayoutsResponse struct {
	Layouts []LayoutInfo `json:"layouts"`
	Count   int          `json:"count"`
}

type KeyInfo struct {
	Version   string `json:"version"`
	Layout    string `json:"layout"`
	Questions int    `json:"questions"`
}

type KeysResponse struct {
	Keys  []KeyInfo `json:"keys"`
	Count int       `json:"count"`
}

// GradeResponse carries one result for an image upload and one per page
// image for a PDF upload.
type GradeResponse struct {
	Success bool                    `json:"success"`
	Result  *pipeline.SheetResult   `json:"result,omitempty"`
	Results []*pipeline.SheetResult `json:"results,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer builds the pipeline from config and opens the configured
// result sinks.
func NewServer(config Config) (*Server, error) {
	cfg := config.PipelineConfig
	pl, err := pipeline.NewBuilderFromConfig(cfg).Build()
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	s, err := NewServerWithPipeline(config, pl)
	if err != nil {
		_ = pl.Close()
		return nil, err
	}
	s.ownsPipeline = true
	return s, nil
}

// NewServerWithPipeline serves an existing pipeline. The caller keeps
// ownership of pl.
func NewServerWithPipeline(config Config, pl *pipeline.Pipeline) (*Server, error) {
	s := &Server{
		pipeline:       pl,
		extractor:      &pdf.Extractor{},
		corsOrigin:     config.CORSOrigin,
		maxUploadBytes: config.MaxUploadMB * 1024 * 1024,
		timeout:        time.Duration(config.TimeoutSec) * time.Second,
		overlayEnabled: config.OverlayEnabled,
		maxBatchSheets: config.MaxBatchSheets,
		workers:        config.Workers,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 50 * 1024 * 1024
	}
	if s.maxBatchSheets <= 0 {
		s.maxBatchSheets = 100
	}
	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	if config.Storage.Enabled() {
		runID := "serve-" + time.Now().UTC().Format("20060102T150405Z")
		sink, err := storage.Open(context.Background(), config.Storage, runID)
		if err != nil {
			return nil, fmt.Errorf("open result storage: %w", err)
		}
		s.sink = sink
		slog.Info("Result storage enabled", "sink", sink.Name(), "run_id", runID)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	var err error
	if s.sink != nil {
		err = s.sink.Close()
		s.sink = nil
	}
	if s.ownsPipeline && s.pipeline != nil {
		if cerr := s.pipeline.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.pipeline = nil
	}
	return err
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/layouts", s.corsMiddleware(s.layoutsHandler))
	mux.HandleFunc("/keys", s.corsMiddleware(s.keysHandler))
	mux.HandleFunc("/grade", s.corsMiddleware(s.rateLimitMiddleware(s.gradeHandler)))
	mux.HandleFunc("/grade/overlay", s.corsMiddleware(s.rateLimitMiddleware(s.overlayHandler)))
	mux.HandleFunc("/batch", s.corsMiddleware(s.rateLimitMiddleware(s.batchHandler)))
	mux.HandleFunc("/ws/batch", s.rateLimitMiddleware(s.batchWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}
