package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeKo-Tech/omr/internal/pipeline"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	sheetsGradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omr_sheets_graded_total",
			Help: "Sheets processed, by outcome",
		},
		[]string{"endpoint", "status", "error_kind"},
	)

	gradingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omr_grading_duration_seconds",
			Help:    "Time to grade one sheet",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)

	ambiguousCells = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omr_ambiguous_cells",
			Help:    "Ambiguous bubble cells per graded sheet",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omr_upload_size_bytes",
			Help:    "Size of uploaded sheet files",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
		},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omr_rate_limit_hits_total",
			Help: "Requests rejected by rate limits or quotas",
		},
		[]string{"type"},
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "omr_websocket_connections",
			Help: "Open WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omr_websocket_messages_total",
			Help: "WebSocket messages by direction",
		},
		[]string{"direction"},
	)
)

// recordSheet updates the grading metrics for one result.
func recordSheet(endpoint string, res *pipeline.SheetResult) {
	sheetsGradedTotal.WithLabelValues(endpoint, pipeline.Status(res), string(res.ErrorKind)).Inc()
	gradingDuration.WithLabelValues(endpoint).Observe(time.Duration(res.Timings.TotalNs).Seconds())
	if res.OK() {
		ambiguousCells.Observe(float64(res.Score.Quality.AmbiguousCells))
	}
}
