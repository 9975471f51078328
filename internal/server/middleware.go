package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers, answers preflight requests and records
// request metrics.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.corsOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		elapsed := time.Since(start)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration_ms", elapsed.Milliseconds(), "client", getClientIP(r))
	}
}

// rateLimitMiddleware enforces the configured rate limits and quotas.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil {
			next(w, r)
			return
		}
		size := max(r.ContentLength, 0)
		if err := s.rateLimiter.CheckRateLimit(getClientIP(r), size); err != nil {
			s.handleRateLimitError(w, err)
			return
		}
		next(w, r)
	}
}

// handleRateLimitError writes a 429 describing the violated limit.
func (s *Server) handleRateLimitError(w http.ResponseWriter, err error) {
	var (
		rate  *RateLimitError
		quota *QuotaExceededError
		body  map[string]any
	)
	switch {
	case errors.As(err, &rate):
		rateLimitHits.WithLabelValues(rate.Type).Inc()
		w.Header().Set("X-RateLimit-Type", rate.Type)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rate.Limit))
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rate.RetryAfter.Seconds()))
		body = map[string]any{
			"success": false, "error": "rate_limit_exceeded", "type": rate.Type,
			"limit": rate.Limit, "retry_after": rate.RetryAfter.Seconds(), "message": rate.Error(),
		}
	case errors.As(err, &quota):
		rateLimitHits.WithLabelValues(quota.Type).Inc()
		w.Header().Set("X-Quota-Type", quota.Type)
		w.Header().Set("X-Quota-Limit", strconv.FormatInt(quota.Limit, 10))
		w.Header().Set("X-Quota-Used", strconv.FormatInt(quota.Used, 10))
		w.Header().Set("X-Quota-Resets", quota.Resets.UTC().Format(http.TimeFormat))
		body = map[string]any{
			"success": false, "error": "quota_exceeded", "type": quota.Type,
			"limit": quota.Limit, "used": quota.Used, "resets": quota.Resets.Format(time.RFC3339), "message": quota.Error(),
		}
	default:
		s.writeErrorResponse(w, "rate limiting check failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusTooManyRequests, body)
}

// getClientIP identifies the caller, preferring proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
