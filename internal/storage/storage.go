// Package storage persists grading results and fetches sheets from object
// storage. Sinks are collaborators of the batch driver and the server; the
// grading core never touches them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MeKo-Tech/omr/internal/pipeline"
)

// DefaultRetryAttempts bounds how often a sink write is tried.
const DefaultRetryAttempts = 3

// ResultSink receives graded sheets.
type ResultSink interface {
	Name() string
	Write(ctx context.Context, results []*pipeline.SheetResult) error
	Close() error
}

// Config selects the sinks to open. Empty fields disable the sink.
type Config struct {
	ResultsFile   string        `mapstructure:"results_file" yaml:"results_file" json:"results_file"`
	PostgresDSN   string        `mapstructure:"postgres_dsn" yaml:"postgres_dsn" json:"postgres_dsn"`
	S3            S3Config      `mapstructure:"s3" yaml:"s3" json:"s3"`
	RetryAttempts int           `mapstructure:"retry_attempts" yaml:"retry_attempts" json:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff" json:"retry_backoff"`
}

// DefaultConfig enables no sink.
func DefaultConfig() Config {
	return Config{RetryAttempts: DefaultRetryAttempts, RetryBackoff: 200 * time.Millisecond}
}

// Enabled reports whether any sink is configured.
func (c Config) Enabled() bool {
	return c.ResultsFile != "" || c.PostgresDSN != "" || c.S3.Bucket != ""
}

// Open builds every configured sink, each wrapped with retries. It returns
// nil and no error when nothing is configured.
func Open(ctx context.Context, cfg Config, runID string) (ResultSink, error) {
	var sinks MultiSink
	closeAll := func() { _ = sinks.Close() }

	if cfg.ResultsFile != "" {
		s, err := NewFileSink(cfg.ResultsFile)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.PostgresDSN != "" {
		s, err := OpenPostgresSink(ctx, cfg.PostgresDSN, runID)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.S3.Bucket != "" {
		client, err := NewS3Client(ctx, cfg.S3)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, NewS3Sink(client, cfg.S3.Bucket, cfg.S3.Prefix, runID))
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return WithRetry(sinks[0], cfg.RetryAttempts, cfg.RetryBackoff), nil
	}
	for i, s := range sinks {
		sinks[i] = WithRetry(s, cfg.RetryAttempts, cfg.RetryBackoff)
	}
	return sinks, nil
}

// MultiSink fans results out to several sinks. Every sink is written even
// when an earlier one fails.
type MultiSink []ResultSink

func (m MultiSink) Name() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (m MultiSink) Write(ctx context.Context, results []*pipeline.SheetResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, results); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

type retrySink struct {
	ResultSink
	attempts int
	backoff  time.Duration
}

// WithRetry retries failed writes up to attempts times in total.
func WithRetry(s ResultSink, attempts int, backoff time.Duration) ResultSink {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	return &retrySink{ResultSink: s, attempts: attempts, backoff: backoff}
}

func (r *retrySink) Write(ctx context.Context, results []*pipeline.SheetResult) error {
	return Retry(ctx, r.attempts, r.backoff, func(ctx context.Context) error {
		return r.ResultSink.Write(ctx, results)
	})
}

// Retry calls fn until it succeeds, attempts are used up or ctx ends. The
// wait doubles after each failure.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) error) error {
	var err error
	wait := backoff
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		slog.Warn("Storage operation failed, retrying", "attempt", attempt, "max_attempts", attempts, "error", err)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
