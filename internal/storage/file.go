package storage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MeKo-Tech/omr/internal/pipeline"
)

// FileSink appends JSON lines to a local file.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileSink opens path for appending, creating parent directories.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create results directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // G304: configured output path
	if err != nil {
		return nil, fmt.Errorf("open results file: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) Name() string { return "file:" + s.path }

func (s *FileSink) Write(_ context.Context, results []*pipeline.SheetResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	w := bufio.NewWriter(s.f)
	if err := pipeline.WriteJSONLines(w, results); err != nil {
		return err
	}
	return w.Flush()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
