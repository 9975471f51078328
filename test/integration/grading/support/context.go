// Package support holds the step definitions of the grading feature suite.
package support

import (
	"errors"
	"fmt"
	"image"
	"net/http/httptest"
	"os"

	"github.com/MeKo-Tech/omr/internal/answerkey"
	"github.com/MeKo-Tech/omr/internal/batch"
	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/server"
	"github.com/MeKo-Tech/omr/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir string

	// Sheet under construction
	Layout  *layout.SheetLayout
	Key     *answerkey.Key
	Spec    testutil.SheetSpec
	Capture *testutil.CaptureSpec
	Image   image.Image

	// Grading
	Pipeline     *pipeline.Pipeline
	LastResult   *pipeline.SheetResult
	LastError    error
	LastBatch    *batch.Result
	LastBatchErr error

	// Server
	Server             *server.Server
	HTTPServer         *httptest.Server
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
}

// NewTestContext creates a scenario context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "omr-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{TempDir: tempDir}, nil
}

// Cleanup stops the server, closes the pipeline and removes temp files.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.Server != nil {
		errs = append(errs, testCtx.Server.Close())
		testCtx.Server = nil
	}
	if testCtx.Pipeline != nil {
		errs = append(errs, testCtx.Pipeline.Close())
		testCtx.Pipeline = nil
	}
	if testCtx.TempDir != "" {
		errs = append(errs, os.RemoveAll(testCtx.TempDir))
	}
	return errors.Join(errs...)
}

// pipeline builds the default pipeline on first use.
func (testCtx *TestContext) pipeline() (*pipeline.Pipeline, error) {
	if testCtx.Pipeline != nil {
		return testCtx.Pipeline, nil
	}
	p, err := pipeline.NewBuilder().Build()
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	testCtx.Pipeline = p
	return p, nil
}

// render draws the current sheet spec, applying the capture if one is set.
func (testCtx *TestContext) render() (image.Image, error) {
	img, err := testutil.RenderSheet(testCtx.Spec)
	if err != nil {
		return nil, err
	}
	if testCtx.Capture != nil {
		return testutil.Capture(img, *testCtx.Capture), nil
	}
	return img, nil
}
