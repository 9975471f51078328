package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/omr/internal/batch"
	"github.com/MeKo-Tech/omr/internal/pipeline"
)

// RegisterBatchSteps registers the steps that grade directories of sheets.
func (testCtx *TestContext) RegisterBatchSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a file "([^"]*)" containing "([^"]*)"$`, testCtx.aFileContaining)
	sc.Step(`^I grade the directory with (\d+) workers$`, testCtx.iGradeTheDirectory)
	sc.Step(`^I grade the directory with (\d+) workers and results file "([^"]*)"$`, testCtx.iGradeTheDirectoryWithResultsFile)
	sc.Step(`^(\d+) sheets? (?:is|are) graded and (\d+) failed$`, testCtx.sheetsAreGradedAndFailed)
	sc.Step(`^sheet "([^"]*)" scores (\d+)$`, testCtx.sheetScores)
	sc.Step(`^sheet "([^"]*)" failed with "([^"]*)"$`, testCtx.sheetFailedWith)
	sc.Step(`^the batch summary CSV has (\d+) rows$`, testCtx.theSummaryCSVHasRows)
	sc.Step(`^the results file "([^"]*)" has (\d+) lines$`, testCtx.theResultsFileHasLines)
}

func (testCtx *TestContext) aFileContaining(name, content string) error {
	return os.WriteFile(filepath.Join(testCtx.TempDir, name), []byte(content), 0o600)
}

func (testCtx *TestContext) runBatch(workers int, resultsFile string) error {
	cfg := batch.DefaultConfig()
	cfg.Workers = workers
	cfg.Quiet = true
	cfg.ShowProgress = false
	cfg.RunID = "scenario"
	if resultsFile != "" {
		cfg.Storage.ResultsFile = filepath.Join(testCtx.TempDir, resultsFile)
	}
	testCtx.LastBatch, testCtx.LastBatchErr = batch.ProcessBatch(context.Background(), []string{testCtx.TempDir}, cfg)
	return nil
}

func (testCtx *TestContext) iGradeTheDirectory(workers int) error {
	return testCtx.runBatch(workers, "")
}

func (testCtx *TestContext) iGradeTheDirectoryWithResultsFile(workers int, name string) error {
	return testCtx.runBatch(workers, name)
}

func (testCtx *TestContext) batchResult() (*batch.Result, error) {
	if testCtx.LastBatchErr != nil {
		return nil, fmt.Errorf("batch failed: %w", testCtx.LastBatchErr)
	}
	if testCtx.LastBatch == nil {
		return nil, errors.New("no batch was run")
	}
	return testCtx.LastBatch, nil
}

func (testCtx *TestContext) sheetsAreGradedAndFailed(graded, failed int) error {
	r, err := testCtx.batchResult()
	if err != nil {
		return err
	}
	if r.Stats.Graded != graded || r.Stats.Failed != failed {
		return fmt.Errorf("expected %d graded and %d failed, got %d and %d", graded, failed, r.Stats.Graded, r.Stats.Failed)
	}
	return nil
}

func (testCtx *TestContext) sheet(id string) (*pipeline.SheetResult, error) {
	r, err := testCtx.batchResult()
	if err != nil {
		return nil, err
	}
	for _, res := range r.Results {
		if res.SheetID == id {
			return res, nil
		}
	}
	return nil, fmt.Errorf("no result for sheet %q", id)
}

func (testCtx *TestContext) sheetScores(id string, score int) error {
	res, err := testCtx.sheet(id)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("sheet %s failed: %s", id, res.Error)
	}
	if res.Score.TotalScore != score {
		return fmt.Errorf("sheet %s scored %d, want %d", id, res.Score.TotalScore, score)
	}
	return nil
}

func (testCtx *TestContext) sheetFailedWith(id, kind string) error {
	res, err := testCtx.sheet(id)
	if err != nil {
		return err
	}
	if string(res.ErrorKind) != kind {
		return fmt.Errorf("sheet %s: expected %s, got %q", id, kind, res.ErrorKind)
	}
	return nil
}

func (testCtx *TestContext) theSummaryCSVHasRows(rows int) error {
	r, err := testCtx.batchResult()
	if err != nil {
		return err
	}
	out, err := r.FormatResults("csv")
	if err != nil {
		return err
	}
	// header plus one row per sheet
	if got := strings.Count(out, "\n") - 1; got != rows {
		return fmt.Errorf("expected %d rows, got %d", rows, got)
	}
	return nil
}

func (testCtx *TestContext) theResultsFileHasLines(name string, lines int) error {
	data, err := os.ReadFile(filepath.Join(testCtx.TempDir, name))
	if err != nil {
		return err
	}
	if got := strings.Count(string(data), "\n"); got != lines {
		return fmt.Errorf("expected %d lines in %s, got %d", lines, name, got)
	}
	return nil
}
