package support

import (
	"context"
	"errors"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/fill"
	"github.com/MeKo-Tech/omr/internal/pipeline"
)

// RegisterGradingSteps registers the steps that grade one sheet in process.
func (testCtx *TestContext) RegisterGradingSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I grade the sheet$`, testCtx.iGradeTheSheet)
	sc.Step(`^I grade the sheet as version "([^"]*)"$`, testCtx.iGradeTheSheetAsVersion)
	sc.Step(`^I grade the sheet with layout "([^"]*)"$`, testCtx.iGradeTheSheetWithLayout)
	sc.Step(`^grading succeeds$`, testCtx.gradingSucceeds)
	sc.Step(`^grading fails with "([^"]*)"$`, testCtx.gradingFailsWith)
	sc.Step(`^the total score is (\d+) of (\d+)$`, testCtx.theTotalScoreIs)
	sc.Step(`^question (\d+) is resolved as (SINGLE|NONE|MULTIPLE)$`, testCtx.questionIsResolvedAs)
	sc.Step(`^question (\d+) is scored (correct|wrong)$`, testCtx.questionIsScored)
	sc.Step(`^the sheet is flagged for review$`, testCtx.theSheetIsFlagged)
	sc.Step(`^the sheet is not flagged$`, testCtx.theSheetIsNotFlagged)
	sc.Step(`^the key version is "([^"]*)" taken from the (request|qr|layout)$`, testCtx.theKeyVersionIs)
	sc.Step(`^the sheet was rotated by about (-?\d+) degrees$`, testCtx.theSheetWasRotatedBy)
}

func (testCtx *TestContext) grade(req pipeline.Request) error {
	p, err := testCtx.pipeline()
	if err != nil {
		return err
	}
	img, err := testCtx.image()
	if err != nil {
		return err
	}
	testCtx.LastResult, testCtx.LastError = p.Grade(context.Background(), img, req)
	return nil
}

func (testCtx *TestContext) iGradeTheSheet() error {
	return testCtx.grade(pipeline.Request{SheetID: "scenario"})
}

func (testCtx *TestContext) iGradeTheSheetAsVersion(version string) error {
	return testCtx.grade(pipeline.Request{SheetID: "scenario", Version: version})
}

func (testCtx *TestContext) iGradeTheSheetWithLayout(id string) error {
	return testCtx.grade(pipeline.Request{SheetID: "scenario", LayoutID: id})
}

func (testCtx *TestContext) gradingSucceeds() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("grading failed: %w", testCtx.LastError)
	}
	if !testCtx.LastResult.OK() {
		return errors.New("grading returned no score")
	}
	return nil
}

func (testCtx *TestContext) gradingFailsWith(kind string) error {
	if testCtx.LastError == nil {
		return errors.New("expected grading to fail")
	}
	if got := common.KindOf(testCtx.LastError); string(got) != kind {
		return fmt.Errorf("expected failure %s, got %s (%v)", kind, got, testCtx.LastError)
	}
	if testCtx.LastResult == nil || testCtx.LastResult.Score != nil {
		return errors.New("a failed sheet must carry a result without a score")
	}
	if string(testCtx.LastResult.ErrorKind) != kind {
		return fmt.Errorf("result reports %s, want %s", testCtx.LastResult.ErrorKind, kind)
	}
	return nil
}

func (testCtx *TestContext) score() (*pipeline.SheetResult, error) {
	if err := testCtx.gradingSucceeds(); err != nil {
		return nil, err
	}
	return testCtx.LastResult, nil
}

func (testCtx *TestContext) theTotalScoreIs(total, maxScore int) error {
	res, err := testCtx.score()
	if err != nil {
		return err
	}
	if res.Score.TotalScore != total || res.Score.MaxScore != maxScore {
		return fmt.Errorf("expected %d/%d, got %d/%d", total, maxScore, res.Score.TotalScore, res.Score.MaxScore)
	}
	return nil
}

func (testCtx *TestContext) question(n int) (*pipeline.SheetResult, int, error) {
	res, err := testCtx.score()
	if err != nil {
		return nil, 0, err
	}
	if n < 1 || n > len(res.Score.Questions) {
		return nil, 0, fmt.Errorf("question %d out of range", n)
	}
	return res, n - 1, nil
}

func (testCtx *TestContext) questionIsResolvedAs(n int, state string) error {
	res, q, err := testCtx.question(n)
	if err != nil {
		return err
	}
	if got := res.Score.Questions[q].State; got != fill.AnswerState(state) {
		return fmt.Errorf("question %d: expected %s, got %s", n, state, got)
	}
	return nil
}

func (testCtx *TestContext) questionIsScored(n int, verdict string) error {
	res, q, err := testCtx.question(n)
	if err != nil {
		return err
	}
	if got := res.Score.Questions[q].Correct; got != (verdict == "correct") {
		return fmt.Errorf("question %d: expected %s", n, verdict)
	}
	return nil
}

func (testCtx *TestContext) theSheetIsFlagged() error {
	res, err := testCtx.score()
	if err != nil {
		return err
	}
	if !res.Flagged() {
		return fmt.Errorf("expected a flagged sheet, quality %+v", res.Score.Quality)
	}
	return nil
}

func (testCtx *TestContext) theSheetIsNotFlagged() error {
	res, err := testCtx.score()
	if err != nil {
		return err
	}
	if res.Flagged() {
		return fmt.Errorf("unexpected flags %+v", res.Score.Quality)
	}
	return nil
}

func (testCtx *TestContext) theKeyVersionIs(version, source string) error {
	res, err := testCtx.score()
	if err != nil {
		return err
	}
	if res.Version != version || string(res.VersionSource) != source {
		return fmt.Errorf("expected version %s from %s, got %s from %s", version, source, res.Version, res.VersionSource)
	}
	return nil
}

func (testCtx *TestContext) theSheetWasRotatedBy(degrees int) error {
	res, err := testCtx.score()
	if err != nil {
		return err
	}
	// The estimated skew undoes the capture rotation.
	if d := res.Diagnostics.SkewDegrees + float64(degrees); d > 1.5 || d < -1.5 {
		return fmt.Errorf("expected skew near %d, got %.2f", -degrees, res.Diagnostics.SkewDegrees)
	}
	return nil
}
