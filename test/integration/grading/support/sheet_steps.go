package support

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/omr/internal/answerkey"
	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/testutil"
)

// RegisterSheetSteps registers the steps that build synthetic sheets.
func (testCtx *TestContext) RegisterSheetSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the default layout$`, testCtx.theDefaultLayout)
	sc.Step(`^a sheet answered with the demo key$`, testCtx.aSheetAnsweredWithTheDemoKey)
	sc.Step(`^a sheet answered with the demo key shifted by one option$`, testCtx.aSheetAnsweredWithTheShiftedKey)
	sc.Step(`^question (\d+) is left blank$`, testCtx.questionIsLeftBlank)
	sc.Step(`^question (\d+) is also marked with option ([A-Z])$`, testCtx.questionIsAlsoMarked)
	sc.Step(`^question (\d+) is marked with option ([A-Z]) only$`, testCtx.questionIsMarkedOnly)
	sc.Step(`^the sheet is photographed rotated by (-?\d+) degrees$`, testCtx.theSheetIsPhotographedRotated)
	sc.Step(`^the photo is noisy$`, testCtx.thePhotoIsNoisy)
	sc.Step(`^an image without an answer sheet$`, testCtx.anImageWithoutAnAnswerSheet)
	sc.Step(`^the sheet is saved as "([^"]*)"$`, testCtx.theSheetIsSavedAs)
}

func (testCtx *TestContext) theDefaultLayout() error {
	testCtx.Layout = layout.DefaultLayout()
	k, err := answerkey.DefaultKey(testCtx.Layout).Bind(testCtx.Layout)
	if err != nil {
		return fmt.Errorf("bind demo key: %w", err)
	}
	testCtx.Key = k
	testCtx.Spec = testutil.DefaultSheetSpec()
	testCtx.Spec.Layout = testCtx.Layout
	testCtx.Capture = nil
	testCtx.Image = nil
	return nil
}

func (testCtx *TestContext) demoAnswers(shift int) ([]int, error) {
	if testCtx.Key == nil {
		if err := testCtx.theDefaultLayout(); err != nil {
			return nil, err
		}
	}
	l := testCtx.Layout
	answers := make([]int, l.TotalQuestions())
	for q := range answers {
		accepted := testCtx.Key.Accepted(q/l.QuestionsPerSubject, q%l.QuestionsPerSubject)
		if len(accepted) == 0 {
			return nil, fmt.Errorf("demo key has no answer for question %d", q+1)
		}
		answers[q] = (accepted[0] + shift) % l.OptionsPerQuestion
	}
	return answers, nil
}

func (testCtx *TestContext) aSheetAnsweredWithTheDemoKey() error {
	answers, err := testCtx.demoAnswers(0)
	if err != nil {
		return err
	}
	testCtx.Spec.Marks = testutil.SingleMarks(answers)
	return nil
}

func (testCtx *TestContext) aSheetAnsweredWithTheShiftedKey() error {
	answers, err := testCtx.demoAnswers(1)
	if err != nil {
		return err
	}
	testCtx.Spec.Marks = testutil.SingleMarks(answers)
	return nil
}

// question numbers in steps are 1-based across the whole sheet.
func (testCtx *TestContext) questionIndex(n int) (int, error) {
	if n < 1 || n > len(testCtx.Spec.Marks) {
		return 0, fmt.Errorf("question %d out of range 1..%d", n, len(testCtx.Spec.Marks))
	}
	return n - 1, nil
}

func (testCtx *TestContext) optionIndex(label string) (int, error) {
	o := int(label[0] - 'A')
	if o < 0 || o >= testCtx.Layout.OptionsPerQuestion {
		return 0, fmt.Errorf("option %s not on the layout", label)
	}
	return o, nil
}

func (testCtx *TestContext) questionIsLeftBlank(n int) error {
	q, err := testCtx.questionIndex(n)
	if err != nil {
		return err
	}
	testCtx.Spec.Marks[q] = nil
	return nil
}

func (testCtx *TestContext) questionIsAlsoMarked(n int, label string) error {
	q, err := testCtx.questionIndex(n)
	if err != nil {
		return err
	}
	o, err := testCtx.optionIndex(label)
	if err != nil {
		return err
	}
	for _, m := range testCtx.Spec.Marks[q] {
		if m == o {
			return fmt.Errorf("question %d is already marked with %s", n, label)
		}
	}
	testCtx.Spec.Marks[q] = append(testCtx.Spec.Marks[q], o)
	return nil
}

func (testCtx *TestContext) questionIsMarkedOnly(n int, label string) error {
	q, err := testCtx.questionIndex(n)
	if err != nil {
		return err
	}
	o, err := testCtx.optionIndex(label)
	if err != nil {
		return err
	}
	testCtx.Spec.Marks[q] = []int{o}
	return nil
}

func (testCtx *TestContext) captureSpec() *testutil.CaptureSpec {
	if testCtx.Capture == nil {
		c := testutil.DefaultCaptureSpec()
		testCtx.Capture = &c
	}
	return testCtx.Capture
}

func (testCtx *TestContext) theSheetIsPhotographedRotated(degrees int) error {
	testCtx.captureSpec().Rotate = float64(degrees)
	return nil
}

func (testCtx *TestContext) thePhotoIsNoisy() error {
	testCtx.captureSpec().Noise = 8
	return nil
}

func (testCtx *TestContext) anImageWithoutAnAnswerSheet() error {
	blank := image.NewGray(image.Rect(0, 0, 600, 800))
	draw.Draw(blank, blank.Bounds(), &image.Uniform{color.Gray{Y: 128}}, image.Point{}, draw.Src)
	testCtx.Image = blank
	return nil
}

// image returns the explicit image of the scenario or renders the sheet.
func (testCtx *TestContext) image() (image.Image, error) {
	if testCtx.Image != nil {
		return testCtx.Image, nil
	}
	if testCtx.Spec.Layout == nil {
		return nil, errors.New("no sheet described")
	}
	return testCtx.render()
}

func (testCtx *TestContext) theSheetIsSavedAs(name string) error {
	img, err := testCtx.image()
	if err != nil {
		return err
	}
	return testutil.WritePNG(filepath.Join(testCtx.TempDir, name), img)
}
