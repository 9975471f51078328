package pipeline

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MeKo-Tech/omr/internal/common"
)

func TestNoOpProgressCallback(t *testing.T) {
	var cb ProgressCallback = NoOpProgressCallback{}
	cb.OnStart(3)
	cb.OnSheet(1, 3, &SheetResult{})
	cb.OnComplete(ParallelStats{})
}

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	cb := NewConsoleProgressCallback(&buf, "omr: ").WithWidth(10).WithUpdateInterval(0)

	cb.OnStart(4)
	assert.Contains(t, buf.String(), "omr: grading 4 sheets")

	buf.Reset()
	cb.OnSheet(1, 4, &SheetResult{Score: scoreWithFlags(false)})
	assert.Contains(t, buf.String(), "[##........] 1/4")

	buf.Reset()
	cb.OnSheet(2, 4, &SheetResult{ErrorKind: common.KindSheetNotDetected})
	assert.Contains(t, buf.String(), "failed=1 flagged=0")

	buf.Reset()
	cb.OnSheet(3, 4, &SheetResult{Score: scoreWithFlags(true)})
	assert.Contains(t, buf.String(), "failed=1 flagged=1")

	buf.Reset()
	cb.OnComplete(ParallelStats{Graded: 2, Failed: 1, Flagged: 1, TotalDuration: 1500 * time.Millisecond})
	assert.Contains(t, buf.String(), "omr: done: 2 graded, 1 failed, 1 flagged in 1.5s")
}

func TestConsoleProgressCallback_Throttles(t *testing.T) {
	var buf bytes.Buffer
	cb := NewConsoleProgressCallback(&buf, "").WithUpdateInterval(time.Hour).WithRate(false)
	cb.OnStart(3)
	cb.OnSheet(1, 3, &SheetResult{})
	buf.Reset()

	cb.OnSheet(2, 3, &SheetResult{})
	assert.Empty(t, buf.String())

	cb.OnSheet(3, 3, &SheetResult{})
	assert.Contains(t, buf.String(), "3/3")
	assert.NotContains(t, buf.String(), "sheets/s")
}

func TestLogProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	cb := NewLogProgressCallback(logger, 2)

	cb.OnStart(3)
	cb.OnSheet(1, 3, &SheetResult{SheetID: "a", ErrorKind: common.KindLayoutMismatch, Error: "bad aspect"})
	cb.OnSheet(2, 3, &SheetResult{Score: scoreWithFlags(false)})
	cb.OnComplete(ParallelStats{Graded: 1, Failed: 1})

	out := buf.String()
	assert.Contains(t, out, "Batch grading started")
	assert.Contains(t, out, "sheet_id=a")
	assert.Contains(t, out, "error_kind=LayoutMismatch")
	assert.Contains(t, out, "done=2")
	assert.Contains(t, out, "Batch grading finished")
}

func TestMultiProgressCallback(t *testing.T) {
	a, b := &recordingProgress{}, &recordingProgress{}
	m := MultiProgressCallback{a, b}
	m.OnStart(2)
	m.OnSheet(1, 2, &SheetResult{})
	m.OnComplete(ParallelStats{Graded: 1})

	for _, r := range []*recordingProgress{a, b} {
		assert.Equal(t, 2, r.started)
		assert.Equal(t, []int{1}, r.done)
		assert.Equal(t, 1, r.complete.Graded)
	}
}
