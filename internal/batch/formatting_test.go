package batch

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/evaluate"
	"github.com/MeKo-Tech/omr/internal/pdf"
	"github.com/MeKo-Tech/omr/internal/pipeline"
)

func sampleRun() *Result {
	return &Result{
		RunID: "run-9",
		Results: []*pipeline.SheetResult{
			{
				SheetID: "s1", Source: "s1.png", Layout: "default", Version: "A",
				Score: &evaluate.ScoreResult{TotalScore: 80, MaxScore: 100, Percentage: 80},
			},
			{SheetID: "s2", Source: "s2.png", ErrorKind: common.KindLayoutMismatch, Error: "aspect 1.25"},
		},
	}
}

func TestFormatBatchResults(t *testing.T) {
	r := sampleRun()

	text, err := r.FormatResults("text")
	require.NoError(t, err)
	assert.Contains(t, text, "# s1.png\ns1: 80/100")
	assert.Contains(t, text, "# s2.png\ns2: FAILED (LayoutMismatch)")

	js, err := r.FormatResults("json")
	require.NoError(t, err)
	var decoded struct {
		RunID  string            `json:"run_id"`
		Sheets []json.RawMessage `json:"sheets"`
	}
	require.NoError(t, json.Unmarshal([]byte(js), &decoded))
	assert.Equal(t, "run-9", decoded.RunID)
	assert.Len(t, decoded.Sheets, 2)

	lines, err := r.FormatResults("jsonl")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(lines), "\n"), 2)

	csvOut, err := r.FormatResults("csv")
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(csvOut), "\n")
	require.Len(t, rows, 3)
	assert.True(t, strings.HasPrefix(rows[1], "s1,s1.png,default,A,ok,,80,100"))
	assert.True(t, strings.HasPrefix(rows[2], "s2,s2.png,,,failed,LayoutMismatch"))

	_, err = r.FormatResults("xml")
	assert.Error(t, err)
}

func TestSheetIDs(t *testing.T) {
	assert.Equal(t, "student-7", sheetID("/scans/student-7.png"))
	assert.Equal(t, "s3", sheetID("s3://b/x/s3.jpg"))
	assert.Equal(t, "exam-p2", pageSheetID("exam", pdf.Page{Number: 2}))
	assert.Equal(t, "exam-p2-1", pageSheetID("exam", pdf.Page{Number: 2, Index: 1}))
	assert.Equal(t, "a_b_c", overlayName("a/b:c"))
}
