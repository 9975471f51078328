package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ToJSON serializes one result to indented JSON.
func ToJSON(res *SheetResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteJSONLines writes one compact JSON object per result.
func WriteJSONLines(w io.Writer, results []*SheetResult) error {
	enc := json.NewEncoder(w)
	for i, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("result %d: %w", i, err)
		}
	}
	return nil
}

// SummaryHeader is the column set written by WriteSummaryCSV, followed by
// one column per subject of the first scored sheet.
var SummaryHeader = []string{
	"sheet_id", "source", "layout", "version", "status", "error_kind",
	"total_score", "max_score", "percentage", "confidence",
	"ambiguous_cells", "multiple", "none", "low_confidence",
}

// WriteSummaryCSV writes one row per sheet.
func WriteSummaryCSV(w io.Writer, results []*SheetResult) error {
	cw := csv.NewWriter(w)
	var subjects []string
	for _, r := range results {
		if r.OK() {
			for _, s := range r.Score.Subjects {
				subjects = append(subjects, s.Name)
			}
			break
		}
	}
	if err := cw.Write(append(append([]string(nil), SummaryHeader...), subjects...)); err != nil {
		return err
	}
	for _, r := range results {
		if err := cw.Write(summaryRow(r, subjects)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func summaryRow(r *SheetResult, subjects []string) []string {
	row := []string{r.SheetID, r.Source, r.Layout, r.Version, Status(r), string(r.ErrorKind)}
	if !r.OK() {
		return append(row, make([]string, len(SummaryHeader)-len(row)+len(subjects))...)
	}
	s := r.Score
	row = append(row,
		strconv.Itoa(s.TotalScore),
		strconv.Itoa(s.MaxScore),
		fmt.Sprintf("%.1f", s.Percentage),
		fmt.Sprintf("%.3f", s.OverallConfidence),
		strconv.Itoa(s.Quality.AmbiguousCells),
		strconv.Itoa(s.Quality.MultipleCount),
		strconv.Itoa(s.Quality.NoneCount),
		strconv.FormatBool(s.Quality.LowConfidence),
	)
	for _, name := range subjects {
		cell := ""
		for _, sub := range s.Subjects {
			if sub.Name == name {
				cell = strconv.Itoa(sub.Score)
				break
			}
		}
		row = append(row, cell)
	}
	return row
}

// ToAnswersCSV exports the per-question results of one sheet.
func ToAnswersCSV(res *SheetResult) (string, error) {
	if !res.OK() {
		return "", errors.New("sheet was not scored")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"subject", "question", "state", "answer", "marked", "key", "correct", "confidence"})
	for _, q := range res.Score.Questions {
		_ = w.Write([]string{
			q.Subject,
			strconv.Itoa(q.Question),
			string(q.State),
			q.Answer,
			strings.Join(q.Marked, ","),
			q.Key,
			strconv.FormatBool(q.Correct),
			fmt.Sprintf("%.3f", q.Confidence),
		})
	}
	w.Flush()
	return buf.String(), w.Error()
}

// Status is "ok", "flagged" or "failed".
func Status(r *SheetResult) string {
	switch {
	case !r.OK():
		return "failed"
	case r.Flagged():
		return "flagged"
	default:
		return "ok"
	}
}

// ToPlainText renders a short human-readable report of one sheet.
func ToPlainText(res *SheetResult) string {
	var b strings.Builder
	name := res.SheetID
	if name == "" {
		name = res.Source
	}
	if !res.OK() {
		fmt.Fprintf(&b, "%s: FAILED (%s) %s\n", name, res.ErrorKind, res.Error)
		return b.String()
	}
	s := res.Score
	fmt.Fprintf(&b, "%s: %d/%d (%.1f%%) version %s [%s]\n",
		name, s.TotalScore, s.MaxScore, s.Percentage, res.Version, res.VersionSource)
	for _, sub := range s.Subjects {
		fmt.Fprintf(&b, "  %-20s %3d/%-3d %5.1f%%", sub.Name, sub.Score, sub.Total, sub.Percentage)
		if sub.None > 0 || sub.Multiple > 0 {
			fmt.Fprintf(&b, "  none=%d multiple=%d", sub.None, sub.Multiple)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "  confidence %.3f", s.OverallConfidence)
	if q := s.Quality; q.Any() {
		fmt.Fprintf(&b, "  REVIEW: ambiguous=%d multiple=%d none=%d low_confidence=%t",
			q.AmbiguousCells, q.MultipleCount, q.NoneCount, q.LowConfidence)
	}
	b.WriteByte('\n')
	return b.String()
}
