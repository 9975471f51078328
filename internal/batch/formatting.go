package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/MeKo-Tech/omr/internal/pipeline"
)

// formatBatchResults renders a run as text, json, jsonl or csv.
func formatBatchResults(r *Result, format string) (string, error) {
	switch format {
	case "json":
		return formatJSON(r)
	case "jsonl":
		var buf bytes.Buffer
		err := pipeline.WriteJSONLines(&buf, r.Results)
		return buf.String(), err
	case "csv":
		var buf bytes.Buffer
		err := pipeline.WriteSummaryCSV(&buf, r.Results)
		return buf.String(), err
	case "text", "":
		return formatText(r), nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

func formatJSON(r *Result) (string, error) {
	bts, err := json.MarshalIndent(r, "", "  ")
	return string(bts), err
}

func formatText(r *Result) string {
	var out strings.Builder
	for i, res := range r.Results {
		if i > 0 {
			out.WriteString("\n")
		}
		fmt.Fprintf(&out, "# %s\n", res.Source)
		out.WriteString(pipeline.ToPlainText(res))
	}
	return out.String()
}

func sortedKinds(m map[string]int) iter.Seq2[string, int] {
	return func(yield func(string, int) bool) {
		for _, k := range slices.Sorted(maps.Keys(m)) {
			if !yield(k, m[k]) {
				return
			}
		}
	}
}
