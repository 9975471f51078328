package pipeline

import (
	"sync/atomic"
)

// Profiler aggregates counters and stage timings across Grade calls.
type Profiler struct {
	Graded       atomic.Int64
	Failed       atomic.Int64
	Flagged      atomic.Int64
	NormalizeNs  atomic.Int64
	ClassifyNs   atomic.Int64
	TotalNs      atomic.Int64
	AmbiguousSum atomic.Int64
}

// Record adds one sheet outcome.
func (p *Profiler) Record(r *SheetResult) {
	if r == nil {
		return
	}
	switch {
	case !r.OK():
		p.Failed.Add(1)
	case r.Flagged():
		p.Graded.Add(1)
		p.Flagged.Add(1)
	default:
		p.Graded.Add(1)
	}
	p.NormalizeNs.Add(r.Timings.NormalizeNs)
	p.ClassifyNs.Add(r.Timings.ClassifyNs)
	p.TotalNs.Add(r.Timings.TotalNs)
	if r.Diagnostics != nil {
		p.AmbiguousSum.Add(int64(r.Diagnostics.AmbiguousCells))
	}
}

// Snapshot returns cumulative metrics in milliseconds for readability.
func (p *Profiler) Snapshot() map[string]any {
	graded := p.Graded.Load()
	failed := p.Failed.Load()
	sheets := graded + failed
	out := map[string]any{
		"sheets":            sheets,
		"graded":            graded,
		"failed":            failed,
		"flagged":           p.Flagged.Load(),
		"normalize_ms":      p.NormalizeNs.Load() / 1_000_000,
		"classify_ms":       p.ClassifyNs.Load() / 1_000_000,
		"total_ms":          p.TotalNs.Load() / 1_000_000,
		"ambiguous_cells":   p.AmbiguousSum.Load(),
	}
	if sheets > 0 {
		out["ms_per_sheet"] = float64(p.TotalNs.Load()) / 1_000_000.0 / float64(sheets)
	}
	return out
}
