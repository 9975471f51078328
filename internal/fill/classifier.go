package fill

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/omr/internal/grid"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// SheetReading is the fill assessment of every cell on one sheet.
type SheetReading struct {
	Cells     []CellReading
	Stats     *SheetStats
	Ambiguous int
	Fallbacks int
}

// Classifier fuses the estimators per cell and routes ambiguous cells to an
// optional secondary estimator. It is immutable and safe for concurrent use.
type Classifier struct {
	cfg       Config
	secondary FillEstimator
}

// NewClassifier returns a classifier. secondary may be nil; ambiguous cells
// then keep their fused score.
func NewClassifier(cfg Config, secondary FillEstimator) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fill config: %w", err)
	}
	return &Classifier{cfg: cfg, secondary: secondary}, nil
}

// Config returns the classifier configuration.
func (c *Classifier) Config() Config { return c.cfg }

// HasSecondary reports whether ambiguous cells have a fallback estimator.
func (c *Classifier) HasSecondary() bool { return c.secondary != nil }

// ReadSheet scores every cell. Cells keep the order of the input regions.
func (c *Classifier) ReadSheet(g *image.Gray, cells []grid.CellRegion) SheetReading {
	stats := NewSheetStats(g, cells, c.cfg)
	out := SheetReading{Cells: make([]CellReading, len(cells)), Stats: stats}
	for i, cell := range cells {
		r := c.readCell(g, cell, stats)
		if r.Ambiguous {
			out.Ambiguous++
		}
		if r.Source == SourceFallback {
			out.Fallbacks++
		}
		out.Cells[i] = r
	}
	return out
}

func (c *Classifier) readCell(g *image.Gray, cell grid.CellRegion, stats *SheetStats) CellReading {
	m := Measure(g, cell.Rect, stats, c.cfg)
	fused := utils.Clamp01(m.Fuse(c.cfg.Weights))
	r := CellReading{
		Subject:   cell.Subject,
		Question:  cell.Question,
		Option:    cell.Option,
		FillScore: fused,
		Fused:     fused,
		Methods:   m,
		Source:    SourceFused,
	}
	if !c.isAmbiguous(fused, m) {
		return r
	}
	r.Ambiguous = true
	if c.secondary == nil {
		r.Source = SourceFallback
		return r
	}
	score, err := c.secondary.Estimate(CellPatch{Image: g, Rect: cell.Rect, Stats: stats, Methods: m, Fused: fused})
	if err != nil {
		slog.Debug("Secondary classifier failed, keeping fused score",
			"subject", cell.Subject, "question", cell.Question, "option", cell.Option, "error", err)
		r.Source = SourceFallback
		return r
	}
	r.FillScore = utils.Clamp01(score)
	r.Source = SourceClassifier
	return r
}

func (c *Classifier) isAmbiguous(fused float64, m MethodScores) bool {
	inBand := fused >= c.cfg.AmbiguityLow && fused <= c.cfg.AmbiguityHigh
	return inBand || m.Spread() > c.cfg.MaxSpread
}
