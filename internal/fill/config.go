package fill

import (
	"errors"
	"fmt"
	"math"
)

// Weights are the fusion weights of the four estimators. They must sum to 1.
type Weights struct {
	Global   float64
	Adaptive float64
	Deficit  float64
	Edge     float64
}

// Sum of all weights.
func (w Weights) Sum() float64 { return w.Global + w.Adaptive + w.Deficit + w.Edge }

// Config holds fill detection and resolution thresholds.
type Config struct {
	Weights Weights

	SelectedThreshold float64 // fill score above which an option counts as marked
	MinMargin         float64 // winner must beat the runner-up by this much
	AmbiguityLow      float64 // uncertainty band, inclusive
	AmbiguityHigh     float64
	MaxSpread         float64 // estimator disagreement marking a cell ambiguous
	AmbiguityPenalty  float64 // confidence discount per ambiguous involved cell
	ConfidenceScale   float64 // winner margin that earns full confidence

	InnerInset     float64 // fraction trimmed from each side before pixel estimators
	AdaptiveWindow float64 // local window side in cell sizes
	AdaptiveOffset float64 // gray levels below the local mean counted as ink
	EdgeThreshold  uint8   // Sobel magnitude counted as an edge
	MinInkSpan     float64 // floor for the paper-to-ink distance
}

// DefaultConfig returns the thresholds tuned for pencil and pen marks.
func DefaultConfig() Config {
	return Config{
		Weights:           Weights{Global: 0.3, Adaptive: 0.3, Deficit: 0.35, Edge: 0.05},
		SelectedThreshold: 0.5,
		MinMargin:         0.2,
		AmbiguityLow:      0.35,
		AmbiguityHigh:     0.65,
		MaxSpread:         0.5,
		AmbiguityPenalty:  0.25,
		ConfidenceScale:   0.6,
		InnerInset:        0.25,
		AdaptiveWindow:    3,
		AdaptiveOffset:    12,
		EdgeThreshold:     80,
		MinInkSpan:        48,
	}
}

// Validate reports invalid settings.
func (c Config) Validate() error {
	var errs []error
	w := c.Weights
	if w.Global < 0 || w.Adaptive < 0 || w.Deficit < 0 || w.Edge < 0 {
		errs = append(errs, errors.New("fill weights must be >= 0"))
	}
	if math.Abs(w.Sum()-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("fill weights must sum to 1, got %g", w.Sum()))
	}
	if c.SelectedThreshold <= 0 || c.SelectedThreshold >= 1 {
		errs = append(errs, fmt.Errorf("selected threshold must be in (0,1), got %g", c.SelectedThreshold))
	}
	if c.MinMargin < 0 || c.MinMargin >= 1 {
		errs = append(errs, fmt.Errorf("min margin must be in [0,1), got %g", c.MinMargin))
	}
	if c.AmbiguityLow > c.AmbiguityHigh || c.AmbiguityLow < 0 || c.AmbiguityHigh > 1 {
		errs = append(errs, fmt.Errorf("ambiguity band [%g,%g] is invalid", c.AmbiguityLow, c.AmbiguityHigh))
	}
	if c.MaxSpread <= 0 || c.MaxSpread > 1 {
		errs = append(errs, fmt.Errorf("max spread must be in (0,1], got %g", c.MaxSpread))
	}
	if c.AmbiguityPenalty < 0 || c.AmbiguityPenalty >= 1 {
		errs = append(errs, fmt.Errorf("ambiguity penalty must be in [0,1), got %g", c.AmbiguityPenalty))
	}
	if c.ConfidenceScale <= 0 {
		errs = append(errs, errors.New("confidence scale must be > 0"))
	}
	if c.InnerInset < 0 || c.InnerInset >= 0.5 {
		errs = append(errs, fmt.Errorf("inner inset must be in [0,0.5), got %g", c.InnerInset))
	}
	if c.AdaptiveWindow < 1 {
		errs = append(errs, errors.New("adaptive window must be >= 1 cell"))
	}
	if c.MinInkSpan <= 0 {
		errs = append(errs, errors.New("min ink span must be > 0"))
	}
	return errors.Join(errs...)
}
