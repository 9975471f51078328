package normalize

import (
	"errors"
	"fmt"
)

// IlluminationMethod selects the lighting correction applied to the
// canonical sheet.
type IlluminationMethod string

const (
	// IlluminationFlatField divides by a smoothed estimate of the paper level.
	IlluminationFlatField IlluminationMethod = "flatfield"
	// IlluminationCLAHE applies contrast-limited adaptive histogram equalization.
	IlluminationCLAHE IlluminationMethod = "clahe"
	// IlluminationNone leaves intensities untouched.
	IlluminationNone IlluminationMethod = "none"
)

// Config holds the normalizer thresholds.
type Config struct {
	WorkingSide     int     // longest side the source is reduced to before warping
	DetectionSide   int     // longest side used for sheet boundary search
	DenoiseRadius   float64 // median filter radius; 0 disables
	MinContrast     int     // minimum spread between 2nd and 98th intensity percentiles
	MinAreaRatio    float64 // minimum sheet contour area relative to the frame
	AreaTieRatio    float64 // candidates within this relative area of the largest compete on squareness
	MinSolidity     float64 // contour area / quadrilateral area
	CanonicalHeight int     // output height; width follows the measured or layout aspect
	AspectTolerance float64 // measured aspect within this of the layout snaps to the layout

	Illumination   IlluminationMethod
	FlatFieldBlock int     // background block size; 0 derives it from the height
	CLAHETiles     int     // tiles per side
	CLAHEClip      float64 // clip limit as a multiple of the mean bin height

	MarkerSearch  float64 // half-size of each marker search window, in marker sides
	MinMarkers    int     // markers required for rotation correction
	MinResidualPx float64 // corrections below this marker residual are skipped
	MaxCorrection float64 // corrections moving a corner more than this fraction of the width are rejected
}

// DefaultConfig returns the defaults used for photographed and scanned sheets.
func DefaultConfig() Config {
	return Config{
		WorkingSide:     1600,
		DetectionSide:   512,
		DenoiseRadius:   1,
		MinContrast:     40,
		MinAreaRatio:    0.2,
		AreaTieRatio:    0.05,
		MinSolidity:     0.85,
		CanonicalHeight: 1000,
		AspectTolerance: 0.12,
		Illumination:    IlluminationFlatField,
		CLAHETiles:      8,
		CLAHEClip:       2.0,
		MarkerSearch:    1.5,
		MinMarkers:      2,
		MinResidualPx:   1.0,
		MaxCorrection:   0.05,
	}
}

// Validate reports invalid settings.
func (c Config) Validate() error {
	var errs []error
	if c.WorkingSide < 64 {
		errs = append(errs, fmt.Errorf("working side must be >= 64, got %d", c.WorkingSide))
	}
	if c.DetectionSide < 64 || c.DetectionSide > c.WorkingSide {
		errs = append(errs, fmt.Errorf("detection side must be in [64, working side], got %d", c.DetectionSide))
	}
	if c.DenoiseRadius < 0 {
		errs = append(errs, errors.New("denoise radius must be >= 0"))
	}
	if c.MinAreaRatio <= 0 || c.MinAreaRatio >= 1 {
		errs = append(errs, fmt.Errorf("min area ratio must be in (0,1), got %g", c.MinAreaRatio))
	}
	if c.AreaTieRatio < 0 || c.AreaTieRatio >= 1 {
		errs = append(errs, fmt.Errorf("area tie ratio must be in [0,1), got %g", c.AreaTieRatio))
	}
	if c.MinSolidity < 0 || c.MinSolidity > 1 {
		errs = append(errs, fmt.Errorf("min solidity must be in [0,1], got %g", c.MinSolidity))
	}
	if c.CanonicalHeight < 100 {
		errs = append(errs, fmt.Errorf("canonical height must be >= 100, got %d", c.CanonicalHeight))
	}
	switch c.Illumination {
	case IlluminationFlatField, IlluminationCLAHE, IlluminationNone:
	default:
		errs = append(errs, fmt.Errorf("unknown illumination method %q", c.Illumination))
	}
	if c.Illumination == IlluminationCLAHE && (c.CLAHETiles < 1 || c.CLAHEClip < 1) {
		errs = append(errs, errors.New("clahe needs tiles >= 1 and clip >= 1"))
	}
	if c.MarkerSearch <= 0.5 {
		errs = append(errs, fmt.Errorf("marker search must be > 0.5, got %g", c.MarkerSearch))
	}
	if c.MinMarkers < 2 {
		errs = append(errs, fmt.Errorf("min markers must be >= 2, got %d", c.MinMarkers))
	}
	return errors.Join(errs...)
}
