// Package layout describes printed answer-sheet templates: which subjects
// appear, how many questions and options each has, where the reference
// markers sit and where the bubble grid is printed. All positions are
// normalized to the sheet so a layout is independent of capture resolution.
package layout

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
)

// DefaultLayoutID identifies the built-in layout.
const DefaultLayoutID = "default"

// DefaultSubjects is the five-subject exam the default layout prints.
var DefaultSubjects = []string{"Mathematics", "Physics", "Chemistry", "Biology", "General_Knowledge"}

// Rect is a normalized rectangle; X values are fractions of the sheet width,
// Y values fractions of the sheet height.
type Rect struct {
	Left   float64 `yaml:"left" json:"left"`
	Top    float64 `yaml:"top" json:"top"`
	Right  float64 `yaml:"right" json:"right"`
	Bottom float64 `yaml:"bottom" json:"bottom"`
}

// Width returns the normalized width.
func (r Rect) Width() float64 { return r.Right - r.Left }

// Height returns the normalized height.
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Pixels scales the rectangle to a w × h sheet.
func (r Rect) Pixels(w, h int) image.Rectangle {
	return image.Rect(
		int(math.Round(r.Left*float64(w))), int(math.Round(r.Top*float64(h))),
		int(math.Round(r.Right*float64(w))), int(math.Round(r.Bottom*float64(h))),
	)
}

func (r Rect) validate(name string) error {
	if r.Left < 0 || r.Top < 0 || r.Right > 1 || r.Bottom > 1 {
		return fmt.Errorf("%s must lie within the sheet: %+v", name, r)
	}
	if r.Left >= r.Right || r.Top >= r.Bottom {
		return fmt.Errorf("%s is empty: %+v", name, r)
	}
	return nil
}

// Marker is a solid square printed as a registration mark. X and Y give the
// normalized center; Size is the side length as a fraction of sheet width.
type Marker struct {
	X    float64 `yaml:"x" json:"x"`
	Y    float64 `yaml:"y" json:"y"`
	Size float64 `yaml:"size" json:"size"`
}

// Center returns the marker center in pixels on a w × h sheet.
func (m Marker) Center(w, h float64) (x, y float64) { return m.X * w, m.Y * h }

// Side returns the marker side length in pixels on a sheet of width w.
func (m Marker) Side(w float64) float64 { return m.Size * w }

// GridGeometry places the bubble grid. Subjects are laid out as blocks,
// SubjectsPerRow blocks side by side, wrapping into further bands.
type GridGeometry struct {
	Area           Rect    `yaml:"area" json:"area"`
	SubjectsPerRow int     `yaml:"subjects_per_row" json:"subjects_per_row"`
	ColumnGap      float64 `yaml:"column_gap" json:"column_gap"`
	BandGap        float64 `yaml:"band_gap" json:"band_gap"`
	LabelWidth     float64 `yaml:"label_width" json:"label_width"`
	HeaderHeight   float64 `yaml:"header_height" json:"header_height"`
	BubbleFill     float64 `yaml:"bubble_fill" json:"bubble_fill"`
}

// SheetLayout is one printed template. It is immutable after loading and is
// shared read-only by every sheet graded against it.
type SheetLayout struct {
	ID                  string       `yaml:"id" json:"id"`
	Version             string       `yaml:"version" json:"version"`
	Description         string       `yaml:"description,omitempty" json:"description,omitempty"`
	Subjects            []string     `yaml:"subjects" json:"subjects"`
	QuestionsPerSubject int          `yaml:"questions_per_subject" json:"questions_per_subject"`
	OptionsPerQuestion  int          `yaml:"options_per_question" json:"options_per_question"`
	OptionLabels        []string     `yaml:"option_labels,omitempty" json:"option_labels,omitempty"`
	AspectRatio         float64      `yaml:"aspect_ratio" json:"aspect_ratio"`
	AspectTolerance     float64      `yaml:"aspect_tolerance,omitempty" json:"aspect_tolerance,omitempty"`
	Markers             []Marker     `yaml:"markers,omitempty" json:"markers,omitempty"`
	Grid                GridGeometry `yaml:"grid" json:"grid"`
	VersionRegion       *Rect        `yaml:"version_region,omitempty" json:"version_region,omitempty"`
}

// DefaultLayout returns the stock 5 × 20 × 4 sheet printed at 800 × 1000.
func DefaultLayout() *SheetLayout {
	return &SheetLayout{
		ID:                  DefaultLayoutID,
		Version:             "A",
		Description:         "Five subjects, twenty questions each, options A-D",
		Subjects:            append([]string(nil), DefaultSubjects...),
		QuestionsPerSubject: 20,
		OptionsPerQuestion:  4,
		AspectRatio:         0.8,
		Markers: []Marker{
			{X: 0.05, Y: 0.04, Size: 0.03},
			{X: 0.95, Y: 0.04, Size: 0.03},
			{X: 0.95, Y: 0.96, Size: 0.03},
			{X: 0.05, Y: 0.96, Size: 0.03},
		},
		Grid: GridGeometry{
			Area:           Rect{Left: 0.06, Top: 0.24, Right: 0.94, Bottom: 0.92},
			SubjectsPerRow: 5,
			ColumnGap:      0.02,
			BandGap:        0.02,
			LabelWidth:     0.2,
			HeaderHeight:   0.05,
			BubbleFill:     0.72,
		},
		VersionRegion: &Rect{Left: 0.76, Top: 0.07, Right: 0.94, Bottom: 0.21},
	}
}

// TotalQuestions is subjects × questions per subject.
func (l *SheetLayout) TotalQuestions() int {
	return len(l.Subjects) * l.QuestionsPerSubject
}

// CellCount is the number of answer cells on the sheet.
func (l *SheetLayout) CellCount() int {
	return l.TotalQuestions() * l.OptionsPerQuestion
}

// SubjectIndex returns the index of subject name, or -1.
func (l *SheetLayout) SubjectIndex(name string) int {
	for i, s := range l.Subjects {
		if s == name {
			return i
		}
	}
	return -1
}

// Bands returns how many rows of subject blocks the grid has.
func (l *SheetLayout) Bands() int {
	per := l.subjectsPerRow()
	return (len(l.Subjects) + per - 1) / per
}

func (l *SheetLayout) subjectsPerRow() int {
	if l.Grid.SubjectsPerRow <= 0 || l.Grid.SubjectsPerRow > len(l.Subjects) {
		return max(1, len(l.Subjects))
	}
	return l.Grid.SubjectsPerRow
}

// SubjectsPerRow returns the effective number of subject blocks per band.
func (l *SheetLayout) SubjectsPerRow() int { return l.subjectsPerRow() }

// OptionLabel returns the printed label of option i ("A", "B", ...).
func (l *SheetLayout) OptionLabel(i int) string {
	if i >= 0 && i < len(l.OptionLabels) {
		return l.OptionLabels[i]
	}
	return LetterLabel(i)
}

// ParseOption maps a printed label back to its option index.
func (l *SheetLayout) ParseOption(label string) (int, error) {
	label = strings.TrimSpace(label)
	for i := range l.OptionsPerQuestion {
		if strings.EqualFold(l.OptionLabel(i), label) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("option %q is not one of %s", label, strings.Join(l.labels(), ","))
}

func (l *SheetLayout) labels() []string {
	out := make([]string, l.OptionsPerQuestion)
	for i := range out {
		out[i] = l.OptionLabel(i)
	}
	return out
}

// LetterLabel returns "A" for 0, "B" for 1 and so on.
func LetterLabel(i int) string {
	if i < 0 || i >= 26 {
		return fmt.Sprintf("#%d", i)
	}
	return string(rune('A' + i))
}

// Validate checks the layout for internal consistency.
func (l *SheetLayout) Validate() error {
	var errs []error
	if strings.TrimSpace(l.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(l.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if len(l.Subjects) == 0 {
		errs = append(errs, errors.New("at least one subject is required"))
	}
	seen := make(map[string]bool, len(l.Subjects))
	for _, s := range l.Subjects {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, errors.New("subject names must not be empty"))
		}
		if seen[s] {
			errs = append(errs, fmt.Errorf("duplicate subject %q", s))
		}
		seen[s] = true
	}
	if l.QuestionsPerSubject < 1 {
		errs = append(errs, fmt.Errorf("questions_per_subject must be >= 1, got %d", l.QuestionsPerSubject))
	}
	if l.OptionsPerQuestion < 2 || l.OptionsPerQuestion > 26 {
		errs = append(errs, fmt.Errorf("options_per_question must be in [2,26], got %d", l.OptionsPerQuestion))
	}
	if len(l.OptionLabels) > 0 && len(l.OptionLabels) != l.OptionsPerQuestion {
		errs = append(errs, fmt.Errorf("option_labels has %d entries for %d options", len(l.OptionLabels), l.OptionsPerQuestion))
	}
	if l.AspectRatio <= 0 {
		errs = append(errs, fmt.Errorf("aspect_ratio must be > 0, got %g", l.AspectRatio))
	}
	if l.AspectTolerance < 0 || l.AspectTolerance >= 1 {
		errs = append(errs, fmt.Errorf("aspect_tolerance must be in [0,1), got %g", l.AspectTolerance))
	}
	for i, m := range l.Markers {
		if m.X < 0 || m.X > 1 || m.Y < 0 || m.Y > 1 || m.Size <= 0 || m.Size > 0.5 {
			errs = append(errs, fmt.Errorf("marker %d out of range: %+v", i, m))
		}
	}
	errs = append(errs, l.Grid.validate())
	if l.VersionRegion != nil {
		errs = append(errs, l.VersionRegion.validate("version_region"))
	}
	return errors.Join(errs...)
}

func (g GridGeometry) validate() error {
	var errs []error
	errs = append(errs, g.Area.validate("grid.area"))
	if g.SubjectsPerRow < 0 {
		errs = append(errs, fmt.Errorf("grid.subjects_per_row must be >= 0, got %d", g.SubjectsPerRow))
	}
	if g.ColumnGap < 0 || g.BandGap < 0 {
		errs = append(errs, errors.New("grid gaps must be >= 0"))
	}
	if g.LabelWidth < 0 || g.LabelWidth >= 1 {
		errs = append(errs, fmt.Errorf("grid.label_width must be in [0,1), got %g", g.LabelWidth))
	}
	if g.HeaderHeight < 0 || g.HeaderHeight >= 1 {
		errs = append(errs, fmt.Errorf("grid.header_height must be in [0,1), got %g", g.HeaderHeight))
	}
	if g.BubbleFill <= 0 || g.BubbleFill > 1 {
		errs = append(errs, fmt.Errorf("grid.bubble_fill must be in (0,1], got %g", g.BubbleFill))
	}
	return errors.Join(errs...)
}
