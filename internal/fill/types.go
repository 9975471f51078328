// Package fill decides how strongly each answer cell is marked and resolves
// every question to a single option, NONE or MULTIPLE.
package fill

import "image"

// MethodScores are the individual estimator outputs for one cell, each in [0,1].
type MethodScores struct {
	Global   float64 `json:"global"`
	Adaptive float64 `json:"adaptive"`
	Deficit  float64 `json:"deficit"`
	Edge     float64 `json:"edge"`
}

// Spread is the disagreement between the intensity estimators. The edge
// score only breaks ties and does not vote here.
func (m MethodScores) Spread() float64 {
	lo := min(m.Global, m.Adaptive, m.Deficit)
	hi := max(m.Global, m.Adaptive, m.Deficit)
	return hi - lo
}

// Fuse combines the scores with w.
func (m MethodScores) Fuse(w Weights) float64 {
	return w.Global*m.Global + w.Adaptive*m.Adaptive + w.Deficit*m.Deficit + w.Edge*m.Edge
}

// CellPatch is everything an estimator may look at for one cell.
type CellPatch struct {
	Image   *image.Gray
	Rect    image.Rectangle
	Stats   *SheetStats
	Methods MethodScores
	Fused   float64
}

// Pixels returns a copy of the cell pixels.
func (p CellPatch) Pixels() *image.Gray {
	sub, ok := p.Image.SubImage(p.Rect).(*image.Gray)
	if !ok || sub == nil {
		return image.NewGray(image.Rectangle{})
	}
	out := image.NewGray(image.Rect(0, 0, p.Rect.Dx(), p.Rect.Dy()))
	for y := range out.Rect.Dy() {
		copy(out.Pix[y*out.Stride:(y+1)*out.Stride], sub.Pix[y*sub.Stride:])
	}
	return out
}

// FillEstimator scores how filled one cell looks, in [0,1].
type FillEstimator interface {
	Estimate(p CellPatch) (float64, error)
}

// ReadingSource records which estimator produced a cell's final score.
type ReadingSource string

const (
	SourceFused      ReadingSource = "fused"
	SourceClassifier ReadingSource = "classifier"
	SourceFallback   ReadingSource = "fallback"
)

// CellReading is the fill assessment of one cell.
type CellReading struct {
	Subject   int           `json:"subject"`
	Question  int           `json:"question"`
	Option    int           `json:"option"`
	FillScore float64       `json:"fill_score"`
	Fused     float64       `json:"fused"`
	Methods   MethodScores  `json:"methods"`
	Ambiguous bool          `json:"ambiguous"`
	Source    ReadingSource `json:"source"`
}

// AnswerState is the resolution of one question.
type AnswerState string

const (
	AnswerSingle   AnswerState = "SINGLE"
	AnswerNone     AnswerState = "NONE"
	AnswerMultiple AnswerState = "MULTIPLE"
)

// QuestionAnswer is the resolved answer of one question. Option is -1
// unless State is AnswerSingle.
type QuestionAnswer struct {
	Subject    int         `json:"subject"`
	Question   int         `json:"question"`
	State      AnswerState `json:"state"`
	Option     int         `json:"option"`
	Marked     []int       `json:"marked,omitempty"`
	Confidence float64     `json:"confidence"`
	Ambiguous  int         `json:"ambiguous_cells"`
}
