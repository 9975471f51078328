// Package evaluate scores resolved answers against an answer key.
package evaluate

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/omr/internal/answerkey"
	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/fill"
)

const stage = "evaluate"

// DefaultLowConfidenceThreshold flags sheets for human review.
const DefaultLowConfidenceThreshold = 0.8

// QuestionResult is the scored outcome of one question.
type QuestionResult struct {
	Subject    string           `json:"subject"`
	Question   int              `json:"question"` // 1-based within the subject
	State      fill.AnswerState `json:"state"`
	Answer     string           `json:"answer,omitempty"`
	Marked     []string         `json:"marked,omitempty"`
	Key        string           `json:"key"`
	Correct    bool             `json:"correct"`
	Confidence float64          `json:"confidence"`
	Ambiguous  int              `json:"ambiguous_cells,omitempty"`
}

// SubjectScore sums one subject.
type SubjectScore struct {
	Name       string  `json:"name"`
	Score      int     `json:"score"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	None       int     `json:"none"`
	Multiple   int     `json:"multiple"`
}

// QualityFlags are the non-fatal signals surfaced for human review.
type QualityFlags struct {
	AmbiguousCells int  `json:"ambiguous_cells"`
	MultipleCount  int  `json:"multiple_count"`
	NoneCount      int  `json:"none_count"`
	LowConfidence  bool `json:"low_confidence"`
}

// Any reports whether any flag is raised.
func (q QualityFlags) Any() bool {
	return q.AmbiguousCells > 0 || q.MultipleCount > 0 || q.NoneCount > 0 || q.LowConfidence
}

// ScoreResult is the scored sheet.
type ScoreResult struct {
	SheetID           string           `json:"sheet_id,omitempty"`
	Version           string           `json:"version"`
	Layout            string           `json:"layout"`
	Subjects          []SubjectScore   `json:"subjects"`
	TotalScore        int              `json:"total_score"`
	MaxScore          int              `json:"max_score"`
	Percentage        float64          `json:"percentage"`
	OverallConfidence float64          `json:"overall_confidence"`
	Quality           QualityFlags     `json:"quality"`
	Questions         []QuestionResult `json:"questions"`
}

// Sheet is the input of one evaluation.
type Sheet struct {
	ID      string
	Answers []fill.QuestionAnswer
	// AmbiguousCells is the sheet-wide ambiguous cell count. When zero the
	// per-question counts are summed instead.
	AmbiguousCells int
}

// Evaluator scores sheets. It is immutable and safe for concurrent use.
type Evaluator struct {
	LowConfidenceThreshold float64
}

// New returns an evaluator; a threshold <= 0 selects the default.
func New(lowConfidence float64) *Evaluator {
	if lowConfidence <= 0 {
		lowConfidence = DefaultLowConfidenceThreshold
	}
	return &Evaluator{LowConfidenceThreshold: lowConfidence}
}

// Evaluate scores s against key. Answers must be ordered by subject and
// question and cover the key's layout exactly.
func (e *Evaluator) Evaluate(s Sheet, key *answerkey.Key) (*ScoreResult, error) {
	if key == nil {
		return nil, common.NewSheetError(common.KindKeyVersionMismatch, stage, errors.New("no answer key"))
	}
	l := key.Layout
	if len(s.Answers) != l.TotalQuestions() {
		return nil, common.NewSheetError(common.KindInvalidInput, stage,
			fmt.Errorf("got %d answers, layout %q has %d questions", len(s.Answers), l.ID, l.TotalQuestions()))
	}

	res := &ScoreResult{
		SheetID:   s.ID,
		Version:   key.Version,
		Layout:    l.ID,
		Subjects:  make([]SubjectScore, len(l.Subjects)),
		Questions: make([]QuestionResult, 0, len(s.Answers)),
	}
	for i, name := range l.Subjects {
		res.Subjects[i] = SubjectScore{Name: name, Total: l.QuestionsPerSubject}
	}

	var confSum float64
	ambiguous := 0
	for i, qa := range s.Answers {
		subj, q := i/l.QuestionsPerSubject, i%l.QuestionsPerSubject
		if qa.Subject != subj || qa.Question != q {
			return nil, common.NewSheetError(common.KindInvalidInput, stage,
				fmt.Errorf("answer %d is subject %d question %d, want %d/%d", i, qa.Subject, qa.Question, subj, q))
		}
		qr := QuestionResult{
			Subject:    l.Subjects[subj],
			Question:   q + 1,
			State:      qa.State,
			Key:        key.Label(subj, q),
			Confidence: qa.Confidence,
			Ambiguous:  qa.Ambiguous,
		}
		for _, o := range qa.Marked {
			qr.Marked = append(qr.Marked, l.OptionLabel(o))
		}
		ss := &res.Subjects[subj]
		switch qa.State {
		case fill.AnswerSingle:
			qr.Answer = l.OptionLabel(qa.Option)
			qr.Correct = key.IsCorrect(subj, q, qa.Option)
		case fill.AnswerNone:
			ss.None++
			res.Quality.NoneCount++
		case fill.AnswerMultiple:
			ss.Multiple++
			res.Quality.MultipleCount++
		}
		if qr.Correct {
			ss.Score++
		}
		confSum += qa.Confidence
		ambiguous += qa.Ambiguous
		res.Questions = append(res.Questions, qr)
	}

	for i := range res.Subjects {
		ss := &res.Subjects[i]
		ss.Percentage = percent(ss.Score, ss.Total)
		res.TotalScore += ss.Score
		res.MaxScore += ss.Total
	}
	res.Percentage = percent(res.TotalScore, res.MaxScore)
	if n := len(s.Answers); n > 0 {
		res.OverallConfidence = confSum / float64(n)
	}
	res.Quality.AmbiguousCells = s.AmbiguousCells
	if res.Quality.AmbiguousCells == 0 {
		res.Quality.AmbiguousCells = ambiguous
	}
	res.Quality.LowConfidence = res.OverallConfidence < e.LowConfidenceThreshold
	return res, nil
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}
