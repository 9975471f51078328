package testutil

import (
	"math/rand/v2"

	"github.com/MeKo-Tech/omr/internal/layout"
)

// MarkOptions controls RandomMarks.
type MarkOptions struct {
	Seed       uint64
	BlankRate  float64 // probability a question is left empty
	DoubleRate float64 // probability a question carries a second mark
}

// RandomMarks returns one mark per question drawn from a seeded generator,
// with optional blanks and double marks.
func RandomMarks(l *layout.SheetLayout, o MarkOptions) [][]int {
	rng := rand.New(rand.NewPCG(o.Seed, o.Seed+1))
	marks := make([][]int, l.TotalQuestions())
	for q := range marks {
		if rng.Float64() < o.BlankRate {
			continue
		}
		first := rng.IntN(l.OptionsPerQuestion)
		marks[q] = []int{first}
		if rng.Float64() < o.DoubleRate {
			marks[q] = append(marks[q], (first+1+rng.IntN(l.OptionsPerQuestion-1))%l.OptionsPerQuestion)
		}
	}
	return marks
}

// SingleMarks returns marks with option answers[q] for each question q.
func SingleMarks(answers []int) [][]int {
	marks := make([][]int, len(answers))
	for q, a := range answers {
		if a >= 0 {
			marks[q] = []int{a}
		}
	}
	return marks
}

// CyclicAnswers returns n answers cycling through the options; handy as a
// deterministic answer key.
func CyclicAnswers(l *layout.SheetLayout) []int {
	out := make([]int, l.TotalQuestions())
	for q := range out {
		out[q] = (q*7 + q/l.QuestionsPerSubject) % l.OptionsPerQuestion
	}
	return out
}

// DoubleMark adds a second option to each listed question.
func DoubleMark(marks [][]int, l *layout.SheetLayout, questions ...int) [][]int {
	out := make([][]int, len(marks))
	for q := range marks {
		out[q] = append([]int(nil), marks[q]...)
	}
	for _, q := range questions {
		if len(out[q]) == 0 {
			out[q] = []int{0, 1}
			continue
		}
		out[q] = append(out[q], (out[q][0]+1)%l.OptionsPerQuestion)
	}
	return out
}
