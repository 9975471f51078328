package fill

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/omr/internal/utils"
)

// Resolve turns the readings of one question's options into an answer.
//
//   - NONE: no option is above the selected threshold.
//   - MULTIPLE: at least two options are above the threshold and the
//     runner-up is within the minimum margin of the best.
//   - SINGLE: otherwise. A runner-up below the threshold never turns a
//     lone mark into MULTIPLE; it only lowers the confidence.
func Resolve(options []CellReading, cfg Config) QuestionAnswer {
	qa := QuestionAnswer{Option: -1, State: AnswerNone}
	if len(options) == 0 {
		return qa
	}
	qa.Subject, qa.Question = options[0].Subject, options[0].Question

	order := make([]int, len(options))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return options[order[a]].FillScore > options[order[b]].FillScore
	})
	top := options[order[0]]
	second := CellReading{Option: -1}
	if len(order) > 1 {
		second = options[order[1]]
	}

	thr := cfg.SelectedThreshold
	for _, i := range order {
		if options[i].FillScore > thr {
			qa.Marked = append(qa.Marked, options[i].Option)
		}
	}
	sort.Ints(qa.Marked)

	var conf float64
	involved := []CellReading{top}
	switch {
	case top.FillScore <= thr:
		qa.State = AnswerNone
		conf = (thr - top.FillScore) / thr
	case second.FillScore > thr && top.FillScore-second.FillScore < cfg.MinMargin:
		qa.State = AnswerMultiple
		conf = (second.FillScore - thr) / (1 - thr)
		involved = append(involved, second)
	default:
		qa.State = AnswerSingle
		qa.Option = top.Option
		conf = (top.FillScore - second.FillScore) / cfg.ConfidenceScale
		if second.Option >= 0 {
			involved = append(involved, second)
		}
	}

	for _, r := range involved {
		if r.Ambiguous {
			qa.Ambiguous++
		}
	}
	conf = utils.Clamp01(conf) * math.Pow(1-cfg.AmbiguityPenalty, float64(qa.Ambiguous))
	qa.Confidence = conf
	return qa
}

// ResolveSheet resolves every question. cells must be ordered by subject,
// question and option with optionsPerQuestion entries per question.
func ResolveSheet(cells []CellReading, optionsPerQuestion int, cfg Config) []QuestionAnswer {
	if optionsPerQuestion <= 0 {
		return nil
	}
	out := make([]QuestionAnswer, 0, len(cells)/optionsPerQuestion)
	for i := 0; i+optionsPerQuestion <= len(cells); i += optionsPerQuestion {
		out = append(out, Resolve(cells[i:i+optionsPerQuestion], cfg))
	}
	return out
}
