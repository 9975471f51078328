// Package answerkey loads versioned answer keys and binds them to a sheet
// layout for scoring.
package answerkey

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/MeKo-Tech/omr/internal/layout"
)

// AnswerKey is the file form of a key. Answers hold printed option labels;
// an entry such as "A,B" accepts either option.
type AnswerKey struct {
	Version  string       `yaml:"version" json:"version"`
	Layout   string       `yaml:"layout,omitempty" json:"layout,omitempty"`
	Subjects []SubjectKey `yaml:"subjects" json:"subjects"`
}

// SubjectKey lists the answers of one subject, question 1 first.
type SubjectKey struct {
	Name    string   `yaml:"name" json:"name"`
	Answers []string `yaml:"answers" json:"answers"`
}

// Key is an AnswerKey bound to a layout. It is immutable and safe for
// concurrent use.
type Key struct {
	Version string
	Layout  *layout.SheetLayout
	// accepted[subject][question] holds the sorted accepted option indices.
	accepted [][][]int
}

// FoldName normalizes a subject name for matching: Unicode case folding,
// with underscores and dashes treated as spaces.
func FoldName(s string) string {
	s = cases.Fold().String(norm.NFC.String(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// MatchSubject returns the index of name in the layout, or -1.
func MatchSubject(l *layout.SheetLayout, name string) int {
	if i := l.SubjectIndex(name); i >= 0 {
		return i
	}
	want := FoldName(name)
	for i, s := range l.Subjects {
		if FoldName(s) == want {
			return i
		}
	}
	return -1
}

// ParseOptions parses an entry such as "B" or "A,C" into sorted option
// indices.
func ParseOptions(l *layout.SheetLayout, entry string) ([]int, error) {
	parts := strings.FieldsFunc(entry, func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == '|' || r == ' '
	})
	if len(parts) == 0 {
		return nil, errors.New("empty answer")
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		o, err := l.ParseOption(p)
		if err != nil {
			return nil, err
		}
		if slices.Contains(out, o) {
			return nil, fmt.Errorf("option %q listed twice", p)
		}
		out = append(out, o)
	}
	slices.Sort(out)
	return out, nil
}

// Bind validates the key against l and resolves its labels. Every layout
// subject must be present exactly once with one answer per question.
func (k *AnswerKey) Bind(l *layout.SheetLayout) (*Key, error) {
	var errs []error
	if strings.TrimSpace(k.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if k.Layout != "" && k.Layout != l.ID {
		errs = append(errs, fmt.Errorf("key is for layout %q, not %q", k.Layout, l.ID))
	}

	accepted := make([][][]int, len(l.Subjects))
	for _, sk := range k.Subjects {
		s := MatchSubject(l, sk.Name)
		if s < 0 {
			errs = append(errs, fmt.Errorf("unknown subject %q", sk.Name))
			continue
		}
		if accepted[s] != nil {
			errs = append(errs, fmt.Errorf("subject %q listed twice", sk.Name))
			continue
		}
		if len(sk.Answers) != l.QuestionsPerSubject {
			errs = append(errs, fmt.Errorf("subject %q has %d answers, layout expects %d",
				sk.Name, len(sk.Answers), l.QuestionsPerSubject))
			continue
		}
		qs := make([][]int, len(sk.Answers))
		for q, a := range sk.Answers {
			opts, err := ParseOptions(l, a)
			if err != nil {
				errs = append(errs, fmt.Errorf("subject %q question %d: %w", sk.Name, q+1, err))
				continue
			}
			qs[q] = opts
		}
		accepted[s] = qs
	}
	for s, qs := range accepted {
		if qs == nil && MatchSubjectIn(k.Subjects, l.Subjects[s]) < 0 {
			errs = append(errs, fmt.Errorf("subject %q is missing", l.Subjects[s]))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("answer key %q: %w", k.Version, err)
	}
	return &Key{Version: k.Version, Layout: l, accepted: accepted}, nil
}

// MatchSubjectIn returns the index of the subject key named name, or -1.
func MatchSubjectIn(keys []SubjectKey, name string) int {
	want := FoldName(name)
	for i, sk := range keys {
		if FoldName(sk.Name) == want {
			return i
		}
	}
	return -1
}

// Accepted returns the accepted options of a question (0-based indices).
func (k *Key) Accepted(subject, question int) []int {
	if subject < 0 || subject >= len(k.accepted) {
		return nil
	}
	qs := k.accepted[subject]
	if question < 0 || question >= len(qs) {
		return nil
	}
	return qs[question]
}

// IsCorrect reports whether option is an accepted answer.
func (k *Key) IsCorrect(subject, question, option int) bool {
	return option >= 0 && slices.Contains(k.Accepted(subject, question), option)
}

// Label renders the accepted options of a question as "A" or "A,B".
func (k *Key) Label(subject, question int) string {
	opts := k.Accepted(subject, question)
	labels := make([]string, len(opts))
	for i, o := range opts {
		labels[i] = k.Layout.OptionLabel(o)
	}
	return strings.Join(labels, ",")
}

// Unbind converts the key back to its file form.
func (k *Key) Unbind() *AnswerKey {
	out := &AnswerKey{Version: k.Version, Layout: k.Layout.ID}
	for s, name := range k.Layout.Subjects {
		sk := SubjectKey{Name: name, Answers: make([]string, k.Layout.QuestionsPerSubject)}
		for q := range sk.Answers {
			sk.Answers[q] = k.Label(s, q)
		}
		out.Subjects = append(out.Subjects, sk)
	}
	return out
}

// FromOptions builds a key with one correct option per question, indexed
// by subject*QuestionsPerSubject + question.
func FromOptions(version string, l *layout.SheetLayout, options []int) (*AnswerKey, error) {
	if len(options) != l.TotalQuestions() {
		return nil, fmt.Errorf("got %d answers for %d questions", len(options), l.TotalQuestions())
	}
	k := &AnswerKey{Version: version, Layout: l.ID}
	for s, name := range l.Subjects {
		sk := SubjectKey{Name: name, Answers: make([]string, l.QuestionsPerSubject)}
		for q := range sk.Answers {
			sk.Answers[q] = l.OptionLabel(options[s*l.QuestionsPerSubject+q])
		}
		k.Subjects = append(k.Subjects, sk)
	}
	return k, nil
}

// DefaultKey cycles A, B, C, D... through every subject.
func DefaultKey(l *layout.SheetLayout) *AnswerKey {
	options := make([]int, l.TotalQuestions())
	for i := range options {
		options[i] = (i % l.QuestionsPerSubject) % l.OptionsPerQuestion
	}
	k, _ := FromOptions(l.Version, l, options)
	return k
}
