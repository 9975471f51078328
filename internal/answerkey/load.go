package answerkey

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/omr/internal/layout"
)

// Format is an answer key file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// FormatFromPath guesses the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported answer key file %s", filepath.Base(path))
	}
}

// Parse decodes a YAML or JSON key.
func Parse(data []byte, format Format) (*AnswerKey, error) {
	k := &AnswerKey{}
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(k); err != nil {
			return nil, fmt.Errorf("decode answer key: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(k); err != nil {
			return nil, fmt.Errorf("decode answer key: %w", err)
		}
	default:
		return nil, fmt.Errorf("format %q needs a layout, use ParseCSV", format)
	}
	return k, nil
}

// ParseCSV reads Subject,Question,Answer rows. A header row is optional.
// Question numbers are 1-based, either within the subject or counted across
// the whole sheet as printed on the default form (Physics 21-40 and so on).
func ParseCSV(r io.Reader, version string, l *layout.SheetLayout) (*AnswerKey, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = 3
	cr.Comment = '#'
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read answer key csv: %w", err)
	}
	first := 1
	if len(rows) > 0 && strings.EqualFold(strings.TrimSpace(rows[0][0]), "subject") {
		rows = rows[1:]
		first = 2
	}

	answers := make([][]string, len(l.Subjects))
	for s := range answers {
		answers[s] = make([]string, l.QuestionsPerSubject)
	}
	var errs []error
	for i, row := range rows {
		line := i + first
		s := MatchSubject(l, row[0])
		if s < 0 {
			errs = append(errs, fmt.Errorf("line %d: unknown subject %q", line, row[0]))
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: question %q is not a number", line, row[1]))
			continue
		}
		q, ok := localQuestion(l, s, n)
		if !ok {
			errs = append(errs, fmt.Errorf("line %d: question %d out of range for %s", line, n, l.Subjects[s]))
			continue
		}
		if answers[s][q] != "" {
			errs = append(errs, fmt.Errorf("line %d: duplicate entry for %s question %d", line, l.Subjects[s], q+1))
			continue
		}
		a := strings.TrimSpace(row[2])
		if a == "" {
			errs = append(errs, fmt.Errorf("line %d: empty answer", line))
			continue
		}
		answers[s][q] = a
	}
	for s, qs := range answers {
		for q, a := range qs {
			if a == "" {
				errs = append(errs, fmt.Errorf("%s question %d has no answer", l.Subjects[s], q+1))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	k := &AnswerKey{Version: version, Layout: l.ID}
	for s, name := range l.Subjects {
		k.Subjects = append(k.Subjects, SubjectKey{Name: name, Answers: answers[s]})
	}
	return k, nil
}

func localQuestion(l *layout.SheetLayout, subject, n int) (int, bool) {
	qn := l.QuestionsPerSubject
	switch {
	case n >= 1 && n <= qn:
		return n - 1, true
	case n > subject*qn && n <= (subject+1)*qn:
		return n - subject*qn - 1, true
	default:
		return 0, false
	}
}

// Load reads a key file. A key without a version takes versionHint, or the
// file name stem when the hint is empty.
func Load(path, versionHint string, l *layout.SheetLayout) (*AnswerKey, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // G304: key path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("open answer key: %w", err)
	}
	defer func() { _ = f.Close() }()

	if versionHint == "" {
		versionHint = fileStem(path)
	}
	var k *AnswerKey
	if format == FormatCSV {
		k, err = ParseCSV(f, versionHint, l)
	} else {
		var data []byte
		if data, err = io.ReadAll(f); err == nil {
			k, err = Parse(data, format)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if k.Version == "" {
		k.Version = versionHint
	}
	return k, nil
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// MarshalYAML renders k as YAML.
func MarshalYAML(k *AnswerKey) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(k); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteCSV writes k as Subject,Question,Answer rows with a header.
func WriteCSV(w io.Writer, k *AnswerKey) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Subject", "Question", "Answer"}); err != nil {
		return err
	}
	for _, sk := range k.Subjects {
		for q, a := range sk.Answers {
			if err := cw.Write([]string{sk.Name, strconv.Itoa(q + 1), a}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
