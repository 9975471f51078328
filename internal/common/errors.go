package common

import (
	"errors"
	"fmt"
)

// ErrorKind tags a per-sheet failure so callers can separate geometry
// problems from key problems without string matching.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindSheetNotDetected   ErrorKind = "SheetNotDetected"
	KindLayoutMismatch     ErrorKind = "LayoutMismatch"
	KindKeyVersionMismatch ErrorKind = "KeyVersionMismatch"
	KindInvalidInput       ErrorKind = "InvalidInput"
	KindInternal           ErrorKind = "Internal"
)

// Sentinel errors, one per fatal kind. Use errors.Is against these.
var (
	ErrSheetNotDetected   = errors.New("sheet not detected")
	ErrLayoutMismatch     = errors.New("layout mismatch")
	ErrKeyVersionMismatch = errors.New("answer key version mismatch")
	ErrInvalidInput       = errors.New("invalid input")
)

// SheetError is a fatal failure of one sheet at one stage.
type SheetError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

// NewSheetError builds a SheetError of the given kind.
func NewSheetError(kind ErrorKind, stage string, err error) *SheetError {
	return &SheetError{Kind: kind, Stage: stage, Err: err}
}

// SheetNotDetected wraps a formatted cause as a SheetNotDetected failure.
func SheetNotDetected(stage, format string, args ...any) *SheetError {
	return &SheetError{Kind: KindSheetNotDetected, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// LayoutMismatch wraps a formatted cause as a LayoutMismatch failure.
func LayoutMismatch(stage, format string, args ...any) *SheetError {
	return &SheetError{Kind: KindLayoutMismatch, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// KeyVersionMismatch reports a missing answer key version.
func KeyVersionMismatch(stage, version string) *SheetError {
	return &SheetError{Kind: KindKeyVersionMismatch, Stage: stage, Err: fmt.Errorf("no answer key for version %q", version)}
}

func (e *SheetError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *SheetError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSheetNotDetected) and friends work on SheetError.
func (e *SheetError) Is(target error) bool {
	if s := sentinelFor(e.Kind); s != nil {
		return target == s
	}
	return false
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindSheetNotDetected:
		return ErrSheetNotDetected
	case KindLayoutMismatch:
		return ErrLayoutMismatch
	case KindKeyVersionMismatch:
		return ErrKeyVersionMismatch
	case KindInvalidInput:
		return ErrInvalidInput
	default:
		return nil
	}
}

// KindOf classifies err. Untagged errors are Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var se *SheetError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrSheetNotDetected):
		return KindSheetNotDetected
	case errors.Is(err, ErrLayoutMismatch):
		return KindLayoutMismatch
	case errors.Is(err, ErrKeyVersionMismatch):
		return KindKeyVersionMismatch
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	}
	return KindInternal
}

// IsFatal reports whether kind aborts the sheet before scoring.
func IsFatal(kind ErrorKind) bool {
	return kind != KindNone
}
