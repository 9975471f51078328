// Package common holds the error taxonomy and timing helpers shared by the
// grading stages.
package common

import (
	"fmt"
	"time"
)

// Timer measures a single named stage.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer creates a new unnamed timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// NewNamedTimer creates a new timer for the given stage name.
func NewNamedTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Name returns the stage name (empty string if unnamed).
func (t *Timer) Name() string {
	return t.name
}

func (t *Timer) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s: %v", t.name, t.duration)
	}
	return fmt.Sprintf("%v", t.duration)
}

// StageTimings records per-stage durations of one sheet in nanoseconds.
type StageTimings struct {
	DecodeNs    int64 `json:"decode_ns,omitempty"`
	NormalizeNs int64 `json:"normalize_ns"`
	GridNs      int64 `json:"grid_ns"`
	ClassifyNs  int64 `json:"classify_ns"`
	EvaluateNs  int64 `json:"evaluate_ns"`
	TotalNs     int64 `json:"total_ns"`
}
