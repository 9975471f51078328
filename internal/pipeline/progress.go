package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives batch progress. Calls are serialized by the
// caller; implementations need no locking of their own unless shared.
type ProgressCallback interface {
	// OnStart is called once with the number of sheets.
	OnStart(total int)
	// OnSheet is called after each sheet, in completion order.
	OnSheet(done, total int, res *SheetResult)
	// OnComplete is called once after the last sheet.
	OnComplete(stats ParallelStats)
}

// NoOpProgressCallback reports nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)                    {}
func (NoOpProgressCallback) OnSheet(int, int, *SheetResult) {}
func (NoOpProgressCallback) OnComplete(ParallelStats)       {}

// ConsoleProgressCallback draws a progress bar with running counts.
type ConsoleProgressCallback struct {
	mu       sync.Mutex
	w        io.Writer
	prefix   string
	width    int
	interval time.Duration
	showRate bool

	start   time.Time
	last    time.Time
	failed  int
	flagged int
}

// NewConsoleProgressCallback writes to w, or stderr when w is nil.
func NewConsoleProgressCallback(w io.Writer, prefix string) *ConsoleProgressCallback {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleProgressCallback{w: w, prefix: prefix, width: 40, interval: 100 * time.Millisecond, showRate: true}
}

// WithWidth sets the bar width in characters.
func (c *ConsoleProgressCallback) WithWidth(n int) *ConsoleProgressCallback {
	if n > 0 {
		c.width = n
	}
	return c
}

// WithUpdateInterval limits redraws; the final sheet always redraws.
func (c *ConsoleProgressCallback) WithUpdateInterval(d time.Duration) *ConsoleProgressCallback {
	c.interval = d
	return c
}

// WithRate toggles the sheets-per-second readout.
func (c *ConsoleProgressCallback) WithRate(on bool) *ConsoleProgressCallback {
	c.showRate = on
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
	c.last = time.Time{}
	c.failed, c.flagged = 0, 0
	_, _ = fmt.Fprintf(c.w, "%sgrading %d sheets\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnSheet(done, total int, res *SheetResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !res.OK():
		c.failed++
	case res.Flagged():
		c.flagged++
	}
	now := time.Now()
	if done < total && now.Sub(c.last) < c.interval {
		return
	}
	c.last = now
	c.draw(done, total, now)
}

func (c *ConsoleProgressCallback) OnComplete(stats ParallelStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, "\n%sdone: %d graded, %d failed, %d flagged in %v\n",
		c.prefix, stats.Graded, stats.Failed, stats.Flagged, stats.TotalDuration.Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) draw(done, total int, now time.Time) {
	if total <= 0 {
		return
	}
	filled := c.width * done / total
	var b strings.Builder
	fmt.Fprintf(&b, "\r%s[%s%s] %d/%d", c.prefix,
		strings.Repeat("#", filled), strings.Repeat(".", c.width-filled), done, total)
	if c.failed > 0 || c.flagged > 0 {
		fmt.Fprintf(&b, " failed=%d flagged=%d", c.failed, c.flagged)
	}
	if elapsed := now.Sub(c.start); c.showRate && elapsed > 0 && done > 0 {
		fmt.Fprintf(&b, " %.1f sheets/s", float64(done)/elapsed.Seconds())
	}
	_, _ = io.WriteString(c.w, b.String())
}

// LogProgressCallback reports through slog: failures as warnings and a
// progress line every interval sheets.
type LogProgressCallback struct {
	logger   *slog.Logger
	interval int
	start    time.Time
}

// NewLogProgressCallback uses logger, or the default logger when nil.
func NewLogProgressCallback(logger *slog.Logger, interval int) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10
	}
	return &LogProgressCallback{logger: logger, interval: interval}
}

func (l *LogProgressCallback) OnStart(total int) {
	l.start = time.Now()
	l.logger.Info("Batch grading started", "sheets", total)
}

func (l *LogProgressCallback) OnSheet(done, total int, res *SheetResult) {
	if !res.OK() {
		l.logger.Warn("Sheet failed",
			"sheet_id", res.SheetID, "source", res.Source,
			"error_kind", res.ErrorKind, "error", res.Error)
	}
	if done%l.interval == 0 || done == total {
		l.logger.Info("Batch progress",
			"done", done, "total", total,
			"elapsed", time.Since(l.start).Round(time.Millisecond))
	}
}

func (l *LogProgressCallback) OnComplete(stats ParallelStats) {
	l.logger.Info("Batch grading finished",
		"graded", stats.Graded,
		"failed", stats.Failed,
		"flagged", stats.Flagged,
		"sheets_per_sec", stats.ThroughputPerSec)
}

// MultiProgressCallback fans out to several callbacks.
type MultiProgressCallback []ProgressCallback

func (m MultiProgressCallback) OnStart(total int) {
	for _, cb := range m {
		cb.OnStart(total)
	}
}

func (m MultiProgressCallback) OnSheet(done, total int, res *SheetResult) {
	for _, cb := range m {
		cb.OnSheet(done, total, res)
	}
}

func (m MultiProgressCallback) OnComplete(stats ParallelStats) {
	for _, cb := range m {
		cb.OnComplete(stats)
	}
}
