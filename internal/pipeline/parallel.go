package pipeline

import (
	"context"
	"errors"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/omr/internal/common"
)

// ParallelConfig holds configuration for parallel grading.
type ParallelConfig struct {
	MaxWorkers       int              // number of workers (0 = runtime.NumCPU())
	SheetTimeout     time.Duration    // per-sheet limit including decoding; 0 = none
	ProgressCallback ProgressCallback // optional
}

// DefaultParallelConfig uses one worker per CPU.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

// Job is one sheet to grade. Load is called by the worker, so decoding
// happens in parallel too; Image is used when Load is nil.
type Job struct {
	Request Request
	Source  string
	Image   image.Image
	Load    func(ctx context.Context) (image.Image, error)
}

type jobResult struct {
	index int
	res   *SheetResult
}

// GradeParallel grades jobs with a bounded worker pool and returns results
// in job order. A failing sheet never stops the others. When ctx is
// canceled no further sheets are started; sheets already in flight finish.
// Jobs never started get a result carrying the cancellation error, and the
// error is returned.
func (p *Pipeline) GradeParallel(ctx context.Context, jobs []Job, cfg ParallelConfig) ([]*SheetResult, ParallelStats, error) {
	if p == nil || p.Classifier == nil {
		return nil, ParallelStats{}, errors.New("pipeline not initialized")
	}
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, max(1, len(jobs)))
	progress := cfg.ProgressCallback
	if progress == nil {
		progress = NoOpProgressCallback{}
	}

	start := time.Now()
	progress.OnStart(len(jobs))

	queue := make(chan int)
	out := make(chan jobResult, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				out <- jobResult{index: i, res: p.gradeJob(context.WithoutCancel(ctx), jobs[i], cfg.SheetTimeout)}
			}
		}()
	}

	go func() {
		defer close(queue)
		for i := range jobs {
			if ctx.Err() != nil {
				return
			}
			select {
			case queue <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]*SheetResult, len(jobs))
	done := 0
	for r := range out {
		results[r.index] = r.res
		done++
		progress.OnSheet(done, len(jobs), r.res)
	}

	var err error
	for i, r := range results {
		if r == nil {
			err = ctx.Err()
			results[i] = &SheetResult{SheetID: jobs[i].Request.SheetID, Source: jobs[i].Source}
			_ = results[i].fail(err)
		}
	}

	stats := CalculateParallelStats(results, time.Since(start), workers)
	progress.OnComplete(stats)
	return results, stats, err
}

func (p *Pipeline) gradeJob(ctx context.Context, j Job, timeout time.Duration) *SheetResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	img := j.Image
	var decodeNs int64
	if j.Load != nil {
		t := common.NewTimer()
		loaded, err := j.Load(ctx)
		decodeNs = int64(t.Stop())
		if err != nil {
			res := &SheetResult{SheetID: j.Request.SheetID, Source: j.Source}
			if common.KindOf(err) == common.KindInternal && !errors.Is(err, context.DeadlineExceeded) {
				err = common.NewSheetError(common.KindInvalidInput, "decode", err)
			}
			_ = res.fail(err)
			res.Timings.DecodeNs = decodeNs
			return res
		}
		img = loaded
	}
	res, _ := p.Grade(ctx, img, j.Request)
	res.Source = j.Source
	res.Timings.DecodeNs = decodeNs
	return res
}

// ParallelStats summarizes one parallel run.
type ParallelStats struct {
	Sheets           int            `json:"sheets"`
	Graded           int            `json:"graded"`
	Failed           int            `json:"failed"`
	Flagged          int            `json:"flagged"`
	FailuresByKind   map[string]int `json:"failures_by_kind,omitempty"`
	WorkerCount      int            `json:"worker_count"`
	TotalDuration    time.Duration  `json:"total_duration_ns"`
	AveragePerSheet  time.Duration  `json:"average_per_sheet_ns"`
	ThroughputPerSec float64        `json:"throughput_per_sec"`
	Memory           MemStats       `json:"memory"`
}

// CalculateParallelStats computes run statistics from results.
func CalculateParallelStats(results []*SheetResult, duration time.Duration, workers int) ParallelStats {
	s := ParallelStats{Sheets: len(results), WorkerCount: workers, TotalDuration: duration}
	for _, r := range results {
		switch {
		case r == nil:
			s.Failed++
		case !r.OK():
			s.Failed++
			if s.FailuresByKind == nil {
				s.FailuresByKind = map[string]int{}
			}
			s.FailuresByKind[string(r.ErrorKind)]++
		default:
			s.Graded++
			if r.Flagged() {
				s.Flagged++
			}
		}
	}
	if n := s.Graded + s.Failed; n > 0 && duration > 0 {
		s.AveragePerSheet = duration / time.Duration(n)
		s.ThroughputPerSec = float64(n) / duration.Seconds()
	}
	s.Memory = GetMemStats()
	return s
}
