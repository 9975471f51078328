package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/testutil"
)

type recordingProgress struct {
	mu       sync.Mutex
	started  int
	done     []int
	complete *ParallelStats
}

func (r *recordingProgress) OnStart(total int) { r.started = total }

func (r *recordingProgress) OnSheet(done, _ int, _ *SheetResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, done)
}

func (r *recordingProgress) OnComplete(s ParallelStats) { r.complete = &s }

func TestDefaultParallelConfig(t *testing.T) {
	cfg := DefaultParallelConfig()
	assert.Positive(t, cfg.MaxWorkers)
	assert.Nil(t, cfg.ProgressCallback)
	assert.Zero(t, cfg.SheetTimeout)
}

func TestGradeParallel_NilPipeline(t *testing.T) {
	var p *Pipeline
	_, _, err := p.GradeParallel(context.Background(), []Job{{}}, DefaultParallelConfig())
	assert.ErrorContains(t, err, "pipeline not initialized")
}

func TestGradeParallel_OrderAndFailures(t *testing.T) {
	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)
	sheet := testutil.MustRender(t, spec)

	jobs := make([]Job, 6)
	for i := range jobs {
		jobs[i] = Job{Request: Request{SheetID: fmt.Sprintf("s%d", i), Version: "A"}, Source: fmt.Sprintf("sheet-%d.png", i), Image: sheet}
	}
	jobs[2].Request.Version = "Z"
	jobs[4].Image = nil
	jobs[4].Load = func(context.Context) (image.Image, error) { return nil, errors.New("corrupt file") }

	progress := &recordingProgress{}
	results, stats, err := p.GradeParallel(context.Background(), jobs, ParallelConfig{MaxWorkers: 3, ProgressCallback: progress})
	require.NoError(t, err)
	require.Len(t, results, len(jobs))

	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("s%d", i), r.SheetID)
		assert.Equal(t, jobs[i].Source, r.Source)
	}
	assert.Equal(t, common.KindKeyVersionMismatch, results[2].ErrorKind)
	assert.Equal(t, common.KindInvalidInput, results[4].ErrorKind)
	assert.Contains(t, results[4].Error, "corrupt file")
	for _, i := range []int{0, 1, 3, 5} {
		require.True(t, results[i].OK(), "sheet %d: %s", i, results[i].Error)
		assert.Equal(t, 100, results[i].Score.TotalScore)
	}

	assert.Equal(t, 6, stats.Sheets)
	assert.Equal(t, 4, stats.Graded)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 3, stats.WorkerCount)
	assert.Equal(t, map[string]int{"KeyVersionMismatch": 1, "InvalidInput": 1}, stats.FailuresByKind)

	assert.Equal(t, 6, progress.started)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, progress.done)
	require.NotNil(t, progress.complete)
	assert.Equal(t, 4, progress.complete.Graded)
}

func TestGradeParallel_LoadRunsInWorker(t *testing.T) {
	p := newTestPipeline(t, nil)
	spec, _ := cyclicSheet(t)
	sheet := testutil.MustRender(t, spec)

	var mu sync.Mutex
	loads := 0
	job := Job{
		Request: Request{Version: "A"},
		Load: func(context.Context) (image.Image, error) {
			mu.Lock()
			loads++
			mu.Unlock()
			return sheet, nil
		},
	}
	_, stats, err := p.GradeParallel(context.Background(), []Job{job, job}, ParallelConfig{MaxWorkers: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
	assert.Equal(t, 2, stats.Graded)
}

func TestGradeParallel_CanceledBeforeStart(t *testing.T) {
	p := newTestPipeline(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := []Job{{Request: Request{SheetID: "a"}}, {Request: Request{SheetID: "b"}}}
	results, stats, err := p.GradeParallel(ctx, jobs, ParallelConfig{MaxWorkers: 2})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.OK())
		assert.NotEmpty(t, r.Error)
	}
	assert.Equal(t, 2, stats.Failed)
}

func TestGradeParallel_Empty(t *testing.T) {
	p := newTestPipeline(t, nil)
	results, stats, err := p.GradeParallel(context.Background(), nil, DefaultParallelConfig())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, stats.Sheets)
}

func TestCalculateParallelStats(t *testing.T) {
	ok := &SheetResult{Score: scoreWithFlags(false)}
	flagged := &SheetResult{Score: scoreWithFlags(true)}
	failed := &SheetResult{ErrorKind: common.KindSheetNotDetected}

	s := CalculateParallelStats([]*SheetResult{ok, flagged, failed, nil}, 2e9, 2)
	assert.Equal(t, 4, s.Sheets)
	assert.Equal(t, 2, s.Graded)
	assert.Equal(t, 1, s.Flagged)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, map[string]int{"SheetNotDetected": 1}, s.FailuresByKind)
	assert.InDelta(t, 2.0, s.ThroughputPerSec, 1e-9)
	assert.Positive(t, s.Memory.Goroutines)
}
