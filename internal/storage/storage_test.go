package storage

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/evaluate"
	"github.com/MeKo-Tech/omr/internal/pipeline"
)

func sampleResults() []*pipeline.SheetResult {
	return []*pipeline.SheetResult{
		{
			SheetID: "s1", Source: "a.png", Layout: "default", Version: "A",
			Score: &evaluate.ScoreResult{TotalScore: 90, MaxScore: 100, Percentage: 90, OverallConfidence: 0.97},
		},
		{
			SheetID: "s2", Source: "b.png", Layout: "default",
			ErrorKind: common.KindSheetNotDetected, Error: "no sheet",
		},
	}
}

type flakySink struct {
	mu     sync.Mutex
	fails  int
	calls  int
	closed bool
}

func (f *flakySink) Name() string { return "flaky" }

func (f *flakySink) Write(context.Context, []*pipeline.SheetResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return errors.New("temporarily unavailable")
	}
	return nil
}

func (f *flakySink) Close() error { f.closed = true; return nil }

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, 0, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), 2, 0, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 5, 1e9, func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWithRetry(t *testing.T) {
	inner := &flakySink{fails: 2}
	s := WithRetry(inner, 0, 0)
	require.NoError(t, s.Write(context.Background(), sampleResults()))
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, "flaky", s.Name())

	inner = &flakySink{fails: 5}
	assert.Error(t, WithRetry(inner, 3, 0).Write(context.Background(), nil))
	assert.Equal(t, 3, inner.calls)
}

func TestMultiSink_WritesAll(t *testing.T) {
	bad := &flakySink{fails: 10}
	good := &flakySink{}
	m := MultiSink{bad, good}
	err := m.Write(context.Background(), sampleResults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flaky")
	assert.Equal(t, 1, good.calls)
	require.NoError(t, m.Close())
	assert.True(t, bad.closed)
	assert.True(t, good.closed)
	assert.Equal(t, "flaky+flaky", m.Name())
}

func TestOpen_NothingConfigured(t *testing.T) {
	s, err := Open(context.Background(), DefaultConfig(), "run")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.False(t, DefaultConfig().Enabled())
}

func TestFileSink_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.jsonl")
	cfg := DefaultConfig()
	cfg.ResultsFile = path
	require.True(t, cfg.Enabled())

	s, err := Open(context.Background(), cfg, "run")
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), sampleResults()))
	require.NoError(t, s.Write(context.Background(), sampleResults()[:1]))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r pipeline.SheetResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		ids = append(ids, r.SheetID)
	}
	assert.Equal(t, []string{"s1", "s2", "s1"}, ids)
}

func TestFileSink_WriteAfterClose(t *testing.T) {
	s, err := NewFileSink(filepath.Join(t.TempDir(), "r.jsonl"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Write(context.Background(), sampleResults()), os.ErrClosed)
}

type recordedExec struct {
	query string
	args  []any
}

type fakeExecer struct {
	calls []recordedExec
	err   error
}

func (f *fakeExecer) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, recordedExec{query: q, args: args})
	if f.err != nil {
		return nil, f.err
	}
	return driverResult{}, nil
}

type driverResult struct{}

func (driverResult) LastInsertId() (int64, error) { return 0, nil }
func (driverResult) RowsAffected() (int64, error) { return 1, nil }

func TestPostgresSink_Upserts(t *testing.T) {
	db := &fakeExecer{}
	s := &PostgresSink{DB: db, RunID: "run-1"}
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.Write(context.Background(), append(sampleResults(), nil)))
	require.NoError(t, s.Close())

	require.Len(t, db.calls, 3)
	assert.Contains(t, db.calls[0].query, "create table if not exists sheet_results")

	scored := db.calls[1]
	assert.Contains(t, scored.query, "on conflict (run_id, source, sheet_id)")
	require.Len(t, scored.args, 12)
	assert.Equal(t, "run-1", scored.args[0])
	assert.Equal(t, "a.png", scored.args[1])
	assert.Equal(t, "ok", scored.args[5])
	assert.Equal(t, sql.NullInt64{Int64: 90, Valid: true}, scored.args[7])

	failed := db.calls[2]
	assert.Equal(t, "failed", failed.args[5])
	assert.Equal(t, "SheetNotDetected", failed.args[6])
	assert.Equal(t, sql.NullInt64{}, failed.args[7])
	assert.True(t, json.Valid(failed.args[11].([]byte)))
}

func TestPostgresSink_ExecError(t *testing.T) {
	s := &PostgresSink{DB: &fakeExecer{err: errors.New("connection reset")}}
	err := s.Write(context.Background(), sampleResults())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "a.png"))
}
