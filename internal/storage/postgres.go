package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/MeKo-Tech/omr/internal/pipeline"
)

const schemaSQL = `
create table if not exists sheet_results (
  run_id       text        not null,
  source       text        not null,
  sheet_id     text        not null,
  layout       text        not null,
  version      text        not null,
  status       text        not null,
  error_kind   text        not null,
  total_score  integer,
  max_score    integer,
  percentage   double precision,
  confidence   double precision,
  result_json  jsonb       not null,
  graded_at    timestamptz not null default now(),
  primary key (run_id, source, sheet_id)
)`

const upsertSQL = `
insert into sheet_results (
  run_id, source, sheet_id, layout, version, status, error_kind,
  total_score, max_score, percentage, confidence, result_json
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
on conflict (run_id, source, sheet_id) do update
set layout = excluded.layout,
    version = excluded.version,
    status = excluded.status,
    error_kind = excluded.error_kind,
    total_score = excluded.total_score,
    max_score = excluded.max_score,
    percentage = excluded.percentage,
    confidence = excluded.confidence,
    result_json = excluded.result_json,
    graded_at = now()`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresSink upserts one row per sheet into sheet_results. Regrading a
// sheet within the same run replaces its row.
type PostgresSink struct {
	DB    execer
	RunID string
	close func() error
}

// OpenPostgresSink connects through the pgx stdlib driver and creates the
// table when missing.
func OpenPostgresSink(ctx context.Context, dsn, runID string) (*PostgresSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresSink{DB: db, RunID: runID, close: db.Close}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the results table.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create sheet_results: %w", err)
	}
	return nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, results []*pipeline.SheetResult) error {
	for _, r := range results {
		if r == nil {
			continue
		}
		js, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", r.Source, err)
		}
		var total, maxScore sql.NullInt64
		var pct, conf sql.NullFloat64
		if r.Score != nil {
			total = sql.NullInt64{Int64: int64(r.Score.TotalScore), Valid: true}
			maxScore = sql.NullInt64{Int64: int64(r.Score.MaxScore), Valid: true}
			pct = sql.NullFloat64{Float64: r.Score.Percentage, Valid: true}
			conf = sql.NullFloat64{Float64: r.Score.OverallConfidence, Valid: true}
		}
		if _, err := s.DB.ExecContext(ctx, upsertSQL,
			s.RunID, r.Source, r.SheetID, r.Layout, r.Version,
			pipeline.Status(r), string(r.ErrorKind),
			total, maxScore, pct, conf, js,
		); err != nil {
			return fmt.Errorf("store %s: %w", r.Source, err)
		}
	}
	return nil
}

func (s *PostgresSink) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
