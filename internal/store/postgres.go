package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/biome-cli/internal/db"
	"github.com/sells-group/biome-cli/internal/model"
	"github.com/sells-group/biome-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	retry   resilience.RetryConfig
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("store", "postgres")
	return &PostgresStore{pool: pool, closeFn: closeFn, retry: retry}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	input_path  TEXT NOT NULL,
	raster_path TEXT NOT NULL,
	output_dir  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	exact       BIGINT NOT NULL DEFAULT 0,
	approximate BIGINT NOT NULL DEFAULT 0,
	unresolved  BIGINT NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS segments (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	idx         INTEGER NOT NULL,
	path        TEXT NOT NULL,
	offset_rows BIGINT NOT NULL,
	rows        INTEGER NOT NULL,
	exact       BIGINT NOT NULL DEFAULT 0,
	approximate BIGINT NOT NULL DEFAULT 0,
	unresolved  BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_segments_run_id ON segments(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (int64, error) {
		tag, err := s.pool.Exec(ctx, sql, args...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now

	_, err := s.exec(ctx,
		`INSERT INTO runs (id, input_path, raster_path, output_dir, status, exact, approximate, unresolved, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.InputPath, run.RasterPath, run.OutputDir, string(run.Status),
		int64(run.Stats.Exact), int64(run.Stats.Approximate), int64(run.Stats.Unresolved),
		run.Error, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, runID string, status model.RunStatus, stats model.Stats, runErr string) error {
	n, err := s.exec(ctx,
		`UPDATE runs SET status = $1, exact = $2, approximate = $3, unresolved = $4, error = $5, updated_at = $6 WHERE id = $7`,
		string(status), int64(stats.Exact), int64(stats.Approximate), int64(stats.Unresolved),
		runErr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", runID)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

const postgresRunColumns = `id, input_path, raster_path, output_dir, status, exact, approximate, unresolved, error, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// RecordSegment upserts seg keyed by run and segment index.
func (s *PostgresStore) RecordSegment(ctx context.Context, seg model.Segment) error {
	if seg.ID == "" {
		seg.ID = uuid.New().String()
	}
	_, err := s.exec(ctx,
		`INSERT INTO segments (id, run_id, idx, path, offset_rows, rows, exact, approximate, unresolved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (run_id, idx) DO UPDATE SET
		   path = EXCLUDED.path, offset_rows = EXCLUDED.offset_rows, rows = EXCLUDED.rows,
		   exact = EXCLUDED.exact, approximate = EXCLUDED.approximate, unresolved = EXCLUDED.unresolved`,
		seg.ID, seg.RunID, seg.Index, seg.Path, int64(seg.Offset), seg.Rows,
		int64(seg.Stats.Exact), int64(seg.Stats.Approximate), int64(seg.Stats.Unresolved),
		time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record segment %d of run %s", seg.Index, seg.RunID)
}

func (s *PostgresStore) ListSegments(ctx context.Context, runID string) ([]model.Segment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, idx, path, offset_rows, rows, exact, approximate, unresolved, created_at
		 FROM segments WHERE run_id = $1 ORDER BY idx`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list segments")
	}
	defer rows.Close()

	var segs []model.Segment
	for rows.Next() {
		var seg model.Segment
		var offset, exact, approx, unresolved int64
		var idx, n int32
		if err := rows.Scan(&seg.ID, &seg.RunID, &idx, &seg.Path, &offset, &n,
			&exact, &approx, &unresolved, &seg.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan segment")
		}
		seg.Index, seg.Offset, seg.Rows = int(idx), int(offset), int(n)
		seg.Stats = toStats(exact, approx, unresolved)
		segs = append(segs, seg)
	}
	return segs, eris.Wrap(rows.Err(), "postgres: list segments iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var exact, approx, unresolved int64
	err := row.Scan(&r.ID, &r.InputPath, &r.RasterPath, &r.OutputDir, &status,
		&exact, &approx, &unresolved, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.Stats = toStats(exact, approx, unresolved)
	return &r, nil
}
