package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/biome-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	input_path  TEXT NOT NULL,
	raster_path TEXT NOT NULL,
	output_dir  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	exact       INTEGER NOT NULL DEFAULT 0,
	approximate INTEGER NOT NULL DEFAULT 0,
	unresolved  INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS segments (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	idx         INTEGER NOT NULL,
	path        TEXT NOT NULL,
	offset_rows INTEGER NOT NULL,
	rows        INTEGER NOT NULL,
	exact       INTEGER NOT NULL DEFAULT 0,
	approximate INTEGER NOT NULL DEFAULT 0,
	unresolved  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_segments_run_id ON segments(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input_path, raster_path, output_dir, status, exact, approximate, unresolved, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.InputPath, run.RasterPath, run.OutputDir, string(run.Status),
		int64(run.Stats.Exact), int64(run.Stats.Approximate), int64(run.Stats.Unresolved),
		run.Error, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, runID string, status model.RunStatus, stats model.Stats, runErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, exact = ?, approximate = ?, unresolved = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), int64(stats.Exact), int64(stats.Approximate), int64(stats.Unresolved),
		runErr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, input_path, raster_path, output_dir, status, exact, approximate, unresolved, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// RecordSegment inserts seg, replacing an earlier record of the same run and
// index so a resumed run can re-report segments.
func (s *SQLiteStore) RecordSegment(ctx context.Context, seg model.Segment) error {
	if seg.ID == "" {
		seg.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (id, run_id, idx, path, offset_rows, rows, exact, approximate, unresolved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, idx) DO UPDATE SET
		   path = excluded.path, offset_rows = excluded.offset_rows, rows = excluded.rows,
		   exact = excluded.exact, approximate = excluded.approximate, unresolved = excluded.unresolved`,
		seg.ID, seg.RunID, seg.Index, seg.Path, seg.Offset, seg.Rows,
		int64(seg.Stats.Exact), int64(seg.Stats.Approximate), int64(seg.Stats.Unresolved),
		time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record segment %d of run %s", seg.Index, seg.RunID)
}

func (s *SQLiteStore) ListSegments(ctx context.Context, runID string) ([]model.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, idx, path, offset_rows, rows, exact, approximate, unresolved, created_at
		 FROM segments WHERE run_id = ? ORDER BY idx`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list segments")
	}
	defer rows.Close() //nolint:errcheck

	var segs []model.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan segment")
		}
		segs = append(segs, *seg)
	}
	return segs, eris.Wrap(rows.Err(), "sqlite: list segments iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var exact, approx, unresolved int64
	err := row.Scan(&r.ID, &r.InputPath, &r.RasterPath, &r.OutputDir, &r.Status,
		&exact, &approx, &unresolved, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Stats = toStats(exact, approx, unresolved)
	return &r, nil
}

func scanSegment(row scannable) (*model.Segment, error) {
	var seg model.Segment
	var exact, approx, unresolved int64
	err := row.Scan(&seg.ID, &seg.RunID, &seg.Index, &seg.Path, &seg.Offset, &seg.Rows,
		&exact, &approx, &unresolved, &seg.CreatedAt)
	if err != nil {
		return nil, err
	}
	seg.Stats = toStats(exact, approx, unresolved)
	return &seg, nil
}

func toStats(exact, approx, unresolved int64) model.Stats {
	return model.Stats{
		Exact:       uint64(exact),
		Approximate: uint64(approx),
		Unresolved:  uint64(unresolved),
	}
}
