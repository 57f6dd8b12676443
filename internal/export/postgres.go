package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/checkpoint"
	"github.com/sells-group/biome-cli/internal/db"
	"github.com/sells-group/biome-cli/internal/model"
	"github.com/sells-group/biome-cli/internal/resilience"
)

// Columns of the export table, in COPY order.
var Columns = []string{
	"run_id",
	"seq",
	"entity_id",
	"category",
	"is_approximate",
	"reference_longitude",
	"reference_latitude",
	"diagnostic",
	"extra",
	"geom",
}

var conflictKeys = []string{"run_id", "seq"}

// PostgresOptions configures ToPostgres.
type PostgresOptions struct {
	Table     string
	RunID     string
	BatchSize int  // rows per transaction, default 5000
	Append    bool // plain COPY instead of upsert on (run_id, seq)
	Retry     resilience.RetryConfig
}

// EnsureTable creates the export table and its spatial index. PostGIS must be
// installed in the target database.
func EnsureTable(ctx context.Context, pool db.Pool, table string) error {
	ident := db.Identifier(table)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id              TEXT NOT NULL,
	seq                 BIGINT NOT NULL,
	entity_id           TEXT NOT NULL,
	category            INTEGER,
	is_approximate      BOOLEAN NOT NULL DEFAULT false,
	reference_longitude DOUBLE PRECISION,
	reference_latitude  DOUBLE PRECISION,
	diagnostic          TEXT,
	extra               JSONB,
	geom                geometry(Point, %d),
	PRIMARY KEY (run_id, seq)
)`, ident.Sanitize(), SRID)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return eris.Wrapf(err, "export: create table %s", table)
	}

	idx := pgx.Identifier{"idx_" + ident[len(ident)-1] + "_geom"}.Sanitize()
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)", idx, ident.Sanitize())); err != nil {
		return eris.Wrapf(err, "export: create spatial index on %s", table)
	}
	return nil
}

// Row converts the seq-th result of a table into a COPY row.
func Row(runID string, seq int64, extra []string, r model.Result) ([]any, error) {
	wkb, err := EncodeEWKB(r)
	if err != nil {
		return nil, err
	}
	var extraJSON []byte
	if len(extra) > 0 {
		m := make(map[string]string, len(extra))
		for i, name := range extra {
			if i < len(r.Point.Extra) {
				m[name] = r.Point.Extra[i]
			}
		}
		if extraJSON, err = json.Marshal(m); err != nil {
			return nil, eris.Wrap(err, "export: encode extra columns")
		}
	}
	var diagnostic any
	if r.Diagnostic != "" {
		diagnostic = r.Diagnostic
	}
	var geomVal any
	if wkb != nil {
		geomVal = wkb
	}
	var extraVal any
	if extraJSON != nil {
		extraVal = extraJSON
	}
	return []any{
		runID,
		seq,
		r.Point.EntityID,
		nullableCategory(r),
		r.Approximate,
		nullableFloat(r.RefLongitude),
		nullableFloat(r.RefLatitude),
		diagnostic,
		extraVal,
		geomVal,
	}, nil
}

// ToPostgres loads the table at src into opts.Table in batches. Each batch is
// retried on transient errors. With Append unset, rows are keyed by
// (run_id, seq), so re-exporting a run replaces its rows.
func ToPostgres(ctx context.Context, pool db.Pool, src string, opts PostgresOptions) (int64, error) {
	if opts.Table == "" {
		return 0, eris.Wrap(model.ErrConfiguration, "export: no table")
	}
	if opts.RunID == "" {
		return 0, eris.Wrap(model.ErrConfiguration, "export: no run id")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("export", "postgres")
	}

	var total int64
	flush := func(rows [][]any) error {
		if len(rows) == 0 {
			return nil
		}
		n, err := resilience.DoVal(ctx, opts.Retry, func(ctx context.Context) (int64, error) {
			if opts.Append {
				return db.CopyFrom(ctx, pool, opts.Table, Columns, rows)
			}
			return db.BulkUpsert(ctx, pool, db.UpsertConfig{
				Table:        opts.Table,
				Columns:      Columns,
				ConflictKeys: conflictKeys,
			}, pgx.CopyFromRows(rows))
		})
		if err != nil {
			return err
		}
		total += n
		zap.L().Debug("export: batch loaded", zap.String("table", opts.Table), zap.Int64("rows", n))
		return nil
	}

	var seq int64
	batch := make([][]any, 0, opts.BatchSize)
	err := checkpoint.ReadTable(src, func(extra []string, r model.Result) error {
		row, err := Row(opts.RunID, seq, extra, r)
		if err != nil {
			return err
		}
		seq++
		batch = append(batch, row)
		if len(batch) < opts.BatchSize {
			return nil
		}
		if err := flush(batch); err != nil {
			return err
		}
		batch = make([][]any, 0, opts.BatchSize)
		return nil
	})
	if err == nil {
		err = flush(batch)
	}
	if err != nil {
		return total, eris.Wrapf(err, "export: load %s", opts.Table)
	}

	zap.L().Info("export: postgres load complete",
		zap.String("table", opts.Table),
		zap.String("run_id", opts.RunID),
		zap.Int64("rows", total),
	)
	return total, nil
}
