// Package db provides shared Postgres helpers for bulk COPY and upsert.
package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Identifier splits an optionally schema-qualified table name.
func Identifier(table string) pgx.Identifier {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}
	}
	return pgx.Identifier{table}
}

// CopyFrom bulk-inserts rows into table using the COPY protocol.
func CopyFrom(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return CopySource(ctx, pool, table, columns, pgx.CopyFromRows(rows))
}

// CopySource streams src into table using the COPY protocol.
func CopySource(ctx context.Context, pool Pool, table string, columns []string, src pgx.CopyFromSource) (int64, error) {
	n, err := pool.CopyFrom(ctx, Identifier(table), columns, src)
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}
