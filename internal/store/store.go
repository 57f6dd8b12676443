// Package store persists the run ledger: one row per resolve run and one per
// published checkpoint segment.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biome-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the run ledger.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	UpdateRun(ctx context.Context, runID string, status model.RunStatus, stats model.Stats, runErr string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)

	// Segments
	RecordSegment(ctx context.Context, seg model.Segment) error
	ListSegments(ctx context.Context, runID string) ([]model.Segment, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the ledger for driver. The "none" driver and an empty one
// return a nil Store and no error.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "none":
		return nil, nil
	case "sqlite":
		st, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := NewPostgres(ctx, dsn, nil)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Wrapf(model.ErrConfiguration, "store: unknown driver %q", driver)
	}
}

func listLimit(filter model.RunFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}
