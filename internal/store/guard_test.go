package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/biome-cli/internal/model"
	"github.com/sells-group/biome-cli/internal/resilience"
)

type failingStore struct {
	Store
	calls int
}

func (f *failingStore) RecordSegment(context.Context, model.Segment) error {
	f.calls++
	return errors.New("ledger unreachable")
}

func TestGuardedRecorderOpensBreaker(t *testing.T) {
	fs := &failingStore{}
	g := NewGuardedRecorder(fs, time.Hour)

	for i := 0; i < 5; i++ {
		assert.Error(t, g.RecordSegment(context.Background(), model.Segment{Index: i + 1}))
	}
	assert.Equal(t, 3, fs.calls)
	assert.ErrorIs(t, g.RecordSegment(context.Background(), model.Segment{}), resilience.ErrBreakerOpen)
}

func TestGuardedRecorderForwards(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	run, err := st.CreateRun(ctx, model.Run{InputPath: "a", RasterPath: "b", OutputDir: "c"})
	assert.NoError(t, err)

	g := NewGuardedRecorder(st, time.Minute)
	assert.NoError(t, g.RecordSegment(ctx, model.Segment{RunID: run.ID, Index: 1, Path: "p", Rows: 3}))

	segs, err := st.ListSegments(ctx, run.ID)
	assert.NoError(t, err)
	assert.Len(t, segs, 1)
}
