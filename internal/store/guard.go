package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/model"
	"github.com/sells-group/biome-cli/internal/resilience"
)

// GuardedRecorder forwards segment records to a ledger through a breaker, so
// an unreachable ledger costs one failed call per reset window instead of one
// per segment.
type GuardedRecorder struct {
	store   Store
	breaker *resilience.Breaker
}

// NewGuardedRecorder wraps st. Three consecutive failures open the breaker for
// reset.
func NewGuardedRecorder(st Store, reset time.Duration) *GuardedRecorder {
	b := resilience.NewBreaker(3, reset)
	b.OnStateChange = func(from, to resilience.BreakerState) {
		zap.L().Warn("store: ledger breaker state changed",
			zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return &GuardedRecorder{store: st, breaker: b}
}

// RecordSegment records seg unless the breaker is open.
func (g *GuardedRecorder) RecordSegment(ctx context.Context, seg model.Segment) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.store.RecordSegment(ctx, seg)
	})
}
