// Package batch runs the resolver over an input table in parallel batches and
// publishes results as ordered checkpoint segments.
package batch

import (
	"context"
	"runtime"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/biome-cli/internal/checkpoint"
	"github.com/sells-group/biome-cli/internal/model"
	"github.com/sells-group/biome-cli/internal/progress"
)

// Defaults for Config.
const (
	DefaultBatchSize           = 500
	DefaultCheckpointThreshold = 5000
)

// Config controls batching and checkpointing.
type Config struct {
	BatchSize           int
	Workers             int // 0 means runtime.NumCPU()
	CheckpointThreshold int
	OutputDir           string
	ExtraColumns        []string
	RunID               string
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.CheckpointThreshold <= 0 {
		c.CheckpointThreshold = DefaultCheckpointThreshold
	}
}

// Resolver maps one point to one result and never panics.
type Resolver interface {
	Resolve(p model.Point) model.Result
}

// SegmentRecorder is told about every segment published by a run.
type SegmentRecorder interface {
	RecordSegment(ctx context.Context, seg model.Segment) error
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	Skipped   int // records covered by segments from an earlier session
	Processed int // records resolved in this session
	Segments  []checkpoint.SegmentInfo
	Stats     model.Stats // totals including skipped records
	Elapsed   time.Duration
}

// Executor partitions points into batches, resolves them on a bounded worker
// pool, and flushes results in submission order.
type Executor struct {
	cfg       Config
	resolver  Resolver
	estimator *progress.Estimator
	recorder  SegmentRecorder
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithEstimator reports progress through est.
func WithEstimator(est *progress.Estimator) Option {
	return func(e *Executor) { e.estimator = est }
}

// WithRecorder records published segments in a run ledger.
func WithRecorder(rec SegmentRecorder) Option {
	return func(e *Executor) { e.recorder = rec }
}

// WithClock overrides time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New returns an Executor.
func New(cfg Config, resolver Resolver, opts ...Option) (*Executor, error) {
	cfg.applyDefaults()
	if cfg.OutputDir == "" {
		return nil, eris.Wrap(model.ErrConfiguration, "batch: output directory is required")
	}
	if resolver == nil {
		return nil, eris.Wrap(model.ErrConfiguration, "batch: resolver is required")
	}
	e := &Executor{cfg: cfg, resolver: resolver, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

type batchResult struct {
	results []model.Result
	stats   model.Stats
}

// Run resolves points, resuming after any segments already published in the
// output directory. On cancellation it stops dispatching, waits for in-flight
// batches, flushes them, and returns an error wrapping context.Canceled.
func (e *Executor) Run(ctx context.Context, points []model.Point) (Summary, error) {
	st, err := checkpoint.Scan(e.cfg.OutputDir)
	if err != nil {
		return Summary{}, err
	}
	if st.Offset > len(points) {
		return Summary{}, eris.Wrapf(model.ErrConfiguration,
			"batch: output directory covers %d records but input has %d", st.Offset, len(points))
	}

	log := zap.L().With(zap.String("run_id", e.cfg.RunID), zap.String("output_dir", e.cfg.OutputDir))
	if st.Offset > 0 {
		log.Info("batch: resuming", zap.Int("offset", st.Offset), zap.Int("next_segment", st.NextIndex))
	}
	if e.estimator != nil {
		e.estimator.Seed(st.Stats)
	}

	start := e.now()
	sum := Summary{Skipped: st.Offset, Stats: st.Stats}

	// stop dispatching on caller cancellation or a write failure
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	futures := make(chan chan batchResult, e.cfg.Workers*2)
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)

	go func() {
		defer close(futures)
		for lo := st.Offset; lo < len(points); lo += e.cfg.BatchSize {
			if dispatchCtx.Err() != nil {
				return
			}
			batch := points[lo:min(lo+e.cfg.BatchSize, len(points))]
			fut := make(chan batchResult, 1)
			g.Go(func() error {
				fut <- e.resolveBatch(batch)
				return nil
			})
			// every dispatched batch is handed to the consumer, even after cancellation
			futures <- fut
		}
	}()

	nextIdx := st.NextIndex
	segOffset := st.Offset
	pending := make([]model.Result, 0, e.cfg.CheckpointThreshold+e.cfg.BatchSize)
	var writeErr error

	flush := func() {
		if len(pending) == 0 || writeErr != nil {
			return
		}
		info, err := e.publish(ctx, nextIdx, segOffset, pending)
		if err != nil {
			writeErr = err
			stopDispatch()
			return
		}
		log.Debug("batch: segment published", zap.Int("segment", info.Index), zap.Int("rows", info.Rows))
		sum.Segments = append(sum.Segments, info)
		nextIdx++
		segOffset += len(pending)
		pending = pending[:0]
	}

	for fut := range futures {
		br := <-fut
		if writeErr != nil {
			continue
		}
		pending = append(pending, br.results...)
		sum.Processed += len(br.results)
		sum.Stats = sum.Stats.Add(br.stats)
		if e.estimator != nil {
			e.estimator.Update(br.stats, len(br.results), e.now().Sub(start))
		}
		if len(pending) >= e.cfg.CheckpointThreshold {
			flush()
		}
	}
	_ = g.Wait()
	flush()

	sum.Elapsed = e.now().Sub(start)
	if e.estimator != nil {
		e.estimator.Final(sum.Elapsed)
	}

	if writeErr != nil {
		return sum, writeErr
	}
	if err := ctx.Err(); err != nil {
		return sum, eris.Wrap(err, "batch: run cancelled")
	}
	return sum, nil
}

func (e *Executor) resolveBatch(points []model.Point) batchResult {
	out := batchResult{results: make([]model.Result, len(points))}
	for i, p := range points {
		r := e.resolver.Resolve(p)
		out.results[i] = r
		out.stats = out.stats.Add(model.Count(r))
	}
	return out
}

// publish writes one segment and records it in the ledger. Ledger failures are
// logged and do not fail the run.
func (e *Executor) publish(ctx context.Context, idx, offset int, results []model.Result) (checkpoint.SegmentInfo, error) {
	path, err := checkpoint.WriteSegment(e.cfg.OutputDir, idx, e.cfg.ExtraColumns, results)
	if err != nil {
		return checkpoint.SegmentInfo{}, err
	}
	info := checkpoint.SegmentInfo{
		Index:  idx,
		Path:   path,
		Offset: offset,
		Rows:   len(results),
		Stats:  model.Tally(results),
	}

	if e.recorder != nil {
		seg := model.Segment{
			RunID:  e.cfg.RunID,
			Index:  idx,
			Path:   path,
			Offset: offset,
			Rows:   info.Rows,
			Stats:  info.Stats,
		}
		if err := e.recorder.RecordSegment(context.WithoutCancel(ctx), seg); err != nil {
			zap.L().Warn("batch: record segment failed", zap.Int("segment", idx), zap.Error(err))
		}
	}
	return info, nil
}
