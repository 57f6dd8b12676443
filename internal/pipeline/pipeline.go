// Package pipeline wires the raster, input, resolver, executor, and ledger
// into one resolve run.
package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/batch"
	"github.com/sells-group/biome-cli/internal/checkpoint"
	"github.com/sells-group/biome-cli/internal/config"
	"github.com/sells-group/biome-cli/internal/input"
	"github.com/sells-group/biome-cli/internal/model"
	"github.com/sells-group/biome-cli/internal/progress"
	"github.com/sells-group/biome-cli/internal/raster"
	"github.com/sells-group/biome-cli/internal/resolve"
	"github.com/sells-group/biome-cli/internal/store"
)

// ledgerBreakerReset is how long a failing ledger is left alone.
const ledgerBreakerReset = time.Minute

// Pipeline runs resolve jobs described by a Config.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store // optional
	bar      io.Writer   // optional progress bar destination
	registry *prometheus.Registry
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore records runs and segments in st.
func WithStore(st store.Store) Option {
	return func(p *Pipeline) { p.store = st }
}

// WithProgressBar draws a progress bar on w.
func WithProgressBar(w io.Writer) Option {
	return func(p *Pipeline) { p.bar = w }
}

// WithRegistry registers progress metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(p *Pipeline) { p.registry = reg }
}

// New creates a Pipeline.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Outcome describes a finished run.
type Outcome struct {
	RunID     string
	Resumed   bool
	Malformed int
	Summary   batch.Summary
	Merged    *checkpoint.MergeResult
}

// Run resolves every record of the table at inputPath. Output goes to
// cfg.Output.Dir; a directory holding segments of a compatible earlier run is
// resumed, an incompatible one is rejected.
func (p *Pipeline) Run(ctx context.Context, inputPath string) (*Outcome, error) {
	cfg := p.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Raster.Path == "" {
		return nil, eris.Wrap(model.ErrConfiguration, "pipeline: no raster configured")
	}
	if cfg.Output.Dir == "" {
		return nil, eris.Wrap(model.ErrConfiguration, "pipeline: no output directory configured")
	}

	rast, err := raster.Open(cfg.Raster.Path, raster.Options{BlockCacheSize: cfg.Raster.BlockCacheSize})
	if err != nil {
		return nil, err
	}
	defer rast.Close() //nolint:errcheck

	res, err := resolve.New(rast, resolve.Config{
		MinRadius: cfg.Resolve.MinSearchRadius,
		MaxRadius: cfg.Resolve.MaxSearchRadius,
		Index:     resolve.IndexKind(cfg.Resolve.Index),
	})
	if err != nil {
		return nil, err
	}

	tbl, err := input.Read(ctx, inputPath, input.Options{
		Columns: input.Columns{
			EntityID:  cfg.Input.EntityColumn,
			Longitude: cfg.Input.LongitudeColumn,
			Latitude:  cfg.Input.LatitudeColumn,
		},
		Delimiter: cfg.Input.DelimiterRune(),
		Sheet:     cfg.Input.Sheet,
	})
	if err != nil {
		return nil, err
	}

	manifest, resumed, err := p.prepareOutput(inputPath, tbl.Extra)
	if err != nil {
		return nil, err
	}
	out := &Outcome{RunID: manifest.RunID, Resumed: resumed, Malformed: tbl.Malformed}

	log := zap.L().With(zap.String("run_id", out.RunID))
	log.Info("pipeline: starting resolve",
		zap.String("input", inputPath),
		zap.String("raster", cfg.Raster.Path),
		zap.Int("records", len(tbl.Points)),
		zap.Int("malformed", tbl.Malformed),
		zap.Int("raster_width", rast.Width()),
		zap.Int("raster_height", rast.Height()),
		zap.Float64s("radii", res.Tiers()),
		zap.Bool("resumed", resumed),
	)

	p.beginLedger(ctx, out.RunID, inputPath)

	est, err := p.estimator(len(tbl.Points))
	if err != nil {
		return nil, err
	}
	opts := []batch.Option{batch.WithEstimator(est)}
	if p.store != nil {
		opts = append(opts, batch.WithRecorder(store.NewGuardedRecorder(p.store, ledgerBreakerReset)))
	}
	ex, err := batch.New(batch.Config{
		BatchSize:           cfg.Resolve.BatchSize,
		Workers:             cfg.Resolve.WorkerCount,
		CheckpointThreshold: cfg.Resolve.CheckpointThreshold,
		OutputDir:           cfg.Output.Dir,
		ExtraColumns:        tbl.Extra,
		RunID:               out.RunID,
	}, res, opts...)
	if err != nil {
		return nil, err
	}

	out.Summary, err = ex.Run(ctx, tbl.Points)
	p.finishLedger(ctx, out.RunID, out.Summary.Stats, err)
	if err != nil {
		return out, err
	}

	if cfg.Output.Merge {
		dest := filepath.Join(cfg.Output.Dir, cfg.Output.MergeName)
		merged, err := checkpoint.Merge(cfg.Output.Dir, dest)
		if err != nil {
			return out, err
		}
		out.Merged = &merged
	}

	log.Info("pipeline: resolve complete",
		zap.Int("skipped", out.Summary.Skipped),
		zap.Int("processed", out.Summary.Processed),
		zap.Uint64("exact", out.Summary.Stats.Exact),
		zap.Uint64("approximate", out.Summary.Stats.Approximate),
		zap.Uint64("unresolved", out.Summary.Stats.Unresolved),
		zap.Duration("elapsed", out.Summary.Elapsed),
	)
	return out, nil
}

// prepareOutput creates the output directory and checks or writes its
// manifest. It returns the manifest in force and whether an earlier run is
// being continued.
func (p *Pipeline) prepareOutput(inputPath string, extra []string) (checkpoint.Manifest, bool, error) {
	cfg := p.cfg
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return checkpoint.Manifest{}, false, eris.Wrapf(err, "pipeline: create output dir %s", cfg.Output.Dir)
	}

	rasterID, err := checkpoint.Identify(cfg.Raster.Path)
	if err != nil {
		return checkpoint.Manifest{}, false, err
	}
	inputID, err := checkpoint.Identify(inputPath)
	if err != nil {
		return checkpoint.Manifest{}, false, err
	}
	m := checkpoint.Manifest{
		RunID:        uuid.New().String(),
		Raster:       rasterID,
		Input:        inputID,
		MinRadius:    cfg.Resolve.MinSearchRadius,
		MaxRadius:    cfg.Resolve.MaxSearchRadius,
		Index:        cfg.Resolve.Index,
		ExtraColumns: extra,
		CreatedAt:    time.Now().UTC(),
	}

	prev, err := checkpoint.LoadManifest(cfg.Output.Dir)
	if err != nil {
		return checkpoint.Manifest{}, false, err
	}
	if prev != nil {
		if err := m.Compatible(*prev); err != nil {
			return checkpoint.Manifest{}, false, err
		}
		return *prev, true, nil
	}

	st, err := checkpoint.Scan(cfg.Output.Dir)
	if err != nil {
		return checkpoint.Manifest{}, false, err
	}
	if len(st.Segments) > 0 {
		return checkpoint.Manifest{}, false, eris.Wrapf(checkpoint.ErrManifestMismatch,
			"%s holds %d segments but no manifest", cfg.Output.Dir, len(st.Segments))
	}
	if err := checkpoint.SaveManifest(cfg.Output.Dir, m); err != nil {
		return checkpoint.Manifest{}, false, err
	}
	return m, false, nil
}

func (p *Pipeline) estimator(total int) (*progress.Estimator, error) {
	sinks := []progress.Sink{progress.LogSink{}}
	if p.bar != nil {
		sinks = append(sinks, progress.NewBarSink(p.bar, int64(total)))
	}
	if path := p.cfg.Metrics.TextfilePath; path != "" {
		reg := p.registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		ms, err := progress.NewMetricsSink(reg, path)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ms)
	}
	interval := time.Duration(p.cfg.Resolve.ProgressIntervalSeconds) * time.Second
	return progress.New(uint64(total), interval, sinks...), nil
}

// beginLedger creates the run row, or marks an existing one running again.
// Ledger failures never stop a run.
func (p *Pipeline) beginLedger(ctx context.Context, runID, inputPath string) {
	if p.store == nil {
		return
	}
	prev, err := p.store.GetRun(ctx, runID)
	switch {
	case err == nil:
		err = p.store.UpdateRun(ctx, runID, model.RunStatusRunning, prev.Stats, "")
	case errors.Is(err, store.ErrNotFound):
		_, err = p.store.CreateRun(ctx, model.Run{
			ID:         runID,
			InputPath:  inputPath,
			RasterPath: p.cfg.Raster.Path,
			OutputDir:  p.cfg.Output.Dir,
			Status:     model.RunStatusRunning,
		})
	}
	if err != nil {
		zap.L().Warn("pipeline: ledger unavailable", zap.String("run_id", runID), zap.Error(err))
	}
}

func (p *Pipeline) finishLedger(ctx context.Context, runID string, stats model.Stats, runErr error) {
	if p.store == nil {
		return
	}
	status, msg := model.RunStatusComplete, ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status, msg = model.RunStatusCancelled, runErr.Error()
	default:
		status, msg = model.RunStatusFailed, runErr.Error()
	}
	if err := p.store.UpdateRun(context.WithoutCancel(ctx), runID, status, stats, msg); err != nil {
		zap.L().Warn("pipeline: ledger update failed", zap.String("run_id", runID), zap.Error(err))
	}
}
