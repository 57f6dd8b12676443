// Package progress estimates throughput and time remaining for a resolve run
// and fans reports out to observational sinks.
package progress

import (
	"fmt"
	"time"

	"github.com/sells-group/biome-cli/internal/model"
)

// DefaultInterval is the minimum time between routine reports.
const DefaultInterval = 5 * time.Second

// minRate is the rate below which time remaining is reported as unknown.
const minRate = 1e-9

// Report is a snapshot of run progress.
type Report struct {
	Processed uint64
	Total     uint64
	Percent   float64
	Rate      float64 // records per second in this session
	Elapsed   time.Duration
	Remaining time.Duration
	// RemainingKnown is false when the rate is too low to extrapolate.
	RemainingKnown bool

	Stats         model.Stats
	ExactPct      float64
	ApproxPct     float64
	UnresolvedPct float64

	Final bool
}

// String renders the report on one line.
func (r Report) String() string {
	remaining := "unknown"
	if r.RemainingKnown {
		remaining = r.Remaining.Round(time.Second).String()
	}
	return fmt.Sprintf("%.1f%% (%d/%d) | %.1f rec/s | elapsed %s | remaining %s | exact %.1f%% approx %.1f%% unresolved %.1f%%",
		r.Percent, r.Processed, r.Total, r.Rate,
		r.Elapsed.Round(time.Second), remaining,
		r.ExactPct, r.ApproxPct, r.UnresolvedPct)
}

// Sink receives reports. Sinks never influence results.
type Sink interface {
	Report(Report)
}

// Estimator accumulates batch statistics and emits throttled reports. It is
// owned by a single goroutine.
type Estimator struct {
	total    uint64
	interval time.Duration
	sinks    []Sink

	seeded    uint64 // records completed before this session
	processed uint64
	stats     model.Stats
	elapsed   time.Duration
	lastEmit  time.Duration
	emitted   bool
}

// New returns an estimator for total records. A non-positive interval uses
// DefaultInterval.
func New(total uint64, interval time.Duration, sinks ...Sink) *Estimator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Estimator{total: total, interval: interval, sinks: sinks}
}

// Seed accounts for records resolved by an earlier session. They count toward
// progress and outcome percentages but not toward the rate.
func (e *Estimator) Seed(stats model.Stats) {
	e.seeded += stats.Total()
	e.processed += stats.Total()
	e.stats = e.stats.Add(stats)
}

// Stats returns the accumulated outcome counts.
func (e *Estimator) Stats() model.Stats { return e.stats }

// Update folds one finished batch into the totals. elapsed is the session time
// since the run started. A report is emitted on the first update and then at
// most once per interval; it is returned with true when emitted.
func (e *Estimator) Update(stats model.Stats, batchSize int, elapsed time.Duration) (Report, bool) {
	e.processed += uint64(batchSize)
	e.stats = e.stats.Add(stats)
	e.elapsed = elapsed

	if e.emitted && elapsed-e.lastEmit < e.interval {
		return Report{}, false
	}
	e.emitted = true
	e.lastEmit = elapsed
	r := e.snapshot(false)
	e.emit(r)
	return r, true
}

// Final emits and returns a report regardless of the interval.
func (e *Estimator) Final(elapsed time.Duration) Report {
	if elapsed > e.elapsed {
		e.elapsed = elapsed
	}
	r := e.snapshot(true)
	e.emit(r)
	return r
}

func (e *Estimator) snapshot(final bool) Report {
	r := Report{
		Processed: e.processed,
		Total:     e.total,
		Elapsed:   e.elapsed,
		Stats:     e.stats,
		Final:     final,
	}
	if e.total > 0 {
		r.Percent = 100 * float64(e.processed) / float64(e.total)
	}
	if secs := e.elapsed.Seconds(); secs > 0 {
		r.Rate = float64(e.processed-e.seeded) / secs
	}
	if r.Rate > minRate {
		left := float64(0)
		if e.total > e.processed {
			left = float64(e.total - e.processed)
		}
		r.Remaining = time.Duration(left / r.Rate * float64(time.Second))
		r.RemainingKnown = true
	}
	if n := e.stats.Total(); n > 0 {
		r.ExactPct = 100 * float64(e.stats.Exact) / float64(n)
		r.ApproxPct = 100 * float64(e.stats.Approximate) / float64(n)
		r.UnresolvedPct = 100 * float64(e.stats.Unresolved) / float64(n)
	}
	return r
}

func (e *Estimator) emit(r Report) {
	for _, s := range e.sinks {
		s.Report(r)
	}
}
