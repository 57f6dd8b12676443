package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// LogSink writes reports as structured log lines.
type LogSink struct {
	Logger *zap.Logger
}

// Report implements Sink.
func (s LogSink) Report(r Report) {
	log := s.Logger
	if log == nil {
		log = zap.L()
	}
	fields := []zap.Field{
		zap.Uint64("processed", r.Processed),
		zap.Uint64("total", r.Total),
		zap.Float64("percent", r.Percent),
		zap.Float64("records_per_second", r.Rate),
		zap.Duration("elapsed", r.Elapsed),
		zap.Uint64("exact", r.Stats.Exact),
		zap.Uint64("approximate", r.Stats.Approximate),
		zap.Uint64("unresolved", r.Stats.Unresolved),
	}
	if r.RemainingKnown {
		fields = append(fields, zap.Duration("remaining", r.Remaining))
	} else {
		fields = append(fields, zap.String("remaining", "unknown"))
	}

	msg := "progress: " + r.String()
	if r.Final {
		msg = "progress: done " + r.String()
	}
	log.Info(msg, fields...)
}

// BarSink drives a terminal progress bar.
type BarSink struct {
	bar *progressbar.ProgressBar
}

// NewBarSink returns a bar for total records written to w.
func NewBarSink(w io.Writer, total int64) *BarSink {
	return &BarSink{bar: progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rec"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("resolving"),
		progressbar.OptionThrottle(0),
	)}
}

// Report implements Sink.
func (s *BarSink) Report(r Report) {
	_ = s.bar.Set64(int64(r.Processed))
	if r.Final {
		_ = s.bar.Finish()
	}
}
