package progress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// MetricsSink exposes reports as Prometheus gauges and optionally writes them
// to a node-exporter textfile.
type MetricsSink struct {
	registry *prometheus.Registry
	path     string

	processed prometheus.Gauge
	total     prometheus.Gauge
	rate      prometheus.Gauge
	remaining prometheus.Gauge
	results   *prometheus.GaugeVec
}

// NewMetricsSink registers the progress gauges on registry. When path is not
// empty every report rewrites the textfile at path.
func NewMetricsSink(registry *prometheus.Registry, path string) (*MetricsSink, error) {
	m := &MetricsSink{
		registry: registry,
		path:     path,
		processed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biome_records_processed",
			Help: "Records resolved so far, including records from resumed segments.",
		}),
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biome_records_total",
			Help: "Records in the input table.",
		}),
		rate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biome_records_per_second",
			Help: "Resolve throughput in the current session.",
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biome_remaining_seconds",
			Help: "Estimated seconds until the run completes, -1 when unknown.",
		}),
		results: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biome_results",
			Help: "Resolved records partitioned by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{m.processed, m.total, m.rate, m.remaining, m.results} {
		if err := registry.Register(c); err != nil {
			return nil, eris.Wrap(err, "progress: register metrics")
		}
	}
	return m, nil
}

// Report implements Sink.
func (m *MetricsSink) Report(r Report) {
	m.processed.Set(float64(r.Processed))
	m.total.Set(float64(r.Total))
	m.rate.Set(r.Rate)
	if r.RemainingKnown {
		m.remaining.Set(r.Remaining.Seconds())
	} else {
		m.remaining.Set(-1)
	}
	m.results.WithLabelValues("exact").Set(float64(r.Stats.Exact))
	m.results.WithLabelValues("approximate").Set(float64(r.Stats.Approximate))
	m.results.WithLabelValues("unresolved").Set(float64(r.Stats.Unresolved))

	if m.path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(m.path, m.registry); err != nil {
		zap.L().Warn("progress: write metrics textfile", zap.String("path", m.path), zap.Error(err))
	}
}
