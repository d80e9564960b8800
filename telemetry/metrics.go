// Package telemetry counts pipeline outcomes in a prometheus registry that is
// written to a node_exporter textfile after each run.
package telemetry

import (
	"time"

	"github.com/YuminosukeSato/pvtrain/evaluation"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pvtrain"

// Metrics groups the run collectors. All methods are safe for concurrent use.
type Metrics struct {
	reg *prometheus.Registry

	generators  *prometheus.CounterVec
	failures    *prometheus.CounterVec
	stageTime   *prometheus.HistogramVec
	r2          *prometheus.GaugeVec
	rmse        *prometheus.GaugeVec
	runDuration prometheus.Gauge
	lastRun     prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		generators: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generators_total",
			Help:      "Generators processed, by final state.",
		}, []string{"state"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_failures_total",
			Help:      "Strategy branches that failed to fit or evaluate.",
		}, []string{"strategy"}),
		stageTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one pipeline stage for one generator.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"stage"}),
		r2: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "holdout_r2",
			Help:      "Holdout R2 of the last run.",
		}, []string{"generator", "strategy"}),
		rmse: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "holdout_rmse",
			Help:      "Holdout RMSE of the last run.",
		}, []string{"generator", "strategy"}),
		runDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
}

// Registry exposes the underlying registry, e.g. for promhttp.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) GeneratorDone(state string) {
	m.generators.WithLabelValues(state).Inc()
}

func (m *Metrics) StrategyFailed(strategy string) {
	m.failures.WithLabelValues(strategy).Inc()
}

// ObserveStage records how long stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageTime.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRecord exports the scores of rec.
func (m *Metrics) ObserveRecord(rec evaluation.Record) {
	m.r2.WithLabelValues(rec.GeneratorID, rec.Strategy).Set(rec.R2)
	m.rmse.WithLabelValues(rec.GeneratorID, rec.Strategy).Set(rec.RMSE)
}

// RunFinished stamps the run duration and end time.
func (m *Metrics) RunFinished(started, finished time.Time) {
	m.runDuration.Set(finished.Sub(started).Seconds())
	m.lastRun.Set(float64(finished.Unix()))
}

// WriteTextfile writes the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return errors.Wrapf(prometheus.WriteToTextfile(path, m.reg), "write metrics %s", path)
}
