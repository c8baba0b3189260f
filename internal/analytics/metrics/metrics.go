package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Runs           *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	MetricFailures *prometheus.CounterVec
	RowsWritten    prometheus.Counter
	LastSuccess    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_aggregation_runs_total",
			Help: "AggregateDay invocations by resulting status",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_aggregation_run_duration_seconds",
			Help:    "Wall time of AggregateDay runs that were not skipped",
			Buckets: prometheus.ExponentialBuckets(0.005, 3, 9),
		}),
		MetricFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_aggregation_metric_failures_total",
			Help: "Per-metric computation or write failures",
		}, []string{"metric"}),
		RowsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_aggregation_rows_written_total",
			Help: "daily_metrics rows upserted",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_aggregation_last_success_timestamp_seconds",
			Help: "Unix time of the last run that finished without metric failures",
		}),
	}
}

func (m *Metrics) ObserveRun(status string, seconds float64, rows int) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	if status == "skipped" {
		return
	}
	m.RunDuration.Observe(seconds)
	m.RowsWritten.Add(float64(rows))
}

func (m *Metrics) IncMetricFailure(metric string) {
	if m != nil {
		m.MetricFailures.WithLabelValues(metric).Inc()
	}
}

func (m *Metrics) MarkSuccess(unix float64) {
	if m != nil {
		m.LastSuccess.Set(unix)
	}
}
