package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EntriesRecorded *prometheus.CounterVec
	WriteFailures   *prometheus.CounterVec
	WriteDuration   prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EntriesRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_audit_entries_recorded_total",
			Help: "Audit entries persisted, by action",
		}, []string{"action"}),
		WriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_audit_write_failures_total",
			Help: "Audit entries that could not be persisted, by action",
		}, []string{"action"}),
		WriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_audit_write_duration_seconds",
			Help:    "Time spent persisting one audit entry",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

func (m *Metrics) ObserveWrite(action string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.WriteDuration.Observe(seconds)
	if err != nil {
		m.WriteFailures.WithLabelValues(action).Inc()
		return
	}
	m.EntriesRecorded.WithLabelValues(action).Inc()
}
