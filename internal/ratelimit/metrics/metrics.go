package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions     *prometheus.CounterVec
	TrackedKeys   *prometheus.GaugeVec
	SweepEvicted  prometheus.Counter
	SweepDuration prometheus.Histogram
	BackendErrors prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ratelimit_decisions_total",
			Help: "Rate limit decisions by outcome",
		}, []string{"outcome"}),
		TrackedKeys: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_ratelimit_tracked_keys",
			Help: "Number of windows held in memory by limiter scope",
		}, []string{"scope"}),
		SweepEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_ratelimit_sweep_evicted_total",
			Help: "Number of stale windows evicted by the sweep worker",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_ratelimit_sweep_duration_seconds",
			Help:    "Duration of sweep runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		BackendErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_ratelimit_backend_errors_total",
			Help: "Errors returned by the limiter backend; requests fail open on error",
		}),
	}
}

func (m *Metrics) ObserveDecision(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.Decisions.WithLabelValues("allowed").Inc()
		return
	}
	m.Decisions.WithLabelValues("rejected").Inc()
}
