package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "warden_access_decisions_total",
			Help: "Access guard decisions by outcome and deny reason",
		}, []string{"outcome", "reason"}),
	}
}

func (m *Metrics) ObserveDecision(allowed bool, reason string) {
	if m == nil {
		return
	}
	if allowed {
		m.Decisions.WithLabelValues("allowed", "").Inc()
		return
	}
	m.Decisions.WithLabelValues("denied", reason).Inc()
}
