package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the ingestion queues, the detector and notification fan-out.
type Metrics struct {
	Enqueued       *prometheus.CounterVec
	Dropped        *prometheus.CounterVec
	Persisted      *prometheus.CounterVec
	PersistErrors  *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec
	BruteForce     prometheus.Counter
	Notifications  *prometheus.CounterVec
	DetectorErrors prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_events_enqueued_total",
			Help: "Events accepted onto an ingestion shard, by kind",
		}, []string{"kind"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_events_dropped_total",
			Help: "Events dropped because their shard queue was full, by kind",
		}, []string{"kind"}),
		Persisted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_events_persisted_total",
			Help: "Events written to the store, by kind",
		}, []string{"kind"}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_events_persist_errors_total",
			Help: "Event store write failures, by kind",
		}, []string{"kind"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_events_queue_depth",
			Help: "Pending items per ingestion shard",
		}, []string{"shard"}),
		BruteForce: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_brute_force_detected_total",
			Help: "brute_force_attempt events emitted by the detector",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_security_notifications_total",
			Help: "Notification attempts for security events, by outcome",
		}, []string{"outcome"}),
		DetectorErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_brute_force_detector_errors_total",
			Help: "Detector evaluations that failed to count prior events",
		}),
	}
}

func (m *Metrics) IncEnqueued(kind string) {
	if m != nil {
		m.Enqueued.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncDropped(kind string) {
	if m != nil {
		m.Dropped.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObservePersist(kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PersistErrors.WithLabelValues(kind).Inc()
		return
	}
	m.Persisted.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetQueueDepth(shard string, depth int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(shard).Set(float64(depth))
	}
}

func (m *Metrics) IncBruteForce() {
	if m != nil {
		m.BruteForce.Inc()
	}
}

func (m *Metrics) IncDetectorErrors() {
	if m != nil {
		m.DetectorErrors.Inc()
	}
}

func (m *Metrics) ObserveNotification(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Notifications.WithLabelValues("error").Inc()
		return
	}
	m.Notifications.WithLabelValues("sent").Inc()
}
