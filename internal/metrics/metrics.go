package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "quant"
	subsystem = "telegram"
)

// Metrics counts what the notifier decides and delivers.
type Metrics struct {
	Notifications  *prometheus.CounterVec
	Sends          *prometheus.CounterVec
	FormatErrors   *prometheus.CounterVec
	BatchesFlushed prometheus.Counter
	BatchesDropped prometheus.Counter
	Pending        prometheus.Gauge
	Keys           prometheus.Gauge

	// Mutex guards Save and Restore against each other.
	Mutex sync.Mutex
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests and embedded use want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notifications_total",
				Help:      "Notifications admitted, by category and throttle decision",
			},
			[]string{"category", "decision"},
		),
		Sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sends_total",
				Help:      "Messages handed to Telegram, by category and result",
			},
			[]string{"category", "result"},
		),
		FormatErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "format_errors_total",
				Help:      "Notifications rejected because a required field was missing",
			},
			[]string{"category"},
		),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_flushed_total",
			Help:      "Batched messages delivered",
		}),
		BatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_dropped_total",
			Help:      "Batches given up after repeated send failures",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_notifications",
			Help:      "Notifications buffered for the next flush",
		}),
		Keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "throttle_keys",
			Help:      "Throttle keys currently tracked",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Notifications,
			m.Sends,
			m.FormatErrors,
			m.BatchesFlushed,
			m.BatchesDropped,
			m.Pending,
			m.Keys,
		)
	}

	return m
}

func (m *Metrics) ObserveDecision(category, decision string) {
	m.Notifications.WithLabelValues(category, decision).Inc()
}

func (m *Metrics) ObserveSend(category string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Sends.WithLabelValues(category, result).Inc()
}

func (m *Metrics) ObserveFormatError(category string) {
	m.FormatErrors.WithLabelValues(category).Inc()
}

// ObserveBatch counts a flushed batch, or a dropped one.
func (m *Metrics) ObserveBatch(dropped bool) {
	if dropped {
		m.BatchesDropped.Inc()
		return
	}
	m.BatchesFlushed.Inc()
}

func (m *Metrics) SetQueue(pending, keys int) {
	m.Pending.Set(float64(pending))
	m.Keys.Set(float64(keys))
}
