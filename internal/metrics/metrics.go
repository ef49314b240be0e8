package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeAnswered     = "answered"
	OutcomeBehaviorSet  = "behavior_set"
	OutcomeBackendError = "backend_error"
	OutcomeConfigError  = "config_error"
	OutcomeStorageError = "storage_error"
)

type Metrics struct {
	UpdatesTotal     prometheus.Counter
	DuplicateUpdates prometheus.Counter
	Turns            *prometheus.CounterVec
	BackendLatency   *prometheus.HistogramVec
	BehaviorChanges  prometheus.Counter
	ThreadsClosed    prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// New builds an unregistered set; tests use it to avoid the global registry.
func New() *Metrics {
	return &Metrics{
		UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threadbot",
			Name:      "telegram_updates_total",
			Help:      "Total telegram updates received",
		}),
		DuplicateUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threadbot",
			Name:      "telegram_duplicate_updates_total",
			Help:      "Telegram updates dropped as redeliveries",
		}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadbot",
			Name:      "turns_total",
			Help:      "Inbound messages handled, by outcome",
		}, []string{"outcome"}),
		BackendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "threadbot",
			Name:      "backend_request_seconds",
			Help:      "Completion backend call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"provider"}),
		BehaviorChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threadbot",
			Name:      "behavior_changes_total",
			Help:      "Behavior texts stored",
		}),
		ThreadsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threadbot",
			Name:      "threads_closed_total",
			Help:      "Threads closed by /new",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.UpdatesTotal, m.DuplicateUpdates, m.Turns, m.BackendLatency, m.BehaviorChanges, m.ThreadsClosed,
	}
}

func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(global.collectors()...)
	})
	return global
}

func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBackend(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.BackendLatency.WithLabelValues(provider).Observe(seconds)
}

func (m *Metrics) BehaviorChanged() {
	if m == nil {
		return
	}
	m.BehaviorChanges.Inc()
}

func (m *Metrics) ThreadClosed() {
	if m == nil {
		return
	}
	m.ThreadsClosed.Inc()
}
