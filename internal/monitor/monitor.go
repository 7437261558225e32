package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the table and engine counters exported at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	Actions        *prometheus.CounterVec
	Rejected       *prometheus.CounterVec
	EngineFaults   *prometheus.CounterVec
	AutomaTurns    *prometheus.CounterVec
	Conflicts      prometheus.Counter
	TablesStarted  *prometheus.CounterVec
	TablesEnded    *prometheus.CounterVec
	Connections    prometheus.Gauge
	ChangeDuration *prometheus.HistogramVec
}

// NewMetrics registers every metric on a private registry so several
// instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Accepted state changes by game and kind",
		}, []string{"game", "kind"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_rejected_total",
			Help:      "Rejected player requests by game and reason",
		}, []string{"game", "reason"}),
		EngineFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_faults_total",
			Help:      "Broken engine invariants by game",
		}, []string{"game"}),
		AutomaTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automa_turns_total",
			Help:      "Computer turns played by game",
		}, []string{"game"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrent_modifications_total",
			Help:      "Table writes retried after a concurrent modification",
		}),
		TablesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_started_total",
			Help:      "Tables started by game",
		}, []string{"game"}),
		TablesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_ended_total",
			Help:      "Tables ended or abandoned by game and status",
		}, []string{"game", "status"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections",
		}),
		ChangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "state_change_seconds",
			Help:      "Time to load, apply and store one table change",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"game"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Actions,
		m.Rejected,
		m.EngineFaults,
		m.AutomaTurns,
		m.Conflicts,
		m.TablesStarted,
		m.TablesEnded,
		m.Connections,
		m.ChangeDuration,
	)
	return m
}

// ObserveChange records how long a table change took since start.
func (m *Metrics) ObserveChange(game string, start time.Time) {
	m.ChangeDuration.WithLabelValues(game).Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
