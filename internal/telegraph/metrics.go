package telegraph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Cycles         *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	FetchDuration  prometheus.Histogram
	StopsFetched   prometheus.Counter
	ActiveSessions prometheus.Gauge
	Edits          *prometheus.CounterVec
	Teardowns      prometheus.Counter
	CyclePanics    prometheus.Counter
	Commands       *prometheus.CounterVec
}

// NewMetrics registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// state: "active" or "quiet"
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tramtram_cycles_total",
			Help: "Scheduler cycles by state",
		}, []string{"state"}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tramtram_cycle_duration_seconds",
			Help:    "Time spent fetching and reconciling in one active cycle",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),

		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tramtram_fetch_duration_seconds",
			Help:    "Time spent on the batched provider fetch",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}),

		StopsFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "tramtram_stops_fetched_total",
			Help: "Unique stop ids fetched across all cycles",
		}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "tramtram_active_sessions",
			Help: "Chats with a dashboard or live stop in the last cycle",
		}),

		// kind: "dashboard" or "stop"; outcome: ok, not_modified, stale, failed
		Edits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tramtram_edits_total",
			Help: "Message edits by kind and outcome",
		}, []string{"kind", "outcome"}),

		Teardowns: f.NewCounter(prometheus.CounterOpts{
			Name: "tramtram_stop_teardowns_total",
			Help: "Live-stop messages removed after expiry or loss",
		}),

		CyclePanics: f.NewCounter(prometheus.CounterOpts{
			Name: "tramtram_cycle_panics_total",
			Help: "Cycles aborted by a recovered panic",
		}),

		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tramtram_commands_total",
			Help: "Handled chat commands by name",
		}, []string{"command"}),
	}
}

func (m *Metrics) recordCycle(state State) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) recordCycleDuration(seconds float64) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(seconds)
}

func (m *Metrics) recordFetch(seconds float64, stops int) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(seconds)
	m.StopsFetched.Add(float64(stops))
}

func (m *Metrics) setActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) recordEdit(kind string, o editOutcome) {
	if m == nil {
		return
	}
	m.Edits.WithLabelValues(kind, o.String()).Inc()
}

func (m *Metrics) recordTeardown() {
	if m == nil {
		return
	}
	m.Teardowns.Inc()
}

func (m *Metrics) recordPanic() {
	if m == nil {
		return
	}
	m.CyclePanics.Inc()
}

func (m *Metrics) recordCommand(name string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(name).Inc()
}
