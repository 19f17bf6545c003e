package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for listening sessions and live URL probes
type Metrics struct {
	registry          *prometheus.Registry
	stateTransitions  *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	refreshesTotal    *prometheus.CounterVec
	probesTotal       *prometheus.CounterVec
	probeDuration     prometheus.Histogram
	activeControllers prometheus.Gauge
}

// New creates and registers the collectors on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	stateTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_session_state_transitions_total",
		Help: "Session state transitions by target state",
	}, []string{"station", "state"})
	retriesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_session_retries_total",
		Help: "Scheduled playback retries by error kind",
	}, []string{"station", "kind"})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_session_errors_total",
		Help: "Classified playback failures by error kind",
	}, []string{"station", "kind"})
	refreshesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_token_refreshes_total",
		Help: "Proactive token refreshes by outcome",
	}, []string{"station", "outcome"})
	probesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_live_url_probes_total",
		Help: "Live URL probes by outcome",
	}, []string{"outcome"})
	probeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "airwave_live_url_probe_duration_seconds",
		Help:    "Time taken to resolve a live URL",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
	})
	activeControllers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "airwave_active_controllers",
		Help: "Number of stations with a live session controller",
	})

	registry.MustRegister(
		stateTransitions,
		retriesTotal,
		errorsTotal,
		refreshesTotal,
		probesTotal,
		probeDuration,
		activeControllers,
	)

	return &Metrics{
		registry:          registry,
		stateTransitions:  stateTransitions,
		retriesTotal:      retriesTotal,
		errorsTotal:       errorsTotal,
		refreshesTotal:    refreshesTotal,
		probesTotal:       probesTotal,
		probeDuration:     probeDuration,
		activeControllers: activeControllers,
	}
}

// RecordState counts a transition into state
func (m *Metrics) RecordState(stationID, state string) {
	m.stateTransitions.WithLabelValues(stationID, state).Inc()
}

// RecordRetry counts a scheduled retry
func (m *Metrics) RecordRetry(stationID, kind string) {
	m.retriesTotal.WithLabelValues(stationID, kind).Inc()
}

// RecordError counts a classified failure
func (m *Metrics) RecordError(stationID, kind string) {
	m.errorsTotal.WithLabelValues(stationID, kind).Inc()
}

// RecordRefresh counts a proactive refresh outcome
func (m *Metrics) RecordRefresh(stationID, outcome string) {
	m.refreshesTotal.WithLabelValues(stationID, outcome).Inc()
}

// RecordProbe counts a completed live URL probe and observes its duration.
// It matches token.ProbeObserver.
func (m *Metrics) RecordProbe(outcome string, elapsed time.Duration) {
	m.probesTotal.WithLabelValues(outcome).Inc()
	m.probeDuration.Observe(elapsed.Seconds())
}

// SetActiveControllers sets the active controllers gauge
func (m *Metrics) SetActiveControllers(n int) {
	m.activeControllers.Set(float64(n))
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		inner.ServeHTTP(w, r)
	})
}
