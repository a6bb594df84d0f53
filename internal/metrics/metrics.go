// metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg              *prometheus.Registry
	ticksTotal       prometheus.Counter
	observationsIn   prometheus.Counter
	commandsTotal    *prometheus.CounterVec
	sessionsRecorded *prometheus.CounterVec
	advisorCalls     *prometheus.CounterVec
	zoneMargin       *prometheus.GaugeVec
	zoneSessions     *prometheus.GaugeVec
	zoneState        *prometheus.GaugeVec
	predictedMinutes prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anticipation_ticks_total",
			Help: "Total evaluation ticks across all zones.",
		}),
		observationsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observations_total",
			Help: "Total zone observations consumed.",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_total",
			Help: "Total climate commands published by action.",
		}, []string{"action"}),
		sessionsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heating_sessions_recorded_total",
			Help: "Total heating sessions recorded by zone.",
		}, []string{"zone"}),
		advisorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "advisor_calls_total",
			Help: "Total advisor calls by outcome (ok or fallback).",
		}, []string{"outcome"}),
		zoneMargin: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zone_safety_margin",
			Help: "Current safety margin base per zone.",
		}, []string{"zone"}),
		zoneSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zone_sessions",
			Help: "Retained heating sessions per zone.",
		}, []string{"zone"}),
		zoneState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zone_state",
			Help: "Zone state (0 learning, 1 ready, 2 anticipating, 3 idle).",
		}, []string{"zone"}),
		predictedMinutes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "predicted_duration_minutes",
			Help:    "Histogram of raw predicted heat-up durations.",
			Buckets: []float64{5, 10, 20, 30, 45, 60, 90, 120, 180},
		}),
	}

	m.reg.MustRegister(
		m.ticksTotal,
		m.observationsIn,
		m.commandsTotal,
		m.sessionsRecorded,
		m.advisorCalls,
		m.zoneMargin,
		m.zoneSessions,
		m.zoneState,
		m.predictedMinutes,
	)
	return m
}

func (m *Metrics) Tick()                 { m.ticksTotal.Inc() }
func (m *Metrics) Observation()          { m.observationsIn.Inc() }
func (m *Metrics) Command(action string) { m.commandsTotal.WithLabelValues(action).Inc() }
func (m *Metrics) SessionRecorded(zone string) {
	m.sessionsRecorded.WithLabelValues(zone).Inc()
}
func (m *Metrics) AdvisorCall(outcome string) { m.advisorCalls.WithLabelValues(outcome).Inc() }
func (m *Metrics) SetMargin(zone string, v float64) {
	m.zoneMargin.WithLabelValues(zone).Set(v)
}
func (m *Metrics) SetSessions(zone string, n int) {
	m.zoneSessions.WithLabelValues(zone).Set(float64(n))
}

func (m *Metrics) SetState(zone, state string) {
	var v float64
	switch state {
	case "ready":
		v = 1
	case "anticipating":
		v = 2
	case "idle":
		v = 3
	}
	m.zoneState.WithLabelValues(zone).Set(v)
}

func (m *Metrics) ObservePrediction(minutes float64) { m.predictedMinutes.Observe(minutes) }

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
