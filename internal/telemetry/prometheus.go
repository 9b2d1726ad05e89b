// Package telemetry exports realtime engine instrumentation to Prometheus.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dgnsrekt/realtime-sync/internal/model"
	"github.com/dgnsrekt/realtime-sync/internal/realtime"
)

var statuses = []realtime.Status{
	realtime.StatusIdle,
	realtime.StatusConnecting,
	realtime.StatusConnected,
	realtime.StatusReconnecting,
	realtime.StatusError,
	realtime.StatusDisabled,
}

type PrometheusMetrics struct {
	polls             *prometheus.CounterVec
	eventsApplied     *prometheus.CounterVec
	duplicatesDropped prometheus.Counter
	registrations     *prometheus.CounterVec
	heartbeats        *prometheus.CounterVec
	leader            prometheus.Gauge
	leaderChanges     prometheus.Counter
	status            *prometheus.GaugeVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		polls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtsync_polls_total",
				Help: "Completed long polls by result",
			},
			[]string{"result"},
		),
		eventsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtsync_events_applied_total",
				Help: "Events applied to the query cache by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		duplicatesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rtsync_duplicate_events_total",
				Help: "Events dropped because they were already applied",
			},
		),
		registrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtsync_registrations_total",
				Help: "Queue registrations by result",
			},
			[]string{"result"},
		),
		heartbeats: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtsync_heartbeats_total",
				Help: "Queue heartbeats by result",
			},
			[]string{"result"},
		),
		leader: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rtsync_leader",
				Help: "1 while this tab holds the leader lease",
			},
		),
		leaderChanges: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rtsync_leader_changes_total",
				Help: "Leadership acquisitions and releases",
			},
		),
		status: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtsync_status",
				Help: "Current connection status, 1 for the active one",
			},
			[]string{"status"},
		),
	}
}

func (p *PrometheusMetrics) PollCompleted(result string) {
	p.polls.WithLabelValues(result).Inc()
}

func (p *PrometheusMetrics) EventApplied(eventType model.EventType, outcome string) {
	p.eventsApplied.WithLabelValues(string(eventType), outcome).Inc()
}

func (p *PrometheusMetrics) DuplicatesDropped(n int) {
	p.duplicatesDropped.Add(float64(n))
}

func (p *PrometheusMetrics) RegistrationCompleted(result string) {
	p.registrations.WithLabelValues(result).Inc()
}

func (p *PrometheusMetrics) HeartbeatCompleted(result string) {
	p.heartbeats.WithLabelValues(result).Inc()
}

func (p *PrometheusMetrics) LeaderChanged(leader bool) {
	p.leaderChanges.Inc()
	if leader {
		p.leader.Set(1)
		return
	}
	p.leader.Set(0)
}

// StatusChanged sets the gauge of s to 1 and all others to 0.
func (p *PrometheusMetrics) StatusChanged(s realtime.Status) {
	for _, candidate := range statuses {
		v := 0.0
		if candidate == s {
			v = 1
		}
		p.status.WithLabelValues(string(candidate)).Set(v)
	}
}

var _ realtime.Metrics = (*PrometheusMetrics)(nil)
