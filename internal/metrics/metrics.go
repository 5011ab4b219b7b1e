// Package metrics holds the Prometheus collectors of the coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "asamblea"

// Label values
const (
	SourceModerator = "moderator"
	SourceAuto      = "auto"

	OutcomeSuccess = "success"
	OutcomeRefused = "refused"
	OutcomeNoop    = "noop"
	OutcomeFailed  = "failed"
)

// Metrics groups every collector
type Metrics struct {
	Activations      *prometheus.CounterVec
	Finalizations    *prometheus.CounterVec
	Cancellations    *prometheus.CounterVec
	Registrations    *prometheus.CounterVec
	Votes            *prometheus.CounterVec
	LeaveNotices     *prometheus.CounterVec
	ActiveCountdowns prometheus.Gauge
	LiveSessions     prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil registerer
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Activations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "question_activations_total",
			Help:      "Question activation attempts by outcome.",
		}, []string{"outcome"}),
		Finalizations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "question_finalizations_total",
			Help:      "Question finalizations by source and outcome.",
		}, []string{"source", "outcome"}),
		Cancellations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "question_cancellations_total",
			Help:      "Question cancellations by outcome.",
		}, []string{"outcome"}),
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_registrations_total",
			Help:      "Attendance registrations by outcome kind.",
		}, []string{"kind"}),
		Votes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Votes cast by outcome.",
		}, []string{"outcome"}),
		LeaveNotices: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leave_notifications_total",
			Help:      "Best-effort leave notifications by outcome.",
		}, []string{"outcome"}),
		ActiveCountdowns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_countdowns",
			Help:      "Countdowns currently tracked.",
		}),
		LiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Live assembly sessions held by the hub.",
		}),
	}
}
