package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink counts events in prometheus.
type MetricsSink struct {
	events    *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	cursor    *prometheus.GaugeVec
	state     *prometheus.GaugeVec
}

var subscriptionStates = []string{"disconnected", "bootstrapping", "subscribed", "reconnecting"}

// NewMetricsSink creates the collectors and registers them with reg.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	s := &MetricsSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gophsync",
			Subsystem: "client",
			Name:      "events_total",
		}, []string{"scope", "type"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gophsync",
			Subsystem: "client",
			Name:      "conflicts_total",
		}, []string{"scope", "table"}),
		cursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gophsync",
			Subsystem: "client",
			Name:      "cursor",
		}, []string{"scope"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gophsync",
			Subsystem: "client",
			Name:      "subscription_state",
		}, []string{"scope", "state"}),
	}

	for _, c := range []prometheus.Collector{s.events, s.conflicts, s.cursor, s.state} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Emit implements Sink.
func (s *MetricsSink) Emit(e Event) {
	s.events.WithLabelValues(e.Scope, string(e.Type)).Inc()

	switch e.Type {
	case ConflictDetected:
		s.conflicts.WithLabelValues(e.Scope, e.Table).Inc()
	case PullApplied:
		s.cursor.WithLabelValues(e.Scope).Set(float64(e.Cursor))
	case SubscriptionStatus:
		for _, st := range subscriptionStates {
			v := 0.0
			if st == e.Status {
				v = 1
			}
			s.state.WithLabelValues(e.Scope, st).Set(v)
		}
	}
}
