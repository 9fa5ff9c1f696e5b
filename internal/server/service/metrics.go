package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultAccepted  = "accepted"
	resultDuplicate = "duplicate"
	resultRejected  = "rejected"
)

// Metrics holds backend prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	ops           *prometheus.CounterVec
	pulled        prometheus.Counter
	purged        prometheus.Counter
	cursorExpired prometheus.Counter
	dropped       prometheus.Counter
	subscribers   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gophsync",
			Subsystem: "server",
			Name:      "operations_total",
			Help:      "Pushed operations by result.",
		}, []string{"result"}),
		pulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gophsync",
			Subsystem: "server",
			Name:      "changes_pulled_total",
			Help:      "Changes returned by pull requests.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gophsync",
			Subsystem: "server",
			Name:      "changes_purged_total",
			Help:      "Change log entries removed by retention.",
		}),
		cursorExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gophsync",
			Subsystem: "server",
			Name:      "cursor_expired_total",
			Help:      "Pulls refused because the cursor was older than retained history.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gophsync",
			Subsystem: "server",
			Name:      "slow_subscribers_dropped_total",
			Help:      "Live subscribers disconnected for falling behind.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gophsync",
			Subsystem: "server",
			Name:      "subscribers",
			Help:      "Currently connected live subscribers.",
		}),
	}

	reg.MustRegister(m.ops, m.pulled, m.purged, m.cursorExpired, m.dropped, m.subscribers)
	return m
}

func (m *Metrics) Op(result string) {
	if m != nil {
		m.ops.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Pulled(n int) {
	if m != nil {
		m.pulled.Add(float64(n))
	}
}

func (m *Metrics) Purged(n int) {
	if m != nil {
		m.purged.Add(float64(n))
	}
}

func (m *Metrics) CursorExpired() {
	if m != nil {
		m.cursorExpired.Inc()
	}
}

func (m *Metrics) SlowConsumerDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) SubscriberAdded() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *Metrics) SubscriberRemoved() {
	if m != nil {
		m.subscribers.Dec()
	}
}
