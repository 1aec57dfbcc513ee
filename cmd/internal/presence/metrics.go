package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the presence collectors. A nil *Metrics records nothing.
type Metrics struct {
	online      prometheus.Gauge
	connections *prometheus.CounterVec
	broadcasts  prometheus.Counter
	delivered   prometheus.Counter
	dropped     prometheus.Counter
	replacedN   prometheus.Counter
}

// NewMetrics registers the presence collectors on reg.
//
// Metrics:
//   - parley_presence_online_identities
//   - parley_presence_connections_total{outcome}
//   - parley_presence_broadcasts_total
//   - parley_presence_deliveries_total
//   - parley_presence_send_dropped_total
//   - parley_presence_replaced_total
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	const ns, sub = "parley", "presence"

	return &Metrics{
		online: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "online_identities",
			Help:      "Number of identities with a registered connection",
		}),
		connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "connections_total",
			Help:      "Websocket connection attempts by outcome",
		}, []string{"outcome"}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "broadcasts_total",
			Help:      "Online-set broadcasts (one per registry mutation)",
		}),
		delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "deliveries_total",
			Help:      "Online-set envelopes enqueued to connections",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "send_dropped_total",
			Help:      "Envelopes dropped because a connection queue was full or closing",
		}),
		replacedN: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "replaced_total",
			Help:      "Connections closed because the same identity connected again",
		}),
	}
}

// ObserveSnapshot keeps the online gauge in step with the registry.
func (m *Metrics) ObserveSnapshot(s Snapshot) {
	if m == nil {
		return
	}
	m.online.Set(float64(len(s.Identities)))
}

// Outcome labels for connections_total.
const (
	outcomeAccepted     = "accepted"
	outcomeUnauthorized = "unauthorized"
	outcomeForbidden    = "forbidden"
	outcomeFailed       = "failed"
	outcomeUnavailable  = "unavailable"
)

func (m *Metrics) connection(outcome string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(outcome).Inc()
}

func (m *Metrics) broadcast(delivered, dropped int) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.delivered.Add(float64(delivered))
	m.dropped.Add(float64(dropped))
}

func (m *Metrics) replaced() {
	if m == nil {
		return
	}
	m.replacedN.Inc()
}
