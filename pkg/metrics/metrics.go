// Package metrics exposes the broker's runtime counters and gauges as
// Prometheus collectors. A Registry is passed around by pointer and is
// nil-safe: every method tolerates a nil *Registry so callers that do not
// care about metrics can pass one without an extra conditional.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every collector the broker reports. Construct one with
// New and register it with a prometheus.Registerer (or leave it unregistered
// for tests that only care about the counter values).
type Registry struct {
	ActiveConnections prometheus.Gauge
	PacketsReceived   *prometheus.CounterVec
	PacketsSent       *prometheus.CounterVec
	PublishDropped    *prometheus.CounterVec
	SubscriptionNodes prometheus.Gauge
	SessionCount      prometheus.Gauge
}

// New builds a Registry with freshly constructed, unregistered collectors.
func New() *Registry {
	return &Registry{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_active_connections",
			Help: "Number of connections currently attached to a session.",
		}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_packets_received_total",
			Help: "Total number of inbound packets processed, by packet type.",
		}, []string{"type"}),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_packets_sent_total",
			Help: "Total number of outbound packets written, by packet type.",
		}, []string{"type"}),
		PublishDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_publish_dropped_total",
			Help: "Total number of PUBLISH deliveries dropped, by reason.",
		}, []string{"reason"}),
		SubscriptionNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_subscription_tree_nodes",
			Help: "Number of nodes in the current subscription tree snapshot.",
		}),
		SessionCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_session_count",
			Help: "Number of sessions currently held by the session registry.",
		}),
	}
}

// MustRegister registers every collector in r against reg. It panics on a
// duplicate registration, matching prometheus.MustRegister's own contract.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	if r == nil {
		return
	}
	reg.MustRegister(
		r.ActiveConnections,
		r.PacketsReceived,
		r.PacketsSent,
		r.PublishDropped,
		r.SubscriptionNodes,
		r.SessionCount,
	)
}

func (r *Registry) ConnectionOpened() {
	if r == nil {
		return
	}
	r.ActiveConnections.Inc()
}

func (r *Registry) ConnectionClosed() {
	if r == nil {
		return
	}
	r.ActiveConnections.Dec()
}

func (r *Registry) PacketReceived(packetType string) {
	if r == nil {
		return
	}
	r.PacketsReceived.WithLabelValues(packetType).Inc()
}

func (r *Registry) PacketSent(packetType string) {
	if r == nil {
		return
	}
	r.PacketsSent.WithLabelValues(packetType).Inc()
}

func (r *Registry) PublishDropped(reason string) {
	if r == nil {
		return
	}
	r.PublishDropped.WithLabelValues(reason).Inc()
}

func (r *Registry) SetSubscriptionNodes(n int) {
	if r == nil {
		return
	}
	r.SubscriptionNodes.Set(float64(n))
}

func (r *Registry) SetSessionCount(n int) {
	if r == nil {
		return
	}
	r.SessionCount.Set(float64(n))
}
