package dnsserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "simulacra"

// Metrics holds the server's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	Queries      *prometheus.CounterVec // by query kind and rcode
	Uploads      prometheus.Counter
	ChunksStored prometheus.Counter
	Deliveries   prometheus.Counter
	Acks         prometheus.Counter
	Expired      prometheus.Counter
	Messages     *prometheus.GaugeVec // by state, refreshed from storage stats
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_queries_total",
			Help:      "DNS queries answered, by kind and response code.",
		}, []string{"kind", "rcode"}),
		Uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Messages published.",
		}),
		ChunksStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_stored_total",
			Help:      "Chunks published.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Message IDs handed to consuming clients.",
		}),
		Acks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "Messages acknowledged as consumed.",
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_total",
			Help:      "Messages removed by the expiry sweep.",
		}),
		Messages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "messages",
			Help:      "Stored messages by state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.Queries, m.Uploads, m.ChunksStored, m.Deliveries, m.Acks, m.Expired, m.Messages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry to expose on /metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe refreshes the per-state gauges
func (m *Metrics) Observe(stats StorageStats) {
	m.Messages.WithLabelValues(StateNew.String()).Set(float64(stats.NewMessages))
	m.Messages.WithLabelValues(StateDelivered.String()).Set(float64(stats.Delivered))
	m.Messages.WithLabelValues(StateConsumed.String()).Set(float64(stats.Consumed))
}
