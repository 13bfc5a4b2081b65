package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	putChanged      = "changed"
	putDeduplicated = "deduplicated"
	putRejected     = "rejected"
)

type Metrics struct {
	registry *prometheus.Registry

	ConnectedNodes prometheus.Gauge
	Messages       *prometheus.CounterVec
	Puts           *prometheus.CounterVec
	DataEvents     prometheus.Counter
}

// NewMetrics registers the relay collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ConnectedNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wearlink",
			Name:      "connected_nodes",
			Help:      "Nodes currently connected to the relay",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wearlink",
			Name:      "messages_total",
			Help:      "Messages handled by the relay, by type",
		}, []string{"type"}),
		Puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wearlink",
			Name:      "record_puts_total",
			Help:      "Record puts, by outcome",
		}, []string{"outcome"}),
		DataEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wearlink",
			Name:      "data_events_total",
			Help:      "Data events fanned out to subscribers",
		}),
	}
	reg.MustRegister(m.ConnectedNodes, m.Messages, m.Puts, m.DataEvents)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
