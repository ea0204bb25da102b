// Package metrics exports the node's atomic counters as prometheus
// collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rai"

// Registry wraps a prometheus registry that the HTTP service serves from
// /metrics.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{reg: prometheus.NewRegistry()}
}

// Prometheus exposes the underlying registry for the HTTP handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// Counter registers a read-through counter backed by one of the node's
// atomic counters.
func (r *Registry) Counter(name, help string, read func() uint64) {
	r.reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		func() float64 { return float64(read()) },
	))
}

// Gauge registers a read-through gauge.
func (r *Registry) Gauge(name, help string, read func() float64) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		read,
	))
}
