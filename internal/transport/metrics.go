package transport

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Rejection reasons recorded by canopy_transport_rejected_total.
const (
	ReasonCapacity  = "capacity"
	ReasonHandshake = "handshake"
	ReasonVersion   = "version"
	ReasonRegister  = "register"
)

// Metrics holds Prometheus metrics for the connection server.
type Metrics struct {
	Connections prometheus.Gauge
	Rejected    *prometheus.CounterVec
}

// NewMetrics creates and registers the transport metrics once per process.
//
// Metrics:
//   - canopy_transport_connections - open client sessions
//   - canopy_transport_rejected_total{reason} - refused connections
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Connections: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "canopy_transport_connections",
					Help: "Number of open client sessions",
				},
			),
			Rejected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "canopy_transport_rejected_total",
					Help: "Total number of connections refused before a session started",
				},
				[]string{"reason"},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) reject(reason string) {
	if m != nil {
		m.Rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) opened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) closed() {
	if m != nil {
		m.Connections.Dec()
	}
}
