package actor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the actor.
type Metrics struct {
	MessagesTotal   *prometheus.CounterVec
	Clients         prometheus.Gauge
	ApplyDuration   prometheus.Histogram
	OutboundDropped prometheus.Counter
}

// NewMetrics creates and registers the actor metrics once per process.
//
// Metrics:
//   - canopy_actor_messages_total{kind,result} - messages handled
//   - canopy_actor_clients - currently registered clients
//   - canopy_actor_apply_duration_seconds - time spent applying changes
//   - canopy_actor_outbound_dropped_total - messages dropped from full inboxes
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			MessagesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "canopy_actor_messages_total",
					Help: "Total number of messages handled by the actor",
				},
				[]string{"kind", "result"},
			),

			Clients: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "canopy_actor_clients",
					Help: "Number of clients registered with the actor",
				},
			),

			ApplyDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "canopy_actor_apply_duration_seconds",
					Help:    "Duration of applying one change to the tree",
					Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
				},
			),

			OutboundDropped: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "canopy_actor_outbound_dropped_total",
					Help: "Messages dropped because a client inbox was full",
				},
			),
		}
	})

	return globalMetrics
}

func (m *Metrics) recordMessage(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MessagesTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) recordApply(seconds float64) {
	if m != nil {
		m.ApplyDuration.Observe(seconds)
	}
}

func (m *Metrics) clientAdded() {
	if m != nil {
		m.Clients.Inc()
	}
}

func (m *Metrics) clientRemoved() {
	if m != nil {
		m.Clients.Dec()
	}
}

func (m *Metrics) recordDrop() {
	if m != nil {
		m.OutboundDropped.Inc()
	}
}
