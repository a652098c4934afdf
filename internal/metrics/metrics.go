package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"pulse/pkg/monitoring"
)

// Metrics holds the engagement engine's service-specific metrics.
type Metrics struct {
	InteractionOps  *prometheus.CounterVec
	OpDuration      *prometheus.HistogramVec
	EventsPublished *prometheus.CounterVec
	HubConnections  *prometheus.GaugeVec
	HubMessages     *prometheus.CounterVec
}

// New registers the engine's metrics on the service collector.
func New(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		InteractionOps:  mc.NewCounter("interaction_operations_total", "Interaction mutations by kind and outcome", []string{"op", "outcome"}),
		OpDuration:      mc.NewHistogram("operation_duration_seconds", "Engagement operation duration", []string{"op"}, nil),
		EventsPublished: mc.NewCounter("events_published_total", "Engagement events published", []string{"kind", "outcome"}),
		HubConnections:  mc.NewGauge("hub_connections_active", "Active WebSocket hub connections", nil),
		HubMessages:     mc.NewCounter("hub_messages_delivered_total", "Messages delivered to hub clients", []string{"type"}),
	}
}
