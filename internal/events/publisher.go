package events

import (
	"context"
	"encoding/json"
	"time"

	"pulse/internal/metrics"
	"pulse/internal/websocket"
	"pulse/pkg/kafka"
	"pulse/pkg/logging"
)

const publishTimeout = 5 * time.Second

// KafkaPublisher publishes engagement events to the shared topic, keyed by
// room so that updates for one content item stay on one partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	metrics  *metrics.Metrics
	logger   logging.Logger
}

// NewKafkaPublisher wraps a producer as an event publisher.
func NewKafkaPublisher(producer *kafka.Producer, m *metrics.Metrics, logger logging.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, metrics: m, logger: logger}
}

// Publish serializes and produces the event. Failures are logged and
// swallowed; the mutation already committed and must not be affected.
func (p *KafkaPublisher) Publish(ctx context.Context, event EngagementEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal engagement event")
		return
	}

	err = p.producer.Produce(ctx, Topic, []byte(event.Room()), payload, nil)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		p.logger.WithError(err).WithFields(logging.Fields{
			"room": event.Room(),
			"kind": event.Kind,
		}).Warn("Failed to publish engagement event")
	}
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(string(event.Kind), outcome).Inc()
	}
}

// HubPublisher delivers events straight to the in-process hub. Used when no
// broker is configured, and as the terminal stage behind the Kafka bridge.
type HubPublisher struct {
	hub     *websocket.Hub
	metrics *metrics.Metrics
}

// NewHubPublisher wraps the hub as an event publisher.
func NewHubPublisher(hub *websocket.Hub, m *metrics.Metrics) *HubPublisher {
	return &HubPublisher{hub: hub, metrics: m}
}

func (p *HubPublisher) Publish(_ context.Context, event EngagementEvent) {
	p.hub.BroadcastToRoom(event.Room(), string(event.Kind), event)
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(string(event.Kind), "ok").Inc()
	}
}

// Dispatch publishes the event off the request path. The mutation response
// never waits on fan-out.
func Dispatch(publisher Publisher, event EngagementEvent) {
	if publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		publisher.Publish(ctx, event)
	}()
}
