package events

import (
	"context"
	"encoding/json"
	"fmt"

	"pulse/internal/websocket"
	"pulse/pkg/kafka"
	"pulse/pkg/logging"
)

// Bridge consumes engagement events from Kafka and fans them out to the local
// hub. Every service instance runs one, so clients reach the room no matter
// which instance accepted the originating mutation.
type Bridge struct {
	hub    *websocket.Hub
	logger logging.Logger
}

// NewBridge builds a consumer bridge for the given hub.
func NewBridge(hub *websocket.Hub, logger logging.Logger) *Bridge {
	return &Bridge{hub: hub, logger: logger}
}

// Attach registers the bridge's handler on the consumer.
func (b *Bridge) Attach(consumer *kafka.Consumer) {
	consumer.AddHandler(Topic, b.handle)
}

func (b *Bridge) handle(_ context.Context, msg kafka.Message) error {
	var event EngagementEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode engagement event: %w", err)
	}

	b.hub.BroadcastToRoom(event.Room(), string(event.Kind), event)

	b.logger.WithFields(logging.Fields{
		"room": event.Room(),
		"kind": event.Kind,
	}).Debug("Relayed engagement event to hub")
	return nil
}
