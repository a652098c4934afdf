package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/counters"
	"pulse/internal/registry"
	"pulse/internal/websocket"
	"pulse/pkg/kafka"
)

func TestNew_BuildsRoomKeyedEvent(t *testing.T) {
	ref := registry.ContentRef{Type: registry.ContentTypeMedia, ID: "m-1"}
	event := New(ref, KindLikeUpdated, counters.Snapshot{LikeCount: 4}, "user-1")

	assert.Equal(t, "media:m-1", event.Room())
	assert.Equal(t, KindLikeUpdated, event.Kind)
	assert.Equal(t, int64(4), event.Counters.LikeCount)
	assert.Equal(t, "user-1", event.ActorID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestBridge_RelaysToHub(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	hub := websocket.NewHub(logger, nil)
	go hub.Run()

	bridge := NewBridge(hub, logger)

	event := New(registry.ContentRef{Type: registry.ContentTypePodcast, ID: "p-1"}, KindCommentAdded, counters.Snapshot{CommentCount: 2}, "user-1")
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	err = bridge.handle(context.Background(), kafka.Message{Topic: Topic, Value: payload})
	assert.NoError(t, err)
}

func TestBridge_RejectsMalformedPayload(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	bridge := NewBridge(websocket.NewHub(logger, nil), logger)
	err := bridge.handle(context.Background(), kafka.Message{Topic: Topic, Value: []byte("not json")})
	assert.Error(t, err)
}

type recordingPublisher struct {
	events chan EngagementEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event EngagementEvent) {
	p.events <- event
}

func TestDispatch_PublishesAsync(t *testing.T) {
	pub := &recordingPublisher{events: make(chan EngagementEvent, 1)}
	event := New(registry.ContentRef{Type: registry.ContentTypeMedia, ID: "m-9"}, KindViewUpdated, counters.Snapshot{ViewCount: 10}, "user-1")

	Dispatch(pub, event)

	select {
	case got := <-pub.events:
		assert.Equal(t, "media:m-9", got.Room())
	case <-time.After(time.Second):
		t.Fatal("event never published")
	}
}

func TestDispatch_NilPublisherIsNoOp(t *testing.T) {
	Dispatch(nil, EngagementEvent{})
}
