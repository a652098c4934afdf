package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestHub() *Hub {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewHub(logger, nil)
}

func newTestClient(h *Hub, rooms ...string) *Client {
	c := &Client{
		hub:    h,
		send:   make(chan []byte, 8),
		rooms:  make(map[string]bool),
		logger: h.logger,
	}
	for _, room := range rooms {
		c.rooms[room] = true
	}
	return c
}

func recvMessage(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case payload := <-c.send:
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("invalid message payload: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestBroadcastToRoom_ReachesOnlyMembers(t *testing.T) {
	hub := newTestHub()
	member := newTestClient(hub, "media:m-1")
	outsider := newTestClient(hub, "media:m-2")
	hub.clients[member] = true
	hub.clients[outsider] = true

	hub.broadcastMessage(Message{
		Type:      "like-updated",
		Room:      "media:m-1",
		Data:      map[string]interface{}{"like_count": 3},
		Timestamp: time.Now().UTC(),
	})

	msg := recvMessage(t, member)
	if msg.Type != "like-updated" || msg.Room != "media:m-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	select {
	case payload := <-outsider.send:
		t.Fatalf("outsider received message: %s", payload)
	default:
	}
}

func TestBroadcastToRoom_EvictsSlowClient(t *testing.T) {
	hub := newTestHub()
	slow := &Client{
		hub:    hub,
		send:   make(chan []byte), // unbuffered and never drained
		rooms:  map[string]bool{"media:m-1": true},
		logger: hub.logger,
	}
	hub.clients[slow] = true

	hub.broadcastMessage(Message{Type: "view-updated", Room: "media:m-1"})

	if _, ok := hub.clients[slow]; ok {
		t.Fatal("expected slow client to be evicted")
	}
}

func TestHandleSubscription_JoinAndLeave(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub)
	hub.clients[client] = true

	client.handleSubscription(&SubscriptionMessage{Action: "join", Rooms: []string{"media:m-1", "podcast:p-1"}})
	if !client.rooms["media:m-1"] || !client.rooms["podcast:p-1"] {
		t.Fatalf("join did not register rooms: %v", client.rooms)
	}

	confirm := recvMessage(t, client)
	if confirm.Type != "join_confirmed" {
		t.Fatalf("expected join confirmation, got %q", confirm.Type)
	}

	client.handleSubscription(&SubscriptionMessage{Action: "leave", Rooms: []string{"media:m-1"}})
	if client.rooms["media:m-1"] {
		t.Fatal("leave did not remove room")
	}
	if !client.rooms["podcast:p-1"] {
		t.Fatal("leave removed the wrong room")
	}
}

func TestHandleSubscription_IgnoresUnknownAction(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub)

	client.handleSubscription(&SubscriptionMessage{Action: "subscribe", Rooms: []string{"media:m-1"}})
	if len(client.rooms) != 0 {
		t.Fatalf("unknown action must not change rooms: %v", client.rooms)
	}
}

func TestRun_RegisterAndUnregister(t *testing.T) {
	hub := newTestHub()
	go hub.Run()

	client := newTestClient(hub, "media:m-1")
	hub.register <- client

	deadline := time.Now().Add(time.Second)
	for {
		stats := hub.GetStats()
		if stats["clients"] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.BroadcastToRoom("media:m-1", "share-updated", map[string]interface{}{"share_count": 1})
	msg := recvMessage(t, client)
	if msg.Type != "share-updated" {
		t.Fatalf("unexpected message type: %s", msg.Type)
	}

	hub.unregister <- client
	deadline = time.Now().Add(time.Second)
	for {
		stats := hub.GetStats()
		if stats["clients"] == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
