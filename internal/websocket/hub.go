// Package websocket implements the room-scoped fan-out hub. Clients join or
// leave rooms keyed by one content item; broadcasts reach only the members
// of that room, best-effort and at-most-once.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pulse/internal/metrics"
	"pulse/pkg/logging"
)

// Hub maintains the set of active clients and routes messages to room members
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	logger     logging.Logger
	metrics    *metrics.Metrics
	mutex      sync.RWMutex
}

// Client represents a WebSocket client connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	rooms  map[string]bool
	userID string
	logger logging.Logger
}

// Message is a real-time message scoped to one room
type Message struct {
	Type      string      `json:"type"`
	Room      string      `json:"room"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// SubscriptionMessage is a join/leave request from a client
type SubscriptionMessage struct {
	Action string   `json:"action"` // "join" or "leave"
	Rooms  []string `json:"rooms"`
	UserID string   `json:"user_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a new WebSocket hub
func NewHub(logger logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		metrics:    m,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			if h.metrics != nil {
				h.metrics.HubConnections.WithLabelValues().Set(float64(count))
			}
			h.logger.WithFields(logging.Fields{
				"client_count": count,
			}).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			if h.metrics != nil {
				h.metrics.HubConnections.WithLabelValues().Set(float64(count))
			}
			h.logger.WithFields(logging.Fields{
				"client_count": count,
			}).Info("Client disconnected")

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// BroadcastToRoom queues a message for every client in the room. Delivery is
// fire-and-forget; a full hub queue drops the message rather than blocking
// the caller.
func (h *Hub) BroadcastToRoom(room, msgType string, data interface{}) {
	msg := Message{
		Type:      msgType,
		Room:      room,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.WithField("room", room).Warn("Hub broadcast queue full, dropping message")
	}
}

func (h *Hub) broadcastMessage(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	delivered := 0
	for client := range h.clients {
		if !client.rooms[msg.Room] {
			continue
		}

		select {
		case client.send <- payload:
			delivered++
		default:
			// Slow client: evict instead of blocking the hub.
			close(client.send)
			delete(h.clients, client)
		}
	}

	if h.metrics != nil {
		h.metrics.HubMessages.WithLabelValues(msg.Type).Add(float64(delivered))
	}
}

// GetStats returns hub statistics for health reporting
func (h *Hub) GetStats() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	rooms := make(map[string]int)
	for client := range h.clients {
		for room := range client.rooms {
			rooms[room]++
		}
	}

	return map[string]interface{}{
		"clients": len(h.clients),
		"rooms":   len(rooms),
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection. userID may be
// empty for anonymous subscribers.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		rooms:  make(map[string]bool),
		userID: userID,
		logger: h.logger,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
