package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"pulse/pkg/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// readPump pumps subscription messages from the connection to the client
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		var subMsg SubscriptionMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			c.logger.WithError(err).Warn("Invalid subscription message")
			continue
		}

		c.handleSubscription(&subMsg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush any queued messages into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleSubscription processes join/leave requests. Rooms are explicit; a
// client receives nothing it did not join.
func (c *Client) handleSubscription(msg *SubscriptionMessage) {
	c.hub.mutex.Lock()
	switch msg.Action {
	case "join":
		for _, room := range msg.Rooms {
			if room != "" {
				c.rooms[room] = true
			}
		}
	case "leave":
		for _, room := range msg.Rooms {
			delete(c.rooms, room)
		}
	default:
		c.hub.mutex.Unlock()
		c.logger.WithField("action", msg.Action).Warn("Unknown subscription action")
		return
	}
	joined := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		joined = append(joined, room)
	}
	c.hub.mutex.Unlock()

	c.logger.WithFields(logging.Fields{
		"action": msg.Action,
		"rooms":  msg.Rooms,
	}).Info("Client subscription updated")

	c.sendMessage(map[string]interface{}{
		"type":  msg.Action + "_confirmed",
		"rooms": joined,
	})
}

// sendMessage sends a message to the client
func (c *Client) sendMessage(data map[string]interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal client message")
		return
	}

	select {
	case c.send <- message:
	default:
	}
}
