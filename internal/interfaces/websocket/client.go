package websocket

import (
	"bytes"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Viewers only ever send pongs
	maxMessageSize = 4 * 1024

	sendBufferSize = 256
)

// Client is one viewer connection.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.With(zap.String("connection_id", id)),
	}
}

// Start registers the client and starts its pumps. A client started after
// the hub stopped is closed at once.
func (c *Client) Start() {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		c.conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump reads until the connection fails, then unregisters.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.logger.Debug("Read pump stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.handleTextMessage(message)
		case websocket.BinaryMessage:
			c.logger.Debug("Binary messages not supported")
		}
	}
}

// writePump drains the send queue onto the connection and keeps it alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("Write pump stopped")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("Failed to write message", zap.Error(err))
				return
			}

			// Frames stay separate; viewers parse one JSON document per frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.logger.Warn("Failed to write queued message", zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) handleTextMessage(message []byte) {
	message = bytes.TrimSpace(message)
	if string(message) == `{"type":"pong"}` {
		return
	}
	c.logger.Debug("Ignoring message from viewer", zap.Int("bytes", len(message)))
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}
