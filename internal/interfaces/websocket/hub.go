package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
)

const (
	registerBufferSize  = 64
	broadcastBufferSize = 1024
	statsInterval       = 30 * time.Second
)

// Message is the frame sent to viewers.
type Message struct {
	Type      string          `json:"type"`
	Sequence  uint64          `json:"seq,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewMessage marshals data into a frame of the given type.
func NewMessage(messageType string, sequence uint64, data interface{}) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, apperrors.Wrap(err, "websocket.NewMessage", "failed to marshal message data")
	}
	return &Message{
		Type:      messageType,
		Sequence:  sequence,
		Timestamp: time.Now().Unix(),
		Data:      raw,
	}, nil
}

// WelcomeFunc builds the first frame a new connection receives. It runs on
// the hub goroutine, so every broadcast processed afterwards reaches the
// client after it.
type WelcomeFunc func(connectionID string) (*Message, error)

// HubStats counts what the hub did since it started.
type HubStats struct {
	ActiveConnections int64 `json:"activeConnections"`
	MessagesSent      int64 `json:"messagesSent"`
	MessagesDropped   int64 `json:"messagesDropped"`
	SlowClients       int64 `json:"slowClients"`
}

// Hub fans frames out to every connected viewer of the board.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	welcome WelcomeFunc
	metrics *observability.Collector
	logger  *zap.Logger

	statsMu sync.Mutex
	stats   HubStats

	done chan struct{}
}

// NewHub creates a hub. welcome may be nil.
func NewHub(welcome WelcomeFunc, metrics *observability.Collector, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, registerBufferSize),
		unregister: make(chan *Client, registerBufferSize),
		broadcast:  make(chan *Message, broadcastBufferSize),
		welcome:    welcome,
		metrics:    metrics,
		logger:     logger.Named("hub"),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub shutting down")
			h.closeAllConnections()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToAll(message)

		case <-ticker.C:
			h.logStats()
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Broadcast queues message for every viewer. It never blocks: when the
// queue is full the frame is dropped and an Unavailable error returned.
func (h *Hub) Broadcast(message *Message) error {
	select {
	case h.broadcast <- message:
		return nil
	default:
		h.countDropped(1)
		return apperrors.Unavailable(apperrors.CodeViewerBacklog, "broadcast queue full, message dropped").
			WithOperation("websocket.Broadcast").
			WithDetails(message.Type).
			Build()
	}
}

// registerClient adds a connection and sends it its welcome frame.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.statsMu.Lock()
	h.stats.ActiveConnections++
	h.statsMu.Unlock()
	h.metrics.AddViewerConnections(1)

	h.logger.Info("Client registered",
		zap.String("connection_id", client.id),
		zap.Int("connections", count),
	)

	if h.welcome == nil {
		return
	}
	msg, err := h.welcome(client.id)
	if err != nil {
		h.logger.Error("Failed to build welcome message", zap.Error(err))
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal welcome message", zap.Error(err))
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("Welcome message dropped", zap.String("connection_id", client.id))
	}
}

// unregisterClient removes a connection and closes its send queue.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	h.statsMu.Lock()
	h.stats.ActiveConnections--
	h.statsMu.Unlock()
	h.metrics.AddViewerConnections(-1)

	h.logger.Info("Client unregistered",
		zap.String("connection_id", client.id),
		zap.Int("remaining_connections", count),
	)
}

// broadcastToAll sends a frame to every client. Clients whose queue is full
// are dropped.
func (h *Hub) broadcastToAll(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message",
			zap.Error(err),
			zap.String("message_type", message.Type),
		)
		return
	}

	h.mu.RLock()
	var slow []*Client
	sent := 0
	for client := range h.clients {
		select {
		case client.send <- data:
			sent++
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	h.statsMu.Lock()
	h.stats.MessagesSent += int64(sent)
	h.stats.MessagesDropped += int64(len(slow))
	h.stats.SlowClients += int64(len(slow))
	h.statsMu.Unlock()

	for _, client := range slow {
		h.logger.Warn("Closing slow client", zap.String("connection_id", client.id))
		h.unregisterClient(client)
		client.conn.Close()
	}
}

// closeAllConnections closes every connection during shutdown.
func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	closed := len(h.clients)
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
	h.mu.Unlock()

	h.statsMu.Lock()
	h.stats.ActiveConnections = 0
	h.statsMu.Unlock()
	h.metrics.AddViewerConnections(-closed)

	h.logger.Info("All connections closed", zap.Int("closed", closed))
}

func (h *Hub) countDropped(n int) {
	h.statsMu.Lock()
	h.stats.MessagesDropped += int64(n)
	h.statsMu.Unlock()
}

func (h *Hub) logStats() {
	s := h.Stats()
	h.logger.Debug("Hub stats",
		zap.Int64("connections", s.ActiveConnections),
		zap.Int64("sent", s.MessagesSent),
		zap.Int64("dropped", s.MessagesDropped),
	)
}

// Stats returns the current counters.
func (h *Hub) Stats() HubStats {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.stats
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
