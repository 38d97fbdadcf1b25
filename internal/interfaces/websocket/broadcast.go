package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/domain/board"
)

// TypeConnectionEstablished is the welcome frame. Render events travel
// under their own event type.
const TypeConnectionEstablished = "connection.established"

// Broadcaster forwards render events to the hub. It is registered with the
// event dispatcher and never blocks it.
type Broadcaster struct {
	hub    *Hub
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster for hub.
func NewBroadcaster(hub *Hub, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{hub: hub, logger: logger.Named("broadcaster")}
}

// Handle wraps event in a frame and queues it. A full queue drops the frame
// and reports the error to the dispatcher.
func (b *Broadcaster) Handle(_ context.Context, event board.Event) error {
	h := event.Header()
	msg, err := NewMessage(string(h.Type), h.Sequence, event)
	if err != nil {
		return err
	}
	if err := b.hub.Broadcast(msg); err != nil {
		return err
	}

	b.logger.Debug("Event broadcasted",
		zap.String("event_type", string(h.Type)),
		zap.Uint64("sequence", h.Sequence),
	)
	return nil
}
