// Package events fans render events out to observers: the in-memory surface,
// the viewer hub and the event log. Rendering is decoupled from
// reconciliation; the reconciler only ever publishes.
package events

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/domain/board"
)

// Handler processes render events. Handlers run synchronously and in
// publication order, so they must not block; anything slow belongs behind
// the handler's own queue.
type Handler interface {
	Handle(ctx context.Context, event board.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event board.Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event board.Event) error {
	return f(ctx, event)
}

type subscription struct {
	id      uint64
	name    string
	handler Handler
	types   map[board.EventType]bool
}

func (s *subscription) wants(t board.EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Dispatcher stamps events with an id and a per-board sequence number and
// delivers them to every matching subscriber.
type Dispatcher struct {
	mu       sync.Mutex
	subs     []*subscription
	nextSub  uint64
	sequence uint64
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher with no subscribers.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger}
}

// Subscribe registers handler for the given event types (all types when
// none are given). The returned function unsubscribes.
func (d *Dispatcher) Subscribe(name string, handler Handler, types ...board.EventType) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextSub++
	sub := &subscription{id: d.nextSub, name: name, handler: handler}
	if len(types) > 0 {
		sub.types = make(map[board.EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	d.subs = append(d.subs, sub)

	d.logger.Debug("Event handler subscribed",
		zap.String("subscriber", name),
		zap.Int("total_handlers", len(d.subs)),
	)

	return func() { d.unsubscribe(sub.id) }
}

func (d *Dispatcher) unsubscribe(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, s := range d.subs {
		if s.id == id {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

// Publish stamps and delivers events in order. Handler errors are logged
// and do not stop delivery to other handlers.
func (d *Dispatcher) Publish(ctx context.Context, events ...board.Event) {
	if len(events) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, event := range events {
		header := event.Header()
		d.sequence++
		header.Sequence = d.sequence
		if header.ID == "" {
			header.ID = ulid.Make().String()
		}

		for _, sub := range d.subs {
			if !sub.wants(header.Type) {
				continue
			}
			if err := sub.handler.Handle(ctx, event); err != nil {
				d.logger.Warn("Event handler failed",
					zap.String("subscriber", sub.name),
					zap.String("event_type", string(header.Type)),
					zap.Uint64("sequence", header.Sequence),
					zap.Error(err),
				)
			}
		}
	}
}

// Sequence returns the last assigned sequence number.
func (d *Dispatcher) Sequence() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sequence
}

// HandlerCount returns the number of subscribers.
func (d *Dispatcher) HandlerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Recorder collects every event it sees. Useful for tests and for the
// structured event log.
type Recorder struct {
	mu     sync.Mutex
	events []board.Event
}

// Handle stores event.
func (r *Recorder) Handle(_ context.Context, event board.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []board.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]board.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(t board.EventType) []board.Event {
	var out []board.Event
	for _, e := range r.Events() {
		if e.Header().Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// LogHandler writes each event to logger at debug level.
func LogHandler(logger *zap.Logger) Handler {
	return HandlerFunc(func(_ context.Context, event board.Event) error {
		h := event.Header()
		logger.Debug("Render event",
			zap.String("event_type", string(h.Type)),
			zap.Uint64("sequence", h.Sequence),
			zap.String("event_id", h.ID),
			zap.Any("event", event),
		)
		return nil
	})
}
