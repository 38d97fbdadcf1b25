package board

import "time"

// EventType names a render operation.
type EventType string

const (
	EventElementRendered     EventType = "element.rendered"
	EventElementRemoved      EventType = "element.removed"
	EventElementMoved        EventType = "element.moved"
	EventChatAppended        EventType = "chat.appended"
	EventChatScrolled        EventType = "chat.scrolled"
	EventInteractionDisabled EventType = "interaction.disabled"
	EventInteractionEnabled  EventType = "interaction.enabled"
	EventErrorRaised         EventType = "error.raised"
	EventErrorDismissed      EventType = "error.dismissed"
)

// Event is a render operation produced by reconciliation or by a lifecycle
// operation. Renderers subscribe to events instead of being called directly.
type Event interface {
	Header() *BaseEvent
}

// BaseEvent carries the fields every event has. ID and Sequence are filled
// in by the dispatcher.
type BaseEvent struct {
	ID        string    `json:"id"`
	Sequence  uint64    `json:"seq"`
	Type      EventType `json:"type"`
	BoardID   string    `json:"boardId"`
	Timestamp time.Time `json:"timestamp"`
}

// Header returns the common fields.
func (b *BaseEvent) Header() *BaseEvent {
	return b
}

func newBase(t EventType, boardID string) BaseEvent {
	return BaseEvent{Type: t, BoardID: boardID, Timestamp: time.Now().UTC()}
}

// ElementRendered draws a note, replacing nothing: any previous drawing for
// the same id was removed by an ElementRemoved first.
type ElementRendered struct {
	BaseEvent
	ElementID     string    `json:"elementId"`
	SoftID        string    `json:"softId"`
	Content       string    `json:"content"`
	Markup        string    `json:"markup"`
	Position      *Position `json:"position,omitempty"`
	Editable      bool      `json:"editable"`
	ServerSourced bool      `json:"serverSourced"`
}

// NewElementRendered describes the current state of e.
func NewElementRendered(boardID string, e *PositionedElement) *ElementRendered {
	return &ElementRendered{
		BaseEvent:     newBase(EventElementRendered, boardID),
		ElementID:     e.ElementID,
		SoftID:        e.SoftID,
		Content:       e.Content,
		Markup:        e.Markup(),
		Position:      ClonePosition(e.Position),
		Editable:      e.Editable,
		ServerSourced: e.ServerSourced,
	}
}

// RemoveReason says why a drawing went away.
type RemoveReason string

const (
	RemovedByServer    RemoveReason = "deleted"
	RemovedForReplace  RemoveReason = "replaced"
	RemovedByViewer    RemoveReason = "viewer_deleted"
	RemovedCreateAbort RemoveReason = "create_failed"
)

// ElementRemoved erases a note's drawing.
type ElementRemoved struct {
	BaseEvent
	ElementID string       `json:"elementId,omitempty"`
	SoftID    string       `json:"softId,omitempty"`
	Reason    RemoveReason `json:"reason"`
}

// NewElementRemoved describes the removal of e.
func NewElementRemoved(boardID string, e *PositionedElement, reason RemoveReason) *ElementRemoved {
	return &ElementRemoved{
		BaseEvent: newBase(EventElementRemoved, boardID),
		ElementID: e.ElementID,
		SoftID:    e.SoftID,
		Reason:    reason,
	}
}

// ElementMoved repositions a drawn note without redrawing its content.
type ElementMoved struct {
	BaseEvent
	ElementID string    `json:"elementId"`
	Position  *Position `json:"position"`
	Reverted  bool      `json:"reverted"`
}

// NewElementMoved describes a note now drawn at its current position.
func NewElementMoved(boardID string, e *PositionedElement, reverted bool) *ElementMoved {
	return &ElementMoved{
		BaseEvent: newBase(EventElementMoved, boardID),
		ElementID: e.ElementID,
		Position:  ClonePosition(e.Position),
		Reverted:  reverted,
	}
}

// ChatLine is one rendered chat message.
type ChatLine struct {
	RecordID   string    `json:"recordId"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"senderName"`
	FollowUp   bool      `json:"followUp"`
	Color      string    `json:"color"`
	Title      string    `json:"title"`
	Markup     string    `json:"markup"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ChatAppended adds a line to the chat surface.
type ChatAppended struct {
	BaseEvent
	Line ChatLine `json:"line"`
}

// NewChatAppended wraps a chat line.
func NewChatAppended(boardID string, line ChatLine) *ChatAppended {
	return &ChatAppended{BaseEvent: newBase(EventChatAppended, boardID), Line: line}
}

// ChatScrolled scrolls the chat surface to its newest line.
type ChatScrolled struct {
	BaseEvent
	Appended int `json:"appended"`
}

// NewChatScrolled is emitted once per batch that appended lines.
func NewChatScrolled(boardID string, appended int) *ChatScrolled {
	return &ChatScrolled{BaseEvent: newBase(EventChatScrolled, boardID), Appended: appended}
}

// InteractionDisabled greys out the board and its tools.
type InteractionDisabled struct {
	BaseEvent
	Reason DisableReason `json:"reason"`
	By     string        `json:"by,omitempty"`
	Notice string        `json:"notice,omitempty"`
}

// NewInteractionDisabled describes why interaction stopped.
func NewInteractionDisabled(boardID string, reason DisableReason, lock LockState) *InteractionDisabled {
	ev := &InteractionDisabled{BaseEvent: newBase(EventInteractionDisabled, boardID), Reason: reason}
	if reason == ReasonLocked {
		ev.By = lock.LockedByName
		ev.Notice = lock.Notice()
	}
	return ev
}

// InteractionEnabled restores interaction after a lock was released.
type InteractionEnabled struct {
	BaseEvent
}

// NewInteractionEnabled creates the event.
func NewInteractionEnabled(boardID string) *InteractionEnabled {
	return &InteractionEnabled{BaseEvent: newBase(EventInteractionEnabled, boardID)}
}

// ErrorRaised shows a dismissible error banner.
type ErrorRaised struct {
	BaseEvent
	BannerID  string `json:"bannerId"`
	Operation string `json:"operation"`
	ElementID string `json:"elementId,omitempty"`
	Message   string `json:"message"`
}

// NewErrorRaised creates a banner event.
func NewErrorRaised(boardID, bannerID, operation, elementID, message string) *ErrorRaised {
	return &ErrorRaised{
		BaseEvent: newBase(EventErrorRaised, boardID),
		BannerID:  bannerID,
		Operation: operation,
		ElementID: elementID,
		Message:   message,
	}
}

// ErrorDismissed hides a banner.
type ErrorDismissed struct {
	BaseEvent
	BannerID string `json:"bannerId"`
}

// NewErrorDismissed creates the event.
func NewErrorDismissed(boardID, bannerID string) *ErrorDismissed {
	return &ErrorDismissed{BaseEvent: newBase(EventErrorDismissed, boardID), BannerID: bannerID}
}
