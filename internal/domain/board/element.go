package board

// PositionedElement is one text note as this client renders it.
//
// A note starts ephemeral, known only by its SoftID while the create request
// is in flight. The backend's acknowledgment promotes it to a registered note
// with a stable ElementID. From then on it is mutated in place until it is
// removed, and a removed note is never brought back under the same id.
type PositionedElement struct {
	SoftID    string
	ElementID string
	Content   string

	// Position is where the note is drawn right now.
	Position *Position
	// Committed is the last position this client wrote or accepted from the
	// server. Reconciliation compares incoming rows against it, so a poll
	// that still carries the pre-move position cannot drag a note back.
	Committed *Position

	Editable      bool
	ServerSourced bool
}

// NewEphemeral creates a note that exists only locally.
func NewEphemeral(softID, content string, pos *Position, editable bool) *PositionedElement {
	return &PositionedElement{
		SoftID:    softID,
		Content:   content,
		Position:  ClonePosition(pos),
		Committed: ClonePosition(pos),
		Editable:  editable,
	}
}

// NewFromRecord creates a registered note from a server row. Editability is
// the viewer's, never the author's.
func NewFromRecord(rec Record, softID string, editable bool) *PositionedElement {
	return &PositionedElement{
		SoftID:        softID,
		ElementID:     rec.ID,
		Content:       rec.Content,
		Position:      ClonePosition(rec.Position),
		Committed:     ClonePosition(rec.Position),
		Editable:      editable,
		ServerSourced: true,
	}
}

// IsRegistered reports whether the backend has acknowledged the note.
func (e *PositionedElement) IsRegistered() bool {
	return e.ElementID != ""
}

// Markup is the rendered content with line breaks.
func (e *PositionedElement) Markup() string {
	return Markup(e.Content)
}

// Matches reports whether the note already shows exactly this content at
// this committed position.
func (e *PositionedElement) Matches(content string, pos *Position) bool {
	return e.Content == content && SamePosition(e.Committed, pos)
}

// MoveTo sets both the drawn and the committed position.
func (e *PositionedElement) MoveTo(pos *Position) {
	e.Position = ClonePosition(pos)
	e.Committed = ClonePosition(pos)
}

// Clone returns a copy that shares no storage with e.
func (e *PositionedElement) Clone() *PositionedElement {
	c := *e
	c.Position = ClonePosition(e.Position)
	c.Committed = ClonePosition(e.Committed)
	return &c
}
