// Package surface keeps the rendered board in memory: the notes as drawn,
// the chat log, the open error banners and whether the board accepts
// interaction. It is built only from render events, so it shows exactly
// what a browser subscribed to the same events would show.
package surface

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/domain/board"
)

// Note is a drawn text note.
type Note struct {
	ElementID     string          `json:"elementId,omitempty"`
	SoftID        string          `json:"softId"`
	Content       string          `json:"content"`
	Markup        string          `json:"markup"`
	Position      *board.Position `json:"position,omitempty"`
	Editable      bool            `json:"editable"`
	ServerSourced bool            `json:"serverSourced"`
	DrawnAt       time.Time       `json:"drawnAt"`
}

// Banner is an error banner on screen.
type Banner struct {
	ID        string `json:"id"`
	Operation string `json:"operation"`
	ElementID string `json:"elementId,omitempty"`
	Message   string `json:"message"`
}

// Interaction is the enabled/disabled state of the board tools.
type Interaction struct {
	Enabled bool                `json:"enabled"`
	Reason  board.DisableReason `json:"reason,omitempty"`
	By      string              `json:"by,omitempty"`
	Notice  string              `json:"notice,omitempty"`
}

// View is a copy of everything on screen.
type View struct {
	BoardID     string           `json:"boardId"`
	Sequence    uint64           `json:"seq"`
	Notes       []Note           `json:"notes"`
	Chat        []board.ChatLine `json:"chat"`
	Banners     []Banner         `json:"banners"`
	Interaction Interaction      `json:"interaction"`
	Scrolls     int              `json:"scrolls"`
}

// Surface is an events.Handler that maintains the rendered board.
type Surface struct {
	boardID string
	logger  *zap.Logger

	mu          sync.RWMutex
	notes       map[string]*Note // soft id -> note
	byElement   map[string]string
	chat        []board.ChatLine
	banners     map[string]Banner
	interaction Interaction
	scrolls     int
	sequence    uint64
}

// New creates an empty surface. A new board accepts interaction until told
// otherwise.
func New(boardID string, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surface{
		boardID:     boardID,
		logger:      logger.Named("surface"),
		notes:       make(map[string]*Note),
		byElement:   make(map[string]string),
		banners:     make(map[string]Banner),
		interaction: Interaction{Enabled: true},
	}
}

// Handle applies one render event.
func (s *Surface) Handle(_ context.Context, event board.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq := event.Header().Sequence; seq > s.sequence {
		s.sequence = seq
	}

	switch e := event.(type) {
	case *board.ElementRendered:
		s.draw(e)
	case *board.ElementRemoved:
		s.erase(e.ElementID, e.SoftID)
	case *board.ElementMoved:
		if n := s.lookup(e.ElementID, ""); n != nil {
			n.Position = board.ClonePosition(e.Position)
		}
	case *board.ChatAppended:
		s.chat = append(s.chat, e.Line)
	case *board.ChatScrolled:
		s.scrolls++
	case *board.InteractionDisabled:
		s.interaction = Interaction{Reason: e.Reason, By: e.By, Notice: e.Notice}
	case *board.InteractionEnabled:
		s.interaction = Interaction{Enabled: true}
	case *board.ErrorRaised:
		s.banners[e.BannerID] = Banner{ID: e.BannerID, Operation: e.Operation, ElementID: e.ElementID, Message: e.Message}
	case *board.ErrorDismissed:
		delete(s.banners, e.BannerID)
	default:
		s.logger.Debug("Ignoring render event", zap.String("event_type", string(event.Header().Type)))
	}
	return nil
}

func (s *Surface) draw(e *board.ElementRendered) {
	key := e.SoftID
	if key == "" {
		key = e.ElementID
	}
	if prev := s.lookup(e.ElementID, e.SoftID); prev != nil {
		// a render always follows a remove; a second drawing is a bug upstream
		s.logger.Warn("Note drawn twice",
			zap.String("element_id", e.ElementID),
			zap.String("soft_id", e.SoftID),
		)
		s.erase(prev.ElementID, prev.SoftID)
	}

	s.notes[key] = &Note{
		ElementID:     e.ElementID,
		SoftID:        e.SoftID,
		Content:       e.Content,
		Markup:        e.Markup,
		Position:      board.ClonePosition(e.Position),
		Editable:      e.Editable,
		ServerSourced: e.ServerSourced,
		DrawnAt:       e.Timestamp,
	}
	if e.ElementID != "" {
		s.byElement[e.ElementID] = key
	}
}

func (s *Surface) erase(elementID, softID string) {
	n := s.lookup(elementID, softID)
	if n == nil {
		return
	}
	key := n.SoftID
	if key == "" {
		key = n.ElementID
	}
	delete(s.notes, key)
	if n.ElementID != "" {
		delete(s.byElement, n.ElementID)
	}
}

func (s *Surface) lookup(elementID, softID string) *Note {
	if elementID != "" {
		if key, ok := s.byElement[elementID]; ok {
			return s.notes[key]
		}
	}
	if softID != "" {
		return s.notes[softID]
	}
	return nil
}

// ============================================================================
// READS
// ============================================================================

// View copies the current screen. Notes are ordered by element id, then
// soft id; banners by id.
func (s *Surface) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		BoardID:     s.boardID,
		Sequence:    s.sequence,
		Notes:       make([]Note, 0, len(s.notes)),
		Chat:        make([]board.ChatLine, len(s.chat)),
		Banners:     make([]Banner, 0, len(s.banners)),
		Interaction: s.interaction,
		Scrolls:     s.scrolls,
	}
	for _, n := range s.notes {
		cp := *n
		cp.Position = board.ClonePosition(n.Position)
		v.Notes = append(v.Notes, cp)
	}
	sort.Slice(v.Notes, func(i, j int) bool {
		if v.Notes[i].ElementID != v.Notes[j].ElementID {
			return v.Notes[i].ElementID < v.Notes[j].ElementID
		}
		return v.Notes[i].SoftID < v.Notes[j].SoftID
	})
	copy(v.Chat, s.chat)
	for _, b := range s.banners {
		v.Banners = append(v.Banners, b)
	}
	sort.Slice(v.Banners, func(i, j int) bool { return v.Banners[i].ID < v.Banners[j].ID })
	return v
}

// Note returns the drawn note for elementID.
func (s *Surface) Note(elementID string) (Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.lookup(elementID, "")
	if n == nil {
		return Note{}, false
	}
	cp := *n
	cp.Position = board.ClonePosition(n.Position)
	return cp, true
}

// Chat returns the chat log, oldest first.
func (s *Surface) Chat() []board.ChatLine {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]board.ChatLine, len(s.chat))
	copy(out, s.chat)
	return out
}

// NoteCount returns how many notes are drawn.
func (s *Surface) NoteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}
