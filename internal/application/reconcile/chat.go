package reconcile

import (
	"time"

	"github.com/mariamrf/pegasus/internal/application/session"
	"github.com/mariamrf/pegasus/internal/domain/board"
)

// ChatAppender turns chat records into chat lines. Chat is append-only: a
// line is drawn once and never touched again.
type ChatAppender struct {
	colors *ColorBook
	loc    *time.Location
}

// NewChatAppender creates an appender rendering timestamps in loc.
func NewChatAppender(colors *ColorBook, loc *time.Location) *ChatAppender {
	if loc == nil {
		loc = time.Local
	}
	return &ChatAppender{colors: colors, loc: loc}
}

// Append draws rec as the next chat line. senderName is the resolved name;
// consecutive lines by the same name are follow-ups without a header.
func (a *ChatAppender) Append(tx *session.Tx, rec board.Record, senderName string) board.ChatLine {
	if senderName == "" {
		senderName = rec.Sender()
	}

	line := board.ChatLine{
		RecordID:   rec.ID,
		Sender:     rec.Sender(),
		SenderName: senderName,
		FollowUp:   senderName == tx.PrevSender(),
		Color:      a.colors.Color(senderName),
		Markup:     board.Markup(rec.Content),
		CreatedAt:  rec.CreatedAt,
	}
	if !rec.CreatedAt.IsZero() {
		line.Title = board.FormatLongTime(rec.CreatedAt, a.loc)
	}

	tx.SetPrevSender(senderName)
	tx.Emit(board.NewChatAppended(tx.BoardID(), line))
	return line
}

// Scroll ends a batch that appended lines.
func (a *ChatAppender) Scroll(tx *session.Tx, appended int) {
	if appended > 0 {
		tx.Emit(board.NewChatScrolled(tx.BoardID(), appended))
	}
}
