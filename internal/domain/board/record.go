package board

import (
	"strings"
	"time"
)

// RecordKind discriminates board content. It is decoded once at the wire
// boundary; everything past the decoder switches on the kind, never on the
// raw type string.
type RecordKind int

const (
	// KindOther covers content types this client does not render.
	KindOther RecordKind = iota
	// KindChat is a chat line. Chat is append-only and never positioned.
	KindChat
	// KindText is a positioned, editable text note.
	KindText
)

// ParseKind maps the wire `type` field to a kind.
func ParseKind(raw string) RecordKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "chat":
		return KindChat
	case "text":
		return KindText
	default:
		return KindOther
	}
}

// WireType is the value sent as `content-type` on writes.
func (k RecordKind) WireType() string {
	switch k {
	case KindChat:
		return "chat"
	case KindText:
		return "text"
	default:
		return ""
	}
}

func (k RecordKind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindText:
		return "text"
	default:
		return "other"
	}
}

// Record is one row of a poll delta after boundary decoding.
type Record struct {
	ID      string
	Kind    RecordKind
	RawType string
	Content string

	// Position is nil for chat lines and for notes the server holds no
	// position for.
	Position *Position

	AuthorID    string
	AuthorEmail string

	CreatedAt      time.Time
	LastModified   Watermark
	LastModifiedBy string

	// Deleted means the server has tombstoned this id. Nothing else on the
	// record is trustworthy once it is set.
	Deleted bool
}

// Sender returns the raw identity of the author: the user id for
// authenticated authors, the email for invited ones.
func (r Record) Sender() string {
	if r.AuthorID != "" {
		return r.AuthorID
	}
	return r.AuthorEmail
}

// HasUserID reports whether the sender needs display-name resolution.
func (r Record) HasUserID() bool {
	return r.AuthorID != ""
}
