package api

import (
	"net/url"
	"strconv"

	"github.com/mariamrf/pegasus/internal/domain/board"
)

// Form field names used by the backend.
const (
	FieldCSRFToken   = "_csrf_token"
	FieldInvite      = "invite"
	FieldContentType = "content-type"
	FieldMessage     = "message"
	FieldPosition    = "position"
	FieldHasMessages = "hasMessages"
)

// CreateRequest posts a new component.
type CreateRequest struct {
	Token    string
	Invite   string
	Kind     board.RecordKind
	Message  string
	Position *board.Position
}

// Form encodes the request body.
func (r CreateRequest) Form() url.Values {
	form := url.Values{}
	form.Set(FieldCSRFToken, r.Token)
	form.Set(FieldInvite, inviteOrDefault(r.Invite))
	form.Set(FieldContentType, r.Kind.WireType())
	form.Set(FieldMessage, r.Message)
	form.Set(FieldPosition, EncodePosition(r.Position))
	return form
}

// EditRequest changes either the content or the position of a component,
// never both: a move must not resend the content.
type EditRequest struct {
	Token    string
	Invite   string
	Kind     board.RecordKind
	Message  *string
	Position *board.Position
}

// HasMessages reports whether this edit carries content.
func (r EditRequest) HasMessages() bool {
	return r.Message != nil
}

// Form encodes the request body.
func (r EditRequest) Form() url.Values {
	form := url.Values{}
	form.Set(FieldCSRFToken, r.Token)
	form.Set(FieldInvite, inviteOrDefault(r.Invite))
	form.Set(FieldContentType, r.Kind.WireType())
	form.Set(FieldHasMessages, strconv.FormatBool(r.HasMessages()))
	if r.HasMessages() {
		form.Set(FieldMessage, *r.Message)
	} else {
		form.Set(FieldPosition, EncodePosition(r.Position))
	}
	return form
}

// DeleteRequest removes a component.
type DeleteRequest struct {
	Token  string
	Invite string
}

// Form encodes the request body.
func (r DeleteRequest) Form() url.Values {
	form := url.Values{}
	form.Set(FieldCSRFToken, r.Token)
	form.Set(FieldInvite, inviteOrDefault(r.Invite))
	return form
}

// PollQuery builds the poll query string.
func PollQuery(invite string, since board.Watermark) url.Values {
	q := url.Values{}
	q.Set(FieldInvite, inviteOrDefault(invite))
	q.Set("lastModified", since.String())
	return q
}

func inviteOrDefault(invite string) string {
	if invite == "" {
		return NoInvite
	}
	return invite
}
