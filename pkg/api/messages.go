package api

import (
	"strings"
)

const (
	// NoneSentinel is the backend's "no error" value, and the position value
	// sent for content that has no place on the canvas.
	NoneSentinel = "None"

	// NothingNew is the poll `error` the backend uses for an empty delta.
	NothingNew = "Nothing new."

	// NoInvite is the invite value sent by authenticated viewers.
	NoInvite = "-1"
)

// Component is one row of the poll delta.
type Component struct {
	ID             FlexString   `json:"id" validate:"required"`
	Content        string       `json:"content"`
	UserID         FlexString   `json:"userID"`
	UserEmail      string       `json:"userEmail"`
	CreatedAt      string       `json:"created_at"`
	LastModifiedAt string       `json:"last_modified_at"`
	LastModifiedBy FlexString   `json:"last_modified_by"`
	Type           string       `json:"type"`
	Position       WirePosition `json:"position"`
	Deleted        FlexBool     `json:"deleted"`
}

// PollResponse is the body of GET /api/board/{b}/components/get.
type PollResponse struct {
	Error    string      `json:"error,omitempty"`
	Messages []Component `json:"messages,omitempty"`
	Locked   FlexBool    `json:"locked"`
	LockedBy FlexString  `json:"lockedBy"`
	Finished FlexBool    `json:"finished,omitempty"`
	Token    string      `json:"token,omitempty"`
}

// Failure returns the backend error, or "" when the poll succeeded. An
// empty delta is a success.
func (p *PollResponse) Failure() string {
	return failure(p.Error, true)
}

// MutationResponse is the body of the create, edit and delete endpoints.
type MutationResponse struct {
	Error       string     `json:"error"`
	Token       string     `json:"token"`
	ComponentID FlexString `json:"componentID,omitempty"`
}

// Failure returns the backend error, or "" when the write was accepted.
func (m *MutationResponse) Failure() string {
	return failure(m.Error, false)
}

// UserResponse is the body of GET /api/user/{id}.
type UserResponse struct {
	Error    string `json:"error"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Failure returns the backend error, or "" when the user was found.
func (u *UserResponse) Failure() string {
	return failure(u.Error, false)
}

// DisplayName prefers the username, then the full name.
func (u *UserResponse) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Name
}

func failure(msg string, nothingNewIsOK bool) string {
	msg = strings.TrimSpace(msg)
	switch {
	case msg == "", msg == NoneSentinel:
		return ""
	case nothingNewIsOK && msg == NothingNew:
		return ""
	default:
		return msg
	}
}
