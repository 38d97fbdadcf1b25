package session

import (
	"net/url"
	"strings"

	"github.com/mariamrf/pegasus/pkg/api"
)

// Actor says how writes are attributed.
type Actor int

const (
	// ActorAnonymous has neither a login nor an invite; the backend refuses
	// every call.
	ActorAnonymous Actor = iota
	// ActorAuthenticated writes as the logged-in user id.
	ActorAuthenticated
	// ActorInvite writes as the email the invite was sent to.
	ActorInvite
)

func (a Actor) String() string {
	switch a {
	case ActorAuthenticated:
		return "authenticated"
	case ActorInvite:
		return "invite"
	default:
		return "anonymous"
	}
}

// Identity is the viewer as configured.
type Identity struct {
	Username string
	Email    string
}

// InviteSession is the invite code a board page was opened with, plus who
// the viewer is.
type InviteSession struct {
	token    string
	identity Identity
}

// ResolveInvite reads the invite query parameter of pageURL, matching the
// name case-insensitively. Without one the token is "-1".
func ResolveInvite(pageURL string, identity Identity) InviteSession {
	s := InviteSession{token: api.NoInvite, identity: identity}

	u, err := url.Parse(pageURL)
	if err != nil {
		return s
	}
	for key, values := range u.Query() {
		if !strings.EqualFold(key, "invite") {
			continue
		}
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				s.token = v
				return s
			}
		}
	}
	return s
}

// Token accompanies every request.
func (s InviteSession) Token() string {
	return s.token
}

// HasInvite reports whether the page carried an invite code.
func (s InviteSession) HasInvite() bool {
	return s.token != api.NoInvite
}

// Actor reports how the backend will attribute writes. A login wins over an
// invite, as it does on the backend.
func (s InviteSession) Actor() Actor {
	switch {
	case s.identity.Username != "":
		return ActorAuthenticated
	case s.HasInvite():
		return ActorInvite
	default:
		return ActorAnonymous
	}
}

// Whoami is the sender name the viewer's own chat lines carry: the
// username, else the email.
func (s InviteSession) Whoami() string {
	if s.identity.Username != "" {
		return s.identity.Username
	}
	return s.identity.Email
}

// Identity returns the configured viewer.
func (s InviteSession) Identity() Identity {
	return s.identity
}
