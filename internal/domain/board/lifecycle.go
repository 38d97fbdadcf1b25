package board

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// LockState is what the latest poll said about the board's edit lock. It is
// rebuilt from every response and never carried between polls.
type LockState struct {
	Locked bool
	// LockedBy is the raw identifier the backend reported.
	LockedBy string
	// LockedByName is the resolved display name, or LockedBy when the
	// lookup failed.
	LockedByName string
}

// UnknownEditor names the lock holder when the backend did not say who.
const UnknownEditor = "Someone"

// Notice is the banner text shown while someone else holds the lock.
func (l LockState) Notice() string {
	if !l.Locked {
		return ""
	}
	name := l.LockedByName
	if name == "" {
		name = l.LockedBy
	}
	if name == "" {
		name = UnknownEditor
	}
	return name + " is editing..."
}

// DisableReason says why interaction is off.
type DisableReason string

const (
	ReasonLocked   DisableReason = "locked"
	ReasonFinished DisableReason = "finished"
)

// Interaction tracks whether the viewer may currently edit the board.
// Finished is terminal: once set nothing re-enables interaction.
type Interaction struct {
	finished bool
	locked   bool
}

// Finish disables interaction for good.
func (i *Interaction) Finish() {
	i.finished = true
}

// SetLocked records the latest lock state.
func (i *Interaction) SetLocked(locked bool) {
	i.locked = locked
}

// Enabled reports whether the viewer may interact.
func (i Interaction) Enabled() bool {
	return !i.finished && !i.locked
}

// Finished reports whether the board is permanently finished.
func (i Interaction) Finished() bool {
	return i.finished
}

// Reason returns why interaction is disabled, or "" when it is enabled.
func (i Interaction) Reason() DisableReason {
	switch {
	case i.finished:
		return ReasonFinished
	case i.locked:
		return ReasonLocked
	default:
		return ""
	}
}

// Go layouts have no ordinal day directive, so the long form
// "Monday, January 2nd 2006, 3:04:05 pm" is assembled around it.
const (
	longTimePrefix = "Monday, January "
	longTimeSuffix = " 2006, 3:04:05 pm"
)

// FormatLongTime renders t in loc with an ordinal day. It is the tooltip
// format of chat lines and of the board expiry notice.
func FormatLongTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(longTimePrefix) + humanize.Ordinal(t.Day()) + t.Format(longTimeSuffix)
}

// ExpiryDescription is the tooltip describing when the board closes,
// e.g. "Expires 3 days from now.\nOn Monday, ..." or "Expired on Monday, ...".
func ExpiryDescription(doneAt, now time.Time, finished bool, loc *time.Location) string {
	when := FormatLongTime(doneAt, loc)
	if finished || !now.Before(doneAt) {
		return "Expired on " + when
	}
	return fmt.Sprintf("Expires %s.\nOn %s", humanize.RelTime(doneAt, now, "ago", "from now"), when)
}
