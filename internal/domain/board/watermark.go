package board

import (
	"strings"
	"time"
)

// InitialWatermarkValue is what the first poll sends: every row is newer.
const InitialWatermarkValue = "0"

// watermarkLayouts are the timestamp shapes the backend is known to emit.
// SQLite hands back whatever was stored, which is either a Python datetime
// rendered with a space separator or an ISO string.
var watermarkLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Watermark is the last-seen modification timestamp. It keeps the raw string
// because the backend compares watermarks textually, and the parsed time for
// ordering on this side.
type Watermark struct {
	raw string
	at  time.Time
	ok  bool
}

// InitialWatermark returns the watermark of a client that has seen nothing.
func InitialWatermark() Watermark {
	return Watermark{raw: InitialWatermarkValue}
}

// ParseWatermark wraps a raw server timestamp. Unparseable values are kept
// and ordered textually against each other.
func ParseWatermark(raw string) Watermark {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == InitialWatermarkValue {
		return InitialWatermark()
	}
	for _, layout := range watermarkLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Watermark{raw: raw, at: t.UTC(), ok: true}
		}
	}
	return Watermark{raw: raw}
}

// String returns the value to send back as `lastModified`.
func (w Watermark) String() string {
	if w.raw == "" {
		return InitialWatermarkValue
	}
	return w.raw
}

// Time returns the parsed timestamp, zero if the raw value did not parse.
func (w Watermark) Time() time.Time {
	return w.at
}

// IsInitial reports whether nothing has been seen yet.
func (w Watermark) IsInitial() bool {
	return w.raw == "" || w.raw == InitialWatermarkValue
}

// After reports whether w is strictly newer than other.
func (w Watermark) After(other Watermark) bool {
	switch {
	case w.IsInitial():
		return false
	case other.IsInitial():
		return true
	case w.ok && other.ok:
		return w.at.After(other.at)
	default:
		return w.raw > other.raw
	}
}

// Advance moves the watermark forward to candidate if candidate is newer.
// It never moves backwards and reports whether it moved.
func (w *Watermark) Advance(candidate Watermark) bool {
	if !candidate.After(*w) {
		return false
	}
	*w = candidate
	return true
}
