package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mariamrf/pegasus/internal/domain/board"
)

// The backend is a thin layer over SQLite rows, so field shapes drift:
// ids come back as numbers, flags as "Y"/"N", positions as whatever string
// the writer stored. The types below absorb that drift at the boundary.

// FlexString decodes a JSON string, number or null into a string.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = FlexString(n.String())
	return nil
}

func (s FlexString) String() string {
	return string(s)
}

// FlexBool decodes true/false, "Y"/"N", "true"/"false", 1/0 and null.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}

	var raw string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		raw = string(data)
	}

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y", "yes", "true", "1":
		*b = true
	case "n", "no", "false", "0", "":
		*b = false
	default:
		return fmt.Errorf("expected boolean flag, got %s", data)
	}
	return nil
}

// WirePosition is a note position as the backend returns it: an object, a
// JSON object inside a string, the string "None", or null. A malformed value
// does not fail the surrounding document; Board reports it so only the one
// row is dropped.
type WirePosition struct {
	Top     float64
	Left    float64
	Present bool

	invalid error
}

func (p *WirePosition) UnmarshalJSON(data []byte) error {
	*p = WirePosition{}
	if err := p.decode(bytes.TrimSpace(data)); err != nil {
		p.invalid = fmt.Errorf("position %s: %w", data, err)
	}
	return nil
}

func (p *WirePosition) decode(data []byte) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		inner = strings.TrimSpace(inner)
		if inner == "" || strings.EqualFold(inner, NoneSentinel) || inner == "null" {
			return nil
		}
		data = []byte(inner)
	}

	var obj struct {
		Top  json.RawMessage `json:"top"`
		Left json.RawMessage `json:"left"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Top == nil || obj.Left == nil {
		return fmt.Errorf("top and left are required")
	}

	top, err := parseCoordinate(obj.Top)
	if err != nil {
		return fmt.Errorf("top: %w", err)
	}
	left, err := parseCoordinate(obj.Left)
	if err != nil {
		return fmt.Errorf("left: %w", err)
	}

	p.Top, p.Left, p.Present = top, left, true
	return nil
}

func (p WirePosition) MarshalJSON() ([]byte, error) {
	if !p.Present {
		return []byte("null"), nil
	}
	return json.Marshal(board.Position{Top: p.Top, Left: p.Left})
}

// Board converts to the domain position, nil when absent.
func (p WirePosition) Board() (*board.Position, error) {
	if p.invalid != nil {
		return nil, p.invalid
	}
	if !p.Present {
		return nil, nil
	}
	pos, err := board.NewPosition(p.Top, p.Left)
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// NewWirePosition wraps a domain position.
func NewWirePosition(pos *board.Position) WirePosition {
	if pos == nil {
		return WirePosition{}
	}
	return WirePosition{Top: pos.Top, Left: pos.Left, Present: true}
}

// parseCoordinate accepts 12, 12.5, "12", "12px".
func parseCoordinate(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "px")
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

// EncodePosition renders a position for the `position` form field. Chat
// lines and notes without a position send the literal "None".
func EncodePosition(pos *board.Position) string {
	if pos == nil {
		return NoneSentinel
	}
	raw, err := json.Marshal(pos)
	if err != nil {
		return NoneSentinel
	}
	return string(raw)
}
