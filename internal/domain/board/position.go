package board

import (
	"fmt"
	"math"
)

// Position is the top/left offset of a note on the board canvas.
// Equality is exact; two positions that differ by any amount are different.
type Position struct {
	Top  float64 `json:"top"`
	Left float64 `json:"left"`
}

// NewPosition creates a position, rejecting non-finite coordinates.
func NewPosition(top, left float64) (Position, error) {
	if !isValidCoordinate(top) || !isValidCoordinate(left) {
		return Position{}, fmt.Errorf("invalid position (%v, %v): coordinates must be finite", top, left)
	}
	return Position{Top: top, Left: left}, nil
}

// Equals reports exact structural equality.
func (p Position) Equals(other Position) bool {
	return p == other
}

func (p Position) String() string {
	return fmt.Sprintf("(%g, %g)", p.Top, p.Left)
}

// SamePosition compares optional positions; two absent positions are equal.
func SamePosition(a, b *Position) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(*b)
}

// ClonePosition copies an optional position so callers never share storage.
func ClonePosition(p *Position) *Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func isValidCoordinate(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
