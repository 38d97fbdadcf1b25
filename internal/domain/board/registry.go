package board

import "fmt"

// Registry is the ordered set of notes currently rendered for one board.
// It is keyed by ElementID, or by SoftID for notes awaiting acknowledgment.
// Registry does no locking; the owning session serializes access.
type Registry struct {
	elements []*PositionedElement
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{elements: make([]*PositionedElement, 0)}
}

// Add appends a note. A note with the same ElementID or SoftID already
// present is an error; callers remove before re-adding.
func (r *Registry) Add(e *PositionedElement) error {
	if e == nil {
		return fmt.Errorf("registry: nil element")
	}
	if e.ElementID == "" && e.SoftID == "" {
		return fmt.Errorf("registry: element has neither element id nor soft id")
	}
	if e.ElementID != "" && r.indexOf(e.ElementID) >= 0 {
		return fmt.Errorf("registry: element %s already registered", e.ElementID)
	}
	if e.SoftID != "" && r.indexOfSoft(e.SoftID) >= 0 {
		return fmt.Errorf("registry: soft id %s already registered", e.SoftID)
	}
	r.elements = append(r.elements, e)
	return nil
}

// Promote assigns the server id to an ephemeral note.
func (r *Registry) Promote(softID, elementID string) (*PositionedElement, error) {
	i := r.indexOfSoft(softID)
	if i < 0 {
		return nil, fmt.Errorf("registry: no ephemeral element %s", softID)
	}
	if j := r.indexOf(elementID); j >= 0 && j != i {
		return nil, fmt.Errorf("registry: element %s already registered", elementID)
	}
	r.elements[i].ElementID = elementID
	return r.elements[i], nil
}

// Get returns the registered note with this id.
func (r *Registry) Get(elementID string) (*PositionedElement, bool) {
	if i := r.indexOf(elementID); i >= 0 {
		return r.elements[i], true
	}
	return nil, false
}

// GetSoft returns the note with this soft id.
func (r *Registry) GetSoft(softID string) (*PositionedElement, bool) {
	if i := r.indexOfSoft(softID); i >= 0 {
		return r.elements[i], true
	}
	return nil, false
}

// Remove drops the registered note with this id, if present.
func (r *Registry) Remove(elementID string) (*PositionedElement, bool) {
	return r.removeAt(r.indexOf(elementID))
}

// RemoveSoft drops the note with this soft id, if present.
func (r *Registry) RemoveSoft(softID string) (*PositionedElement, bool) {
	return r.removeAt(r.indexOfSoft(softID))
}

// Match reports whether a note with exactly this id, content and committed
// position is registered.
func (r *Registry) Match(elementID, content string, pos *Position) bool {
	e, ok := r.Get(elementID)
	return ok && e.Matches(content, pos)
}

// All returns the notes in insertion order. The slice is a copy; the
// elements are not.
func (r *Registry) All() []*PositionedElement {
	out := make([]*PositionedElement, len(r.elements))
	copy(out, r.elements)
	return out
}

// Len returns the number of notes.
func (r *Registry) Len() int {
	return len(r.elements)
}

func (r *Registry) removeAt(i int) (*PositionedElement, bool) {
	if i < 0 {
		return nil, false
	}
	e := r.elements[i]
	r.elements = append(r.elements[:i], r.elements[i+1:]...)
	return e, true
}

func (r *Registry) indexOf(elementID string) int {
	if elementID == "" {
		return -1
	}
	for i, e := range r.elements {
		if e.ElementID == elementID {
			return i
		}
	}
	return -1
}

func (r *Registry) indexOfSoft(softID string) int {
	if softID == "" {
		return -1
	}
	for i, e := range r.elements {
		if e.SoftID == softID {
			return i
		}
	}
	return -1
}
