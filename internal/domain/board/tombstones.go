package board

// Tombstones remembers which note ids are gone.
//
// A server deletion is remembered at the watermark it happened; a later row
// for the same id is only allowed back if it is strictly newer. A deletion
// this client performed itself is final: the backend refuses to touch a
// deleted row, so any later non-deleted row for that id is stale.
type Tombstones struct {
	entries map[string]tombstone
}

type tombstone struct {
	at    Watermark
	final bool
}

// NewTombstones creates an empty ledger.
func NewTombstones() *Tombstones {
	return &Tombstones{entries: make(map[string]tombstone)}
}

// Bury records a server-reported deletion of id at watermark at. A deletion
// without a usable timestamp cannot be ordered and is treated as final.
func (t *Tombstones) Bury(id string, at Watermark) {
	if at.IsInitial() {
		t.BuryFinal(id)
		return
	}
	cur, ok := t.entries[id]
	if ok && (cur.final || !at.After(cur.at)) {
		return
	}
	t.entries[id] = tombstone{at: at}
}

// BuryFinal records a deletion this client performed.
func (t *Tombstones) BuryFinal(id string) {
	t.entries[id] = tombstone{final: true}
}

// Suppresses reports whether a non-deleted row for id modified at
// lastModified must be ignored.
func (t *Tombstones) Suppresses(id string, lastModified Watermark) bool {
	cur, ok := t.entries[id]
	if !ok {
		return false
	}
	if cur.final {
		return true
	}
	return !lastModified.After(cur.at)
}

// Forget drops the entry for id once a strictly newer row brought it back.
func (t *Tombstones) Forget(id string) {
	if cur, ok := t.entries[id]; ok && !cur.final {
		delete(t.entries, id)
	}
}

// Has reports whether id has a tombstone.
func (t *Tombstones) Has(id string) bool {
	_, ok := t.entries[id]
	return ok
}

// Len returns the number of tombstones.
func (t *Tombstones) Len() int {
	return len(t.entries)
}

// Each calls fn for every tombstone, in no particular order.
func (t *Tombstones) Each(fn func(id string, at Watermark, final bool)) {
	for id, ts := range t.entries {
		fn(id, ts.at, ts.final)
	}
}
