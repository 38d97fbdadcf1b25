package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pos(top, left float64) *Position {
	return &Position{Top: top, Left: left}
}

func TestRegistry_AddAndLookup(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Add(NewEphemeral("s1", "draft", pos(1, 2), true)))
	require.NoError(t, r.Add(NewFromRecord(Record{ID: "5", Content: "Hi", Position: pos(10, 20)}, "s2", false)))

	assert.Equal(t, 2, r.Len())

	e, ok := r.GetSoft("s1")
	require.True(t, ok)
	assert.False(t, e.IsRegistered())

	e, ok = r.Get("5")
	require.True(t, ok)
	assert.True(t, e.ServerSourced)
	assert.False(t, e.Editable)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(NewFromRecord(Record{ID: "5"}, "s1", true)))

	assert.Error(t, r.Add(NewFromRecord(Record{ID: "5"}, "s2", true)))
	assert.Error(t, r.Add(NewEphemeral("s1", "x", nil, true)))
	assert.Error(t, r.Add(&PositionedElement{}))
	assert.Error(t, r.Add(nil))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Promote(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(NewEphemeral("s1", "draft", nil, true)))
	require.NoError(t, r.Add(NewFromRecord(Record{ID: "9"}, "s9", true)))

	e, err := r.Promote("s1", "12")
	require.NoError(t, err)
	assert.Equal(t, "12", e.ElementID)

	got, ok := r.Get("12")
	require.True(t, ok)
	assert.Same(t, e, got)

	_, err = r.Promote("nope", "13")
	assert.Error(t, err)

	require.NoError(t, r.Add(NewEphemeral("s2", "other", nil, true)))
	_, err = r.Promote("s2", "9")
	assert.Error(t, err, "promoting onto an existing id must fail")
}

func TestRegistry_Match(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(NewFromRecord(Record{ID: "5", Content: "Hi\nthere", Position: pos(10, 20)}, "s1", true)))

	tests := []struct {
		name    string
		id      string
		content string
		pos     *Position
		want    bool
	}{
		{"identical", "5", "Hi\nthere", pos(10, 20), true},
		{"content changed", "5", "Hi\nthere!", pos(10, 20), false},
		{"position changed", "5", "Hi\nthere", pos(10, 21), false},
		{"position missing", "5", "Hi\nthere", nil, false},
		{"other id", "6", "Hi\nthere", pos(10, 20), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Match(tt.id, tt.content, tt.pos))
		})
	}
}

func TestRegistry_MatchUsesCommittedPosition(t *testing.T) {
	r := NewRegistry()
	e := NewFromRecord(Record{ID: "5", Content: "Hi", Position: pos(10, 20)}, "s1", true)
	require.NoError(t, r.Add(e))

	// drag in progress: drawn elsewhere, nothing committed yet
	e.Position = pos(50, 60)
	assert.True(t, r.Match("5", "Hi", pos(10, 20)))

	e.MoveTo(pos(50, 60))
	assert.False(t, r.Match("5", "Hi", pos(10, 20)))
	assert.True(t, r.Match("5", "Hi", pos(50, 60)))
}

func TestRegistry_RemoveKeepsOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, r.Add(NewFromRecord(Record{ID: id}, "s"+id, true)))
	}

	removed, ok := r.Remove("2")
	require.True(t, ok)
	assert.Equal(t, "2", removed.ElementID)

	_, ok = r.Remove("2")
	assert.False(t, ok)

	ids := []string{}
	for _, e := range r.All() {
		ids = append(ids, e.ElementID)
	}
	assert.Equal(t, []string{"1", "3"}, ids)

	_, ok = r.RemoveSoft("s1")
	assert.True(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestElement_CloneIsIndependent(t *testing.T) {
	e := NewEphemeral("s1", "a", pos(1, 1), true)
	c := e.Clone()
	c.Position.Top = 99
	c.Committed.Left = 99

	assert.Equal(t, 1.0, e.Position.Top)
	assert.Equal(t, 1.0, e.Committed.Left)
}
