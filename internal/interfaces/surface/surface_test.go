package surface

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/application/events"
	"github.com/mariamrf/pegasus/internal/domain/board"
)

func registered(id, soft, content string, top, left float64) *board.PositionedElement {
	return board.NewFromRecord(board.Record{
		ID:       id,
		Content:  content,
		Position: &board.Position{Top: top, Left: left},
	}, soft, true)
}

func newWired(t *testing.T) (*Surface, *events.Dispatcher) {
	t.Helper()
	d := events.NewDispatcher(zap.NewNop())
	s := New("7", zap.NewNop())
	d.Subscribe("surface", s)
	return s, d
}

func TestSurface_NotesFollowEvents(t *testing.T) {
	s, d := newWired(t)
	ctx := context.Background()

	note := registered("1", "soft-1", "Hi\nthere", 10, 20)
	d.Publish(ctx, board.NewElementRendered("7", note))

	got, ok := s.Note("1")
	require.True(t, ok)
	assert.Equal(t, "Hi<br>there", got.Markup)
	assert.Equal(t, &board.Position{Top: 10, Left: 20}, got.Position)
	assert.True(t, got.ServerSourced)

	note.Position = &board.Position{Top: 30, Left: 40}
	d.Publish(ctx, board.NewElementMoved("7", note, false))
	got, _ = s.Note("1")
	assert.Equal(t, &board.Position{Top: 30, Left: 40}, got.Position)

	d.Publish(ctx,
		board.NewElementRemoved("7", note, board.RemovedForReplace),
		board.NewElementRendered("7", registered("1", "soft-1", "changed", 30, 40)),
	)
	assert.Equal(t, 1, s.NoteCount())
	got, _ = s.Note("1")
	assert.Equal(t, "changed", got.Content)

	d.Publish(ctx, board.NewElementRemoved("7", note, board.RemovedByServer))
	assert.Equal(t, 0, s.NoteCount())
	_, ok = s.Note("1")
	assert.False(t, ok)
}

func TestSurface_PromotedNoteKeepsSoftID(t *testing.T) {
	s, d := newWired(t)
	ctx := context.Background()

	el := board.NewEphemeral("soft-9", "draft", nil, true)
	d.Publish(ctx, board.NewElementRendered("7", el))
	assert.Equal(t, 1, s.NoteCount())

	promoted := el.Clone()
	promoted.ElementID = "9"
	d.Publish(ctx,
		board.NewElementRemoved("7", el, board.RemovedForReplace),
		board.NewElementRendered("7", promoted),
	)
	got, ok := s.Note("9")
	require.True(t, ok)
	assert.Equal(t, "soft-9", got.SoftID)
	assert.Equal(t, 1, s.NoteCount())
}

func TestSurface_DoubleDrawReplaces(t *testing.T) {
	s, d := newWired(t)
	d.Publish(context.Background(),
		board.NewElementRendered("7", registered("1", "a", "one", 1, 1)),
		board.NewElementRendered("7", registered("1", "b", "two", 1, 1)),
	)
	assert.Equal(t, 1, s.NoteCount())
	got, _ := s.Note("1")
	assert.Equal(t, "two", got.Content)
}

func TestSurface_ChatBannersAndInteraction(t *testing.T) {
	s, d := newWired(t)
	ctx := context.Background()

	d.Publish(ctx,
		board.NewChatAppended("7", board.ChatLine{RecordID: "3", SenderName: "alice", Markup: "hi"}),
		board.NewChatAppended("7", board.ChatLine{RecordID: "4", SenderName: "alice", FollowUp: true}),
		board.NewChatScrolled("7", 2),
		board.NewErrorRaised("7", "b1", "edit", "1", "Content is too short."),
		board.NewInteractionDisabled("7", board.ReasonLocked, board.LockState{Locked: true, LockedBy: "42", LockedByName: "zed"}),
	)

	v := s.View()
	assert.Equal(t, "7", v.BoardID)
	assert.Equal(t, uint64(5), v.Sequence)
	require.Len(t, v.Chat, 2)
	assert.True(t, v.Chat[1].FollowUp)
	assert.Equal(t, 1, v.Scrolls)
	require.Len(t, v.Banners, 1)
	assert.Equal(t, "Content is too short.", v.Banners[0].Message)
	assert.False(t, v.Interaction.Enabled)
	assert.Equal(t, "zed is editing...", v.Interaction.Notice)
	assert.Len(t, s.Chat(), 2)

	d.Publish(ctx, board.NewErrorDismissed("7", "b1"), board.NewInteractionEnabled("7"))
	v = s.View()
	assert.Empty(t, v.Banners)
	assert.Equal(t, Interaction{Enabled: true}, v.Interaction)
}

func TestSurface_ViewIsACopy(t *testing.T) {
	s, d := newWired(t)
	d.Publish(context.Background(), board.NewElementRendered("7", registered("1", "a", "x", 1, 2)))

	v := s.View()
	v.Notes[0].Position.Top = 99
	got, _ := s.Note("1")
	assert.Equal(t, float64(1), got.Position.Top)
}
