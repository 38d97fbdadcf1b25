package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/application/events"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
)

func TestResolveInvite(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		identity Identity
		token    string
		actor    Actor
		whoami   string
	}{
		{
			name:   "no invite",
			url:    "http://localhost:5000/board/7",
			token:  "-1",
			actor:  ActorAnonymous,
			whoami: "",
		},
		{
			name:     "invite lower case",
			url:      "http://localhost:5000/board/7?invite=abc123",
			identity: Identity{Email: "guest@example.com"},
			token:    "abc123",
			actor:    ActorInvite,
			whoami:   "guest@example.com",
		},
		{
			name:     "invite mixed case key",
			url:      "http://localhost:5000/board/7?foo=1&InViTe=XyZ",
			identity: Identity{Email: "guest@example.com"},
			token:    "XyZ",
			actor:    ActorInvite,
			whoami:   "guest@example.com",
		},
		{
			name:     "login wins over invite",
			url:      "http://localhost:5000/board/7?invite=abc",
			identity: Identity{Username: "alice", Email: "alice@example.com"},
			token:    "abc",
			actor:    ActorAuthenticated,
			whoami:   "alice",
		},
		{
			name:     "empty invite value",
			url:      "http://localhost:5000/board/7?invite=",
			identity: Identity{Username: "alice"},
			token:    "-1",
			actor:    ActorAuthenticated,
			whoami:   "alice",
		},
		{
			name:  "unparseable url",
			url:   "://bad",
			token: "-1",
			actor: ActorAnonymous,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ResolveInvite(tt.url, tt.identity)
			assert.Equal(t, tt.token, s.Token())
			assert.Equal(t, tt.token != "-1", s.HasInvite())
			assert.Equal(t, tt.actor, s.Actor())
			assert.Equal(t, tt.whoami, s.Whoami())
		})
	}
}

func newTestSession(t *testing.T, canEdit bool) (*BoardSession, *events.Recorder) {
	t.Helper()
	d := events.NewDispatcher(zap.NewNop())
	rec := &events.Recorder{}
	d.Subscribe("test", rec)
	s := New(Options{
		BoardID:    "7",
		Invite:     ResolveInvite("http://localhost/board/7", Identity{Username: "alice"}),
		CanEdit:    canEdit,
		Dispatcher: d,
		Logger:     zap.NewNop(),
	})
	return s, rec
}

func TestUpdate_PublishesEmittedEventsInOrder(t *testing.T) {
	s, rec := newTestSession(t, true)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		el := board.NewEphemeral("soft-1", "Hi", &board.Position{Top: 1, Left: 1}, tx.Editable())
		require.NoError(t, tx.Registry().Add(el))
		tx.Emit(board.NewElementRendered(tx.BoardID(), el))
		tx.Emit(board.NewChatScrolled(tx.BoardID(), 1))
		assert.Equal(t, 2, tx.Emitted())
		return nil
	})
	require.NoError(t, err)

	got := rec.Events()
	require.Len(t, got, 2)
	assert.Equal(t, board.EventElementRendered, got[0].Header().Type)
	assert.Equal(t, board.EventChatScrolled, got[1].Header().Type)
	assert.Less(t, got[0].Header().Sequence, got[1].Header().Sequence)

	snap := s.Snapshot()
	require.Len(t, snap.Elements, 1)
	assert.True(t, snap.Elements[0].Editable)
}

func TestUpdate_PublishesEvenOnError(t *testing.T) {
	s, rec := newTestSession(t, true)
	boom := errors.New("boom")

	err := s.Update(context.Background(), func(tx *Tx) error {
		tx.Emit(board.NewInteractionEnabled(tx.BoardID()))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.Events(), 1)
}

func TestTx_LockAndEditable(t *testing.T) {
	s, _ := newTestSession(t, true)
	ctx := context.Background()

	_ = s.Update(ctx, func(tx *Tx) error {
		assert.True(t, tx.Editable())
		tx.SetLock(board.LockState{Locked: true, LockedBy: "2", LockedByName: "bob"})
		assert.False(t, tx.Editable())
		assert.True(t, tx.CanEdit())
		return nil
	})

	snap := s.Snapshot()
	assert.False(t, snap.Enabled)
	assert.Equal(t, board.ReasonLocked, snap.Reason)
	assert.Equal(t, "bob", snap.Lock.LockedByName)

	_ = s.Update(ctx, func(tx *Tx) error {
		tx.SetLock(board.LockState{})
		return nil
	})
	assert.True(t, s.Snapshot().Enabled)
}

func TestNew_FinishedBoard(t *testing.T) {
	s := New(Options{BoardID: "7", CanEdit: true, Finished: true})
	snap := s.Snapshot()
	assert.False(t, snap.Enabled)
	assert.True(t, snap.Finished)
	assert.Equal(t, board.ReasonFinished, snap.Reason)

	_ = s.Update(context.Background(), func(tx *Tx) error {
		tx.SetLock(board.LockState{})
		assert.False(t, tx.Editable(), "finished never re-enables")
		return nil
	})
}

func TestTx_WatermarkNeverRegresses(t *testing.T) {
	s, _ := newTestSession(t, true)

	_ = s.Update(context.Background(), func(tx *Tx) error {
		assert.True(t, tx.AdvanceWatermark(board.ParseWatermark("2016-05-01 12:00:05")))
		assert.False(t, tx.AdvanceWatermark(board.ParseWatermark("2016-05-01 12:00:01")))
		assert.Equal(t, "2016-05-01 12:00:05", tx.Watermark().String())
		return nil
	})
	assert.Equal(t, "2016-05-01 12:00:05", s.Snapshot().Watermark.String())
}

func TestTx_MutationStash(t *testing.T) {
	s, _ := newTestSession(t, true)
	ctx := context.Background()
	older := board.Record{ID: "5", Kind: board.KindText, Content: "old", LastModified: board.ParseWatermark("2016-05-01 12:00:01")}
	newer := board.Record{ID: "5", Kind: board.KindText, Content: "new", LastModified: board.ParseWatermark("2016-05-01 12:00:02")}

	t.Run("failed write returns newest stashed row", func(t *testing.T) {
		_ = s.Update(ctx, func(tx *Tx) error {
			tx.Stash(newer)
			assert.False(t, tx.InFlight("5"), "stash ignored without a write in flight")

			tx.BeginMutation("5")
			assert.True(t, tx.InFlight("5"))
			tx.Stash(newer)
			tx.Stash(older)

			got := tx.EndMutation("5", false)
			require.NotNil(t, got)
			assert.Equal(t, "new", got.Content)
			assert.False(t, tx.InFlight("5"))
			return nil
		})
	})

	t.Run("successful write drops stash", func(t *testing.T) {
		_ = s.Update(ctx, func(tx *Tx) error {
			tx.BeginMutation("5")
			tx.Stash(older)
			assert.Nil(t, tx.EndMutation("5", true))
			return nil
		})
	})

	t.Run("overlapping writes settle on the last", func(t *testing.T) {
		_ = s.Update(ctx, func(tx *Tx) error {
			tx.BeginMutation("5")
			tx.BeginMutation("5")
			tx.Stash(older)
			assert.Nil(t, tx.EndMutation("5", false))
			assert.True(t, tx.InFlight("5"))
			assert.Equal(t, "old", tx.EndMutation("5", false).Content)
			return nil
		})
		assert.Equal(t, 0, s.Snapshot().InFlight)
	})

	t.Run("unknown id", func(t *testing.T) {
		_ = s.Update(ctx, func(tx *Tx) error {
			assert.Nil(t, tx.EndMutation("nope", false))
			return nil
		})
	})
}

func TestBeginFetch_SeesWritesSettledLater(t *testing.T) {
	s, _ := newTestSession(t, true)
	ctx := context.Background()

	before := s.BeginFetch()
	assert.True(t, before.Since.IsInitial())

	_ = s.Update(ctx, func(tx *Tx) error {
		tx.BeginMutation("5")
		tx.EndMutation("5", true)
		tx.BeginMutation("6")
		tx.EndMutation("6", false)
		return nil
	})
	after := s.BeginFetch()
	assert.Equal(t, before.Generation+1, after.Generation, "only successful writes count")

	_ = s.Update(ctx, func(tx *Tx) error {
		assert.True(t, tx.SettledAfter("5", before.Generation))
		assert.False(t, tx.SettledAfter("5", after.Generation))
		assert.False(t, tx.SettledAfter("6", before.Generation))

		tx.ForgetSettled(after.Generation)
		assert.False(t, tx.SettledAfter("5", before.Generation))
		return nil
	})
}

func TestAcquireElement_Serializes(t *testing.T) {
	s, _ := newTestSession(t, true)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := s.AcquireElement(ctx, "5")
			require.NoError(t, err)
			defer release()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, s.locks.locks, "lock entries are dropped when unused")
}

func TestAcquireElement_IndependentKeys(t *testing.T) {
	s, _ := newTestSession(t, true)
	ctx := context.Background()

	releaseA, err := s.AcquireElement(ctx, "5")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := s.AcquireElement(ctx, "6")
	require.NoError(t, err)
	releaseB()
}

func TestAcquireElement_ContextDone(t *testing.T) {
	s, _ := newTestSession(t, true)

	release, err := s.AcquireElement(context.Background(), "5")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.AcquireElement(ctx, "5")
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeout(err))

	release()
	release()

	again, err := s.AcquireElement(context.Background(), "5")
	require.NoError(t, err)
	again()
}
