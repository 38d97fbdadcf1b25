package elements_test

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/application/elements"
	"github.com/mariamrf/pegasus/internal/application/events"
	"github.com/mariamrf/pegasus/internal/application/reconcile"
	"github.com/mariamrf/pegasus/internal/application/session"
	"github.com/mariamrf/pegasus/internal/config"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/backend"
	"github.com/mariamrf/pegasus/internal/infrastructure/backend/backendtest"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
	"github.com/mariamrf/pegasus/pkg/api"
)

type fixture struct {
	srv      *backendtest.Server
	session  *session.BoardSession
	recorder *events.Recorder
	rec      *reconcile.Reconciler
	client   *backend.Client
	svc      *elements.Service
}

func newFixture(t *testing.T, canEdit bool) *fixture {
	t.Helper()
	logger := zap.NewNop()
	srv := backendtest.New(t, "7")

	client, err := backend.NewClient(backend.Options{
		BaseURL: srv.URL(),
		BoardID: srv.BoardID,
		Transport: config.Transport{
			RequestTimeout: 2 * time.Second,
			Retry:          config.RetryConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
		},
		Tracer: observability.NoopTracer(),
		Logger: logger,
	})
	require.NoError(t, err)

	d := events.NewDispatcher(logger)
	recorder := &events.Recorder{}
	d.Subscribe("test", recorder)

	sess := session.New(session.Options{
		BoardID:    "7",
		Invite:     session.ResolveInvite(srv.URL()+"/board/7", session.Identity{Username: "alice"}),
		CanEdit:    canEdit,
		Dispatcher: d,
		Logger:     logger,
	})
	rec := reconcile.New(reconcile.Options{Session: sess, Tracer: observability.NoopTracer(), Logger: logger})
	svc := elements.NewService(elements.Options{
		Session:  sess,
		Backend:  client,
		Replayer: rec,
		Tracer:   observability.NoopTracer(),
		Logger:   logger,
	})
	return &fixture{srv: srv, session: sess, recorder: recorder, rec: rec, client: client, svc: svc}
}

func (f *fixture) poll(t *testing.T) {
	t.Helper()
	resp, err := f.client.Poll(context.Background(), f.session.Snapshot().Watermark)
	require.NoError(t, err)
	_, err = f.rec.Apply(context.Background(), resp)
	require.NoError(t, err)
}

func (f *fixture) seed(t *testing.T, content string, pos string) string {
	t.Helper()
	row := f.srv.Insert(backendtest.Row{Content: content, UserID: "2", Type: "text", Position: pos})
	f.poll(t)
	f.recorder.Reset()
	return strconv.Itoa(row.ID)
}

func TestCreate(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	pos := &board.Position{Top: 10, Left: 20}

	el, err := f.svc.Create(ctx, "Hi\nthere", pos)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, "1", el.ElementID)
	assert.True(t, el.Editable)

	rendered := f.recorder.OfType(board.EventElementRendered)
	require.Len(t, rendered, 1)
	assert.Equal(t, "Hi<br>there", rendered[0].(*board.ElementRendered).Markup)

	req := f.srv.RequestsTo("create")[0]
	assert.Equal(t, "text", req.Form[api.FieldContentType])
	assert.Equal(t, `{"top":10,"left":20}`, req.Form[api.FieldPosition])

	// the echo of our own write changes nothing
	f.poll(t)
	assert.Len(t, f.recorder.OfType(board.EventElementRendered), 1)
	assert.Len(t, f.session.Snapshot().Elements, 1)
}

func TestCreate_RejectedLeavesNoTrace(t *testing.T) {
	f := newFixture(t, true)
	f.srv.RejectNext("create", "You do not have sufficient privileges.")

	el, err := f.svc.Create(context.Background(), "nope", &board.Position{})
	require.Error(t, err)
	assert.Nil(t, el)
	assert.True(t, apperrors.IsBackendReported(err))

	assert.Empty(t, f.session.Snapshot().Elements)
	assert.Empty(t, f.recorder.OfType(board.EventElementRendered))
	raised := f.recorder.OfType(board.EventErrorRaised)
	require.Len(t, raised, 1)
	ev := raised[0].(*board.ErrorRaised)
	assert.Equal(t, elements.OpCreate, ev.Operation)
	assert.Equal(t, "You do not have sufficient privileges.", ev.Message)

	require.Len(t, f.svc.Banners(), 1)
	require.NoError(t, f.svc.DismissBanner(context.Background(), ev.BannerID))
	assert.Empty(t, f.svc.Banners())
	assert.Len(t, f.recorder.OfType(board.EventErrorDismissed), 1)
	assert.Error(t, f.svc.DismissBanner(context.Background(), ev.BannerID))
}

func TestCreate_TransportErrorHasNoBanner(t *testing.T) {
	f := newFixture(t, true)
	f.srv.FailNext("create", http.StatusInternalServerError)

	_, err := f.svc.Create(context.Background(), "x", &board.Position{})
	require.Error(t, err)
	assert.False(t, apperrors.IsBackendReported(err))
	assert.Empty(t, f.recorder.OfType(board.EventErrorRaised))
	assert.Empty(t, f.session.Snapshot().Elements)
}

func TestCreate_InviteOnlyWriteDrawnByPoll(t *testing.T) {
	f := newFixture(t, true)
	f.srv.OmitComponentID(true)

	el, err := f.svc.Create(context.Background(), "guest note", &board.Position{Top: 1, Left: 2})
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.False(t, el.IsRegistered())
	assert.Empty(t, f.session.Snapshot().Elements)

	f.poll(t)
	elems := f.session.Snapshot().Elements
	require.Len(t, elems, 1)
	assert.Equal(t, "guest note", elems[0].Content)
}

func TestCreate_PreconditionsAndEmpty(t *testing.T) {
	t.Run("empty content", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.svc.Create(context.Background(), "", &board.Position{})
		assert.True(t, apperrors.IsValidation(err))
		assert.Empty(t, f.srv.RequestsTo("create"))
	})

	t.Run("viewer cannot edit", func(t *testing.T) {
		f := newFixture(t, false)
		_, err := f.svc.Create(context.Background(), "x", &board.Position{})
		assert.True(t, apperrors.IsForbidden(err))
		assert.Empty(t, f.srv.RequestsTo("create"))
	})

	t.Run("board locked", func(t *testing.T) {
		f := newFixture(t, true)
		f.srv.SetLock(true, "2")
		f.poll(t)
		_, err := f.svc.Create(context.Background(), "x", &board.Position{})
		assert.True(t, apperrors.IsConflict(err))
	})
}

func TestEdit(t *testing.T) {
	f := newFixture(t, true)
	id := f.seed(t, "old", `{"top": 1, "left": 1}`)

	el, err := f.svc.Edit(context.Background(), id, "new\ntext")
	require.NoError(t, err)
	assert.Equal(t, "new\ntext", el.Content)

	got := f.recorder.Events()
	require.Len(t, got, 2)
	assert.Equal(t, board.EventElementRemoved, got[0].Header().Type)
	assert.Equal(t, "new<br>text", got[1].(*board.ElementRendered).Markup)

	req := f.srv.RequestsTo("edit")[0]
	assert.Equal(t, "true", req.Form[api.FieldHasMessages])
	assert.Equal(t, "new\ntext", req.Form[api.FieldMessage])

	row, _ := f.srv.Row(1)
	assert.Equal(t, "new\ntext", row.Content)
}

func TestEdit_UnknownElement(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.Edit(context.Background(), "99", "x")
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, f.srv.RequestsTo("edit"))
}

func TestMove(t *testing.T) {
	f := newFixture(t, true)
	id := f.seed(t, "note", `{"top": 1, "left": 1}`)
	to := board.Position{Top: 50, Left: 60}

	el, err := f.svc.Move(context.Background(), id, to)
	require.NoError(t, err)
	assert.Equal(t, &to, el.Position)

	req := f.srv.RequestsTo("edit")[0]
	assert.Equal(t, "false", req.Form[api.FieldHasMessages])
	assert.NotContains(t, req.Form, api.FieldMessage)

	moved := f.recorder.OfType(board.EventElementMoved)
	require.Len(t, moved, 1)
	assert.False(t, moved[0].(*board.ElementMoved).Reverted)

	// the server echo of the move does not redraw the note
	f.recorder.Reset()
	f.poll(t)
	assert.Empty(t, f.recorder.Events())
}

func TestMove_RevertsOnRefusal(t *testing.T) {
	f := newFixture(t, true)
	id := f.seed(t, "note", `{"top": 1, "left": 1}`)
	f.srv.RejectNext("edit", "Board is locked.")

	_, err := f.svc.Move(context.Background(), id, board.Position{Top: 9, Left: 9})
	require.Error(t, err)

	moved := f.recorder.OfType(board.EventElementMoved)
	require.Len(t, moved, 2)
	back := moved[1].(*board.ElementMoved)
	assert.True(t, back.Reverted)
	assert.Equal(t, &board.Position{Top: 1, Left: 1}, back.Position)

	el := f.session.Snapshot().Elements[0]
	assert.Equal(t, &board.Position{Top: 1, Left: 1}, el.Committed)
	assert.Len(t, f.recorder.OfType(board.EventErrorRaised), 1)
}

func TestMove_HeldBackRowReplayedOnFailure(t *testing.T) {
	f := newFixture(t, true)
	id := f.seed(t, "note", `{"top": 1, "left": 1}`)

	gate := make(chan struct{})
	blocking := &gatedBackend{Backend: f.client, gate: gate, entered: make(chan struct{}, 1)}
	svc := elements.NewService(elements.Options{
		Session:  f.session,
		Backend:  blocking,
		Replayer: f.rec,
		Tracer:   observability.NoopTracer(),
	})
	f.srv.RejectNext("edit", "Board is locked.")

	done := make(chan error, 1)
	go func() {
		_, err := svc.Move(context.Background(), id, board.Position{Top: 9, Left: 9})
		done <- err
	}()
	<-blocking.entered

	// someone else edits the note while our move is pending
	f.srv.Update(1, func(r *backendtest.Row) { r.Content = "theirs" })
	f.poll(t)
	assert.Equal(t, 1, f.session.Snapshot().InFlight)
	assert.Equal(t, "note", f.session.Snapshot().Elements[0].Content)

	close(gate)
	require.Error(t, <-done)

	el := f.session.Snapshot().Elements[0]
	assert.Equal(t, "theirs", el.Content)
	assert.Equal(t, &board.Position{Top: 1, Left: 1}, el.Position)
}

func TestMove_PollFetchedBeforeLaterMoveDoesNotSnapBack(t *testing.T) {
	f := newFixture(t, true)
	id := f.seed(t, "note", `{"top": 1, "left": 1}`)
	ctx := context.Background()

	_, err := f.svc.Move(ctx, id, board.Position{Top: 2, Left: 2})
	require.NoError(t, err)

	fetcher := &gatedFetcher{client: f.client, gate: make(chan struct{}), fetched: make(chan struct{}, 1)}
	poller := reconcile.NewPoller(reconcile.PollerOptions{
		Session:    f.session,
		Fetcher:    fetcher,
		Reconciler: f.rec,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.Tick(ctx)
	}()
	// the poll now holds the row at 2,2
	<-fetcher.fetched

	_, err = f.svc.Move(ctx, id, board.Position{Top: 3, Left: 3})
	require.NoError(t, err)

	close(fetcher.gate)
	<-done

	want := &board.Position{Top: 3, Left: 3}
	el := f.session.Snapshot().Elements[0]
	assert.Equal(t, want, el.Position)
	assert.Equal(t, want, el.Committed)

	// the next delta carries the later move and agrees
	f.recorder.Reset()
	f.poll(t)
	assert.Empty(t, f.recorder.OfType(board.EventElementRendered))
	assert.Equal(t, want, f.session.Snapshot().Elements[0].Position)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, true)
	id := f.seed(t, "bye", `{"top": 1, "left": 1}`)

	require.NoError(t, f.svc.Delete(context.Background(), id))
	assert.Empty(t, f.session.Snapshot().Elements)
	removed := f.recorder.OfType(board.EventElementRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, board.RemovedByViewer, removed[0].(*board.ElementRemoved).Reason)

	// repeat is a no-op and sends nothing
	require.NoError(t, f.svc.Delete(context.Background(), id))
	assert.Len(t, f.srv.RequestsTo("delete"), 1)

	// the deletion row from the server changes nothing either
	f.recorder.Reset()
	f.poll(t)
	assert.Empty(t, f.recorder.OfType(board.EventElementRemoved))
}

func TestDelete_Refused(t *testing.T) {
	f := newFixture(t, true)
	id := f.seed(t, "stay", `{"top": 1, "left": 1}`)
	f.srv.RejectNext("delete", "You do not have sufficient privileges.")

	err := f.svc.Delete(context.Background(), id)
	require.Error(t, err)
	assert.Len(t, f.session.Snapshot().Elements, 1)
	assert.Len(t, f.recorder.OfType(board.EventErrorRaised), 1)
}

func TestSendChat(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.svc.SendChat(ctx, "  "))
	assert.Empty(t, f.srv.RequestsTo("create"))

	require.NoError(t, f.svc.SendChat(ctx, "hello\nall"))
	req := f.srv.RequestsTo("create")[0]
	assert.Equal(t, "chat", req.Form[api.FieldContentType])
	assert.Equal(t, api.NoneSentinel, req.Form[api.FieldPosition])

	f.poll(t)
	lines := f.recorder.OfType(board.EventChatAppended)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello<br>all", lines[0].(*board.ChatAppended).Line.Markup)

	f.srv.SetFinished(true)
	err := f.svc.SendChat(ctx, "too late")
	require.Error(t, err)
	assert.True(t, apperrors.IsForbidden(err))
	assert.Len(t, f.recorder.OfType(board.EventErrorRaised), 1)
}

func TestConcurrentMutationsOnOneElementSerialize(t *testing.T) {
	f := newFixture(t, true)
	id := f.seed(t, "note", `{"top": 1, "left": 1}`)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Move(context.Background(), id, board.Position{Top: float64(i), Left: float64(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.srv.RequestsTo("edit"), 5)
	assert.Equal(t, 0, f.session.Snapshot().InFlight)

	row, _ := f.srv.Row(1)
	el := f.session.Snapshot().Elements[0]
	assert.Equal(t, api.EncodePosition(el.Committed), row.Position, "local and server agree on the last move")
}

// gatedBackend holds writes until gate is closed.
type gatedBackend struct {
	elements.Backend
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedBackend) wait() {
	g.entered <- struct{}{}
	<-g.gate
}

func (g *gatedBackend) Move(ctx context.Context, id string, kind board.RecordKind, pos board.Position) error {
	g.wait()
	return g.Backend.Move(ctx, id, kind, pos)
}

// gatedFetcher fetches at once but holds the response until gate is closed.
type gatedFetcher struct {
	client  *backend.Client
	gate    chan struct{}
	fetched chan struct{}
}

func (g *gatedFetcher) Poll(ctx context.Context, since board.Watermark) (*api.PollResponse, error) {
	resp, err := g.client.Poll(ctx, since)
	g.fetched <- struct{}{}
	<-g.gate
	return resp, err
}
