package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/application/elements"
	"github.com/mariamrf/pegasus/internal/application/session"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
	"github.com/mariamrf/pegasus/internal/interfaces/surface"
)

// fakeElements records calls and answers with canned results.
type fakeElements struct {
	mu      sync.Mutex
	calls   []string
	err     error
	noID    bool
	banners []elements.Banner
}

func (f *fakeElements) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeElements) Create(_ context.Context, content string, pos *board.Position) (*board.PositionedElement, error) {
	if err := f.record("create:" + content); err != nil {
		return nil, err
	}
	el := board.NewEphemeral("soft-1", content, pos, true)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.noID {
		el.ElementID = "12"
	}
	return el, nil
}

func (f *fakeElements) Edit(_ context.Context, id, content string) (*board.PositionedElement, error) {
	if err := f.record("edit:" + id + ":" + content); err != nil {
		return nil, err
	}
	el := board.NewEphemeral("soft-1", content, &board.Position{Top: 1, Left: 2}, true)
	el.ElementID = id
	return el, nil
}

func (f *fakeElements) Move(_ context.Context, id string, pos board.Position) (*board.PositionedElement, error) {
	if err := f.record("move:" + id + ":" + pos.String()); err != nil {
		return nil, err
	}
	el := board.NewEphemeral("soft-1", "x", &pos, true)
	el.ElementID = id
	return el, nil
}

func (f *fakeElements) Delete(_ context.Context, id string) error {
	return f.record("delete:" + id)
}

func (f *fakeElements) SendChat(_ context.Context, message string) error {
	return f.record("chat:" + message)
}

func (f *fakeElements) Banners() []elements.Banner {
	return f.banners
}

func (f *fakeElements) DismissBanner(_ context.Context, id string) error {
	if err := f.record("dismiss:" + id); err != nil {
		return err
	}
	return apperrors.NotFound(apperrors.CodeElementNotFound, "no such banner").Build()
}

type fixture struct {
	server  *httptest.Server
	el      *fakeElements
	surface *surface.Surface
	session *session.BoardSession
	ready   atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{el: &fakeElements{}}
	f.session = session.New(session.Options{
		BoardID: "7",
		Invite:  session.ResolveInvite("http://pegasus/board/7?invite=abc", session.Identity{}),
		CanEdit: true,
		DoneAt:  time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	f.surface = surface.New("7", zap.NewNop())
	f.session.Dispatcher().Subscribe("surface", f.surface)

	router := NewRouter(Deps{
		Session:  f.session,
		Elements: f.el,
		Surface:  f.surface,
		Ready:    f.ready.Load,
		Location: time.UTC,
		Metrics:  observability.NewCollector("test"),
		Tracer:   observability.NoopTracer(),
		Logger:   zap.NewNop(),
	})
	f.server = httptest.NewServer(router.Setup())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestRouter_GetBoard(t *testing.T) {
	f := newFixture(t)
	el := board.NewFromRecord(board.Record{ID: "1", Content: "Hi\nthere", Position: &board.Position{Top: 10, Left: 20}}, "soft", true)
	require.NoError(t, f.session.Update(context.Background(), func(tx *session.Tx) error {
		tx.Emit(board.NewElementRendered(tx.BoardID(), el))
		return nil
	}))

	resp, body := f.do(t, http.MethodGet, "/api/board/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got BoardResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "7", got.ID)
	assert.Equal(t, "invite", got.Actor)
	assert.True(t, got.Invite)
	assert.True(t, got.Enabled)
	assert.Contains(t, got.Expiry, "Expires")
	require.Len(t, got.View.Notes, 1)
	assert.Equal(t, "Hi<br>there", got.View.Notes[0].Markup)
}

func TestRouter_CreateNote(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/board/notes/", `{"content":"Hi","position":{"top":1,"left":2}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var note NoteResponse
	require.NoError(t, json.Unmarshal(body, &note))
	assert.Equal(t, "12", note.ElementID)
	assert.Equal(t, &board.Position{Top: 1, Left: 2}, note.Position)

	f.el.mu.Lock()
	f.el.noID = true
	f.el.mu.Unlock()
	resp, _ = f.do(t, http.MethodPost, "/api/board/notes/", `{"content":"invited"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestRouter_BadRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"not json", http.MethodPost, "/api/board/notes/", `{`},
		{"missing content", http.MethodPost, "/api/board/notes/", `{"position":{"top":1,"left":2}}`},
		{"half a position", http.MethodPost, "/api/board/notes/", `{"content":"x","position":{"top":1}}`},
		{"empty edit", http.MethodPut, "/api/board/notes/3", `{"content":""}`},
		{"move without left", http.MethodPost, "/api/board/notes/3/move", `{"top":5}`},
		{"empty chat", http.MethodPost, "/api/board/chat", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var e ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.True(t, e.Error)
			assert.Equal(t, apperrors.CodeBadRequest, e.Code)
		})
	}
	assert.Empty(t, f.el.calls)
}

func TestRouter_Mutations(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/api/board/notes/3", `{"content":"new"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var note NoteResponse
	require.NoError(t, json.Unmarshal(body, &note))
	assert.Equal(t, "new", note.Content)

	resp, _ = f.do(t, http.MethodPost, "/api/board/notes/3/move", `{"top":5,"left":6}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/board/notes/3", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/board/chat", `{"message":"hello"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Equal(t, []string{"edit:3:new", "move:3:(5, 6)", "delete:3", "chat:hello"}, f.el.calls)
}

func TestRouter_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"locked", apperrors.Conflict(apperrors.CodeBoardLocked, "zed is editing...").Build(), http.StatusConflict},
		{"not editable", apperrors.Forbidden(apperrors.CodeNotEditable, "no").Build(), http.StatusForbidden},
		{"unknown note", apperrors.NotFound(apperrors.CodeNotRegistered, "gone").Build(), http.StatusNotFound},
		{"backend down", apperrors.Connection(apperrors.CodeRequestFailed, "refused").Build(), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.el.err = tt.err

			resp, body := f.do(t, http.MethodPut, "/api/board/notes/3", `{"content":"x"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			var e ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, tt.err.(*apperrors.UnifiedError).Code, e.Code)
		})
	}
}

func TestRouter_Banners(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/board/banners/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = f.do(t, http.MethodDelete, "/api/board/banners/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_Operational(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	f.ready.Store(true)
	resp, _ = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `test_http_requests_total{method="GET",route="/readyz",status="200"}`)

	resp, _ = f.do(t, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no websocket handler wired")
}
