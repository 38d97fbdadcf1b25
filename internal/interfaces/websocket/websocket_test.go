package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/application/events"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
)

type rig struct {
	hub     *Hub
	server  *httptest.Server
	metrics *observability.Collector
	cancel  context.CancelFunc
}

func newRig(t *testing.T, cfg ServerConfig) *rig {
	t.Helper()
	metrics := observability.NewCollector("test")
	welcome := func(id string) (*Message, error) {
		return NewMessage(TypeConnectionEstablished, 0, map[string]string{"connectionId": id})
	}
	hub := NewHub(welcome, metrics, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(NewServer(hub, cfg, zap.NewNop()).HandleWebSocket))
	r := &rig{hub: hub, server: srv, metrics: metrics, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		srv.Close()
	})
	return r
}

func (r *rig) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_WelcomeThenEvents(t *testing.T) {
	r := newRig(t, DefaultServerConfig())
	conn := r.dial(t, nil)

	welcome := readFrame(t, conn)
	assert.Equal(t, TypeConnectionEstablished, welcome.Type)
	require.Eventually(t, func() bool { return r.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	d := events.NewDispatcher(zap.NewNop())
	d.Subscribe("ws", NewBroadcaster(r.hub, zap.NewNop()))
	el := board.NewFromRecord(board.Record{ID: "1", Content: "Hi\nthere", Position: &board.Position{Top: 10, Left: 20}}, "soft", true)
	d.Publish(context.Background(), board.NewElementRendered("7", el), board.NewChatScrolled("7", 1))

	first := readFrame(t, conn)
	assert.Equal(t, string(board.EventElementRendered), first.Type)
	assert.Equal(t, uint64(1), first.Sequence)

	var rendered board.ElementRendered
	require.NoError(t, json.Unmarshal(first.Data, &rendered))
	assert.Equal(t, "Hi<br>there", rendered.Markup)
	assert.Equal(t, "1", rendered.ElementID)

	second := readFrame(t, conn)
	assert.Equal(t, string(board.EventChatScrolled), second.Type)
	assert.Equal(t, uint64(2), second.Sequence)

	assert.Eventually(t, func() bool { return r.hub.Stats().MessagesSent == 2 }, time.Second, 5*time.Millisecond)
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	r := newRig(t, DefaultServerConfig())
	conn := r.dial(t, nil)
	readFrame(t, conn)
	require.Eventually(t, func() bool { return r.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return r.hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), r.hub.Stats().ActiveConnections)
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	r := newRig(t, DefaultServerConfig())
	conn := r.dial(t, nil)
	readFrame(t, conn)

	r.cancel()
	<-r.hub.Done()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, r.hub.ClientCount())
}

func TestHub_ConnectionLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxConnections = 1
	r := newRig(t, cfg)
	conn := r.dial(t, nil)
	readFrame(t, conn)
	require.Eventually(t, func() bool { return r.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	url := "ws" + strings.TrimPrefix(r.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(nil, nil, zap.NewNop())

	var err error
	for i := 0; i <= broadcastBufferSize; i++ {
		msg, _ := NewMessage("x", uint64(i), nil)
		err = hub.Broadcast(msg)
	}
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))
	assert.Equal(t, int64(1), hub.Stats().MessagesDropped)
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "localhost:8090", true},
		{"same host", nil, "http://localhost:8090", "localhost:8090", true},
		{"other host refused", nil, "http://evil.example", "localhost:8090", false},
		{"listed origin", []string{"http://app.example/"}, "http://app.example", "localhost:8090", true},
		{"wildcard", []string{"*"}, "http://evil.example", "localhost:8090", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originChecker(tt.allowed)(r))
		})
	}
}
