package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ExposesBoardMetrics(t *testing.T) {
	c := NewCollector("pegasus_test")

	c.ObservePoll(PollApplied, 120*time.Millisecond)
	c.ObservePoll(PollNothingNew, 5*time.Millisecond)
	c.ObserveRecord("text", RecordRendered)
	c.ObserveRecord("chat", RecordChat)
	c.ObserveMutation("move", "ok", 30*time.Millisecond)
	c.SetBoardState(3, true)
	c.SetBreakerState("backend", 2)
	c.CacheHit()
	c.CacheMiss()

	families, err := c.GetRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"pegasus_test_polls_total",
		"pegasus_test_poll_duration_seconds",
		"pegasus_test_records_total",
		"pegasus_test_elements",
		"pegasus_test_board_locked",
		"pegasus_test_mutations_total",
		"pegasus_test_breaker_state",
		"pegasus_test_cache_hits_total",
	} {
		assert.True(t, names[want], "missing %s", want)
	}

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `pegasus_test_polls_total{result="applied"} 1`)
	assert.Contains(t, string(body), `pegasus_test_elements 3`)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObservePoll(PollFailed, time.Second)
		c.ObserveRecord("text", RecordInvalid)
		c.ObserveMutation("create", "error", time.Second)
		c.SetBoardState(0, false)
		c.CacheHit()
		c.AddViewerConnections(1)
	})
	assert.Nil(t, c.GetRegistry())
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	c := NewCollector("pegasus_mw")

	r := chi.NewRouter()
	r.Use(MetricsMiddleware(c))
	r.Use(TracingMiddleware(NoopTracer()))
	r.Get("/elements/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/elements/42", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	families, err := c.GetRegistry().Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "pegasus_mw_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == "/elements/{id}" && labels["status"] == "418" {
				found = true
			}
		}
	}
	assert.True(t, found)
}
