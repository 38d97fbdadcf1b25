package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll results
const (
	PollApplied    = "applied"
	PollNothingNew = "nothing_new"
	PollRejected   = "rejected"
	PollFailed     = "failed"
)

// Record outcomes
const (
	RecordRendered   = "rendered"
	RecordUnchanged  = "unchanged"
	RecordRemoved    = "removed"
	RecordTombstoned = "tombstoned"
	RecordStashed    = "stashed"
	RecordSuperseded = "superseded"
	RecordChat       = "chat"
	RecordIgnored    = "ignored"
	RecordInvalid    = "invalid"
)

// Collector holds all Prometheus metrics for the board client. Each
// collector owns its registry so several can live in one process (tests).
//
// Every method is safe on a nil *Collector, which is how metrics are
// switched off.
type Collector struct {
	registry *prometheus.Registry

	// Poll loop
	Polls        *prometheus.CounterVec
	PollDuration prometheus.Histogram
	Records      *prometheus.CounterVec
	Elements     prometheus.Gauge
	Locked       prometheus.Gauge

	// Element lifecycle
	Mutations        *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec

	// Backend transport
	BackendRequests *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	TokenRotations  prometheus.Counter

	// Display name cache
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Local viewer
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	ViewerConnections prometheus.Gauge
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		Polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Total number of board polls by result",
			},
			[]string{"result"},
		),
		PollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_duration_seconds",
				Help:      "Round trip time of a board poll",
				Buckets:   prometheus.DefBuckets,
			},
		),
		Records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Polled records by kind and reconciliation outcome",
			},
			[]string{"kind", "outcome"},
		),
		Elements: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "elements",
				Help:      "Positioned elements currently rendered",
			},
		),
		Locked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "board_locked",
				Help:      "1 while another editor holds the board lock",
			},
		),

		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Element mutations by operation and result",
			},
			[]string{"operation", "result"},
		),
		MutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mutation_duration_seconds",
				Help:      "Time from request to backend acknowledgment",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		BackendRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_requests_total",
				Help:      "HTTP requests sent to the board backend",
			},
			[]string{"endpoint", "status"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		TokenRotations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "csrf_token_rotations_total",
				Help:      "Times the CSRF token changed",
			},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of display name cache hits",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of display name cache misses",
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of viewer HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Viewer HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ViewerConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "viewer_connections",
				Help:      "Open viewer WebSocket connections",
			},
		),
	}

	registry.MustRegister(
		c.Polls,
		c.PollDuration,
		c.Records,
		c.Elements,
		c.Locked,
		c.Mutations,
		c.MutationDuration,
		c.BackendRequests,
		c.BreakerState,
		c.TokenRotations,
		c.CacheHits,
		c.CacheMisses,
		c.HTTPRequests,
		c.HTTPDuration,
		c.ViewerConnections,
	)

	return c
}

// ObservePoll records one poll round trip.
func (c *Collector) ObservePoll(result string, took time.Duration) {
	if c == nil {
		return
	}
	c.Polls.WithLabelValues(result).Inc()
	c.PollDuration.Observe(took.Seconds())
}

// ObserveRecord counts a polled record by outcome.
func (c *Collector) ObserveRecord(kind, outcome string) {
	if c == nil {
		return
	}
	c.Records.WithLabelValues(kind, outcome).Inc()
}

// SetBoardState publishes the rendered element count and lock flag.
func (c *Collector) SetBoardState(elements int, locked bool) {
	if c == nil {
		return
	}
	c.Elements.Set(float64(elements))
	if locked {
		c.Locked.Set(1)
	} else {
		c.Locked.Set(0)
	}
}

// ObserveMutation records a create/edit/move/delete/chat call.
func (c *Collector) ObserveMutation(operation, result string, took time.Duration) {
	if c == nil {
		return
	}
	c.Mutations.WithLabelValues(operation, result).Inc()
	c.MutationDuration.WithLabelValues(operation).Observe(took.Seconds())
}

// ObserveBackendRequest counts a request by endpoint and HTTP status
// ("error" when no response arrived).
func (c *Collector) ObserveBackendRequest(endpoint, status string) {
	if c == nil {
		return
	}
	c.BackendRequests.WithLabelValues(endpoint, status).Inc()
}

// SetBreakerState publishes a breaker transition.
func (c *Collector) SetBreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(name).Set(float64(state))
}

// IncTokenRotations counts a CSRF token change.
func (c *Collector) IncTokenRotations() {
	if c == nil {
		return
	}
	c.TokenRotations.Inc()
}

// CacheHit counts a display name served from cache.
func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.CacheHits.Inc()
}

// CacheMiss counts a display name lookup that went to the backend.
func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.CacheMisses.Inc()
}

// AddViewerConnections moves the open viewer connection gauge.
func (c *Collector) AddViewerConnections(delta int) {
	if c == nil {
		return
	}
	c.ViewerConnections.Add(float64(delta))
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves this collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
