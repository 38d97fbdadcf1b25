package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/application/session"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
	"github.com/mariamrf/pegasus/pkg/api"
)

// DefaultInterval is how often the board is polled.
const DefaultInterval = time.Second

// Fetcher fetches the delta since a watermark.
type Fetcher interface {
	Poll(ctx context.Context, since board.Watermark) (*api.PollResponse, error)
}

// PollerOptions wires a Poller.
type PollerOptions struct {
	Session    *session.BoardSession
	Fetcher    Fetcher
	Reconciler *Reconciler
	Interval   time.Duration
	// Timeout bounds one fetch, zero for none.
	Timeout time.Duration
	// OnApplied runs after every delta that was applied.
	OnApplied func(ctx context.Context, out Outcome)
	Metrics   *observability.Collector
	Logger    *zap.Logger
}

// Poller drives the reconciliation loop on a fixed interval.
type Poller struct {
	session    *session.BoardSession
	fetcher    Fetcher
	reconciler *Reconciler
	timeout    time.Duration
	onApplied  func(ctx context.Context, out Outcome)
	metrics    *observability.Collector
	logger     *zap.Logger

	mu       sync.Mutex
	interval time.Duration
	reset    chan time.Duration
}

// NewPoller creates a poller.
func NewPoller(opts PollerOptions) *Poller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		session:    opts.Session,
		fetcher:    opts.Fetcher,
		reconciler: opts.Reconciler,
		timeout:    opts.Timeout,
		onApplied:  opts.OnApplied,
		metrics:    opts.Metrics,
		logger:     logger.Named("poller").With(zap.String("board_id", opts.Session.BoardID())),
		interval:   interval,
		reset:      make(chan time.Duration, 1),
	}
}

// Interval returns the current polling interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// SetInterval changes the interval of a running loop.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	if d == p.interval {
		p.mu.Unlock()
		return
	}
	p.interval = d
	p.mu.Unlock()

	// Only the newest value matters.
	select {
	case <-p.reset:
	default:
	}
	p.reset <- d

	p.logger.Info("Poll interval changed", zap.Duration("interval", d))
}

// Run polls until ctx is done or the board finishes. A board that is already
// finished is fetched once. Fetch failures are logged and the loop goes on.
func (p *Poller) Run(ctx context.Context) error {
	if p.session.Snapshot().Finished {
		p.logger.Info("Board is finished, fetching once")
		p.Tick(ctx)
		return nil
	}

	p.logger.Info("Polling started", zap.Duration("interval", p.Interval()))
	defer p.logger.Info("Polling stopped")

	if finished := p.Tick(ctx); finished {
		return nil
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-p.reset:
			ticker.Reset(d)
		case <-ticker.C:
			if finished := p.Tick(ctx); finished {
				p.logger.Info("Board finished, polling ends")
				return nil
			}
		}
	}
}

// Tick runs one fetch and apply. It reports whether the board is finished.
func (p *Poller) Tick(ctx context.Context) bool {
	start := time.Now()

	fetchCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	fetch := p.session.BeginFetch()
	since := fetch.Since
	resp, err := p.fetcher.Poll(fetchCtx, since)
	if err != nil {
		p.metrics.ObservePoll(observability.PollFailed, time.Since(start))
		if ctx.Err() == nil {
			fields := []zap.Field{
				zap.String("since", since.String()),
				zap.Error(err),
				zap.Bool("retryable", apperrors.IsRetryable(err)),
			}
			if wait := apperrors.GetRetryAfter(err); wait > 0 {
				fields = append(fields, zap.Duration("retry_after", wait))
			}
			p.logger.Warn("Poll failed", fields...)
		}
		return false
	}

	out, err := p.reconciler.ApplyFetch(ctx, fetch, resp)
	switch {
	case err != nil && apperrors.IsBackendReported(err):
		p.metrics.ObservePoll(observability.PollRejected, time.Since(start))
		p.logger.Warn("Backend refused poll", zap.Error(err))
	case err != nil:
		p.metrics.ObservePoll(observability.PollFailed, time.Since(start))
		p.logger.Error("Applying poll failed", zap.Error(err))
	case resp.Error == api.NothingNew:
		p.metrics.ObservePoll(observability.PollNothingNew, time.Since(start))
	default:
		p.metrics.ObservePoll(observability.PollApplied, time.Since(start))
		p.logger.Debug("Poll applied",
			zap.String("outcome", out.String()),
			zap.String("watermark", out.Watermark.String()),
		)
		if p.onApplied != nil {
			p.onApplied(ctx, out)
		}
	}

	return out.Finished
}
