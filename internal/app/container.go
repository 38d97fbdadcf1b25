// Package app wires a board sync client together: configuration, the
// backend collaborator, the board session and its reconciliation loop, the
// element lifecycle service and the local viewer.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mariamrf/pegasus/internal/application/elements"
	"github.com/mariamrf/pegasus/internal/application/events"
	"github.com/mariamrf/pegasus/internal/application/reconcile"
	"github.com/mariamrf/pegasus/internal/application/session"
	"github.com/mariamrf/pegasus/internal/config"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/backend"
	"github.com/mariamrf/pegasus/internal/infrastructure/cache"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
	"github.com/mariamrf/pegasus/internal/infrastructure/snapshot"
	"github.com/mariamrf/pegasus/internal/interfaces/http/rest"
	"github.com/mariamrf/pegasus/internal/interfaces/surface"
	"github.com/mariamrf/pegasus/internal/interfaces/websocket"
)

const shutdownTimeout = 30 * time.Second

// Options configures a Container.
type Options struct {
	Config *config.Config

	// Loader enables configuration hot reload when set.
	Loader *config.Loader

	// Logger overrides the logger built from the configuration.
	Logger *apperrors.StructuredLogger

	// HTTPClient overrides the backend client's transport.
	HTTPClient *http.Client

	// Location is used for chat timestamps and the expiry notice.
	Location *time.Location
}

// Container holds every component of one running board client.
type Container struct {
	Config   *config.Config
	Logger   *apperrors.StructuredLogger
	Location *time.Location

	// Observability
	Metrics *observability.Collector
	Tracer  trace.Tracer

	// Infrastructure
	Cache   cache.Cache
	Backend *backend.Client

	// Application
	Dispatcher *events.Dispatcher
	Session    *session.BoardSession
	Surface    *surface.Surface
	Reconciler *reconcile.Reconciler
	Poller     *reconcile.Poller
	Elements   *elements.Service

	// Local viewer, nil when disabled
	Hub        *websocket.Hub
	WebSocket  *websocket.Server
	Router     http.Handler
	HTTPServer *http.Server

	Watcher *config.ConfigWatcher

	loader     *config.Loader
	httpClient *http.Client
	invite     session.InviteSession

	ready      atomic.Bool
	saveMu     sync.Mutex
	viewerAddr chan string

	shutdownFunctions []func() error
	shutdownOnce      sync.Once
	shutdownErr       error
}

// New builds a container. Nothing talks to the backend until Run.
func New(ctx context.Context, opts Options) (*Container, error) {
	if opts.Config == nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidConfig, "configuration is required").Build()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	c := &Container{
		Config:            opts.Config,
		Logger:            opts.Logger,
		Location:          loc,
		loader:            opts.Loader,
		httpClient:        opts.HTTPClient,
		viewerAddr:        make(chan string, 1),
		shutdownFunctions: make([]func() error, 0),
	}

	if err := c.initialize(ctx); err != nil {
		// Release whatever was already built.
		_ = c.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize container: %w", err)
	}
	return c, nil
}

// initialize sets up all dependencies in the correct order.
func (c *Container) initialize(ctx context.Context) error {
	// 1. Logger
	if err := c.initializeLogger(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// 2. Metrics and tracing
	if err := c.initializeObservability(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	// 3. Display name cache and backend client
	if err := c.initializeInfrastructure(ctx); err != nil {
		return fmt.Errorf("failed to initialize infrastructure: %w", err)
	}

	// 4. Session, render surface and reconciliation
	c.initializeSession()

	// 5. Element lifecycle
	c.initializeServices()

	// 6. Warm start from the last snapshot. Viewers see it in their welcome.
	if c.Config.Snapshot.Enabled {
		c.restoreSnapshot(ctx)
	}

	// 7. Local viewer
	if c.Config.Viewer.Enabled {
		c.initializeViewer()
	}

	// 8. Hot reload
	if c.loader != nil {
		if err := c.initializeWatcher(); err != nil {
			return fmt.Errorf("failed to initialize config watcher: %w", err)
		}
	}

	c.logStartup()
	return nil
}

// ============================================================================
// INITIALIZATION STEPS
// ============================================================================

func (c *Container) initializeLogger() error {
	if c.Logger == nil {
		logger, err := apperrors.NewStructuredLogger(string(c.Config.Environment), c.Config.Logging.Level)
		if err != nil {
			return err
		}
		c.Logger = logger
	}
	c.addShutdownFunction(func() error {
		// Syncing stderr fails on some platforms; nothing to do about it.
		_ = c.Logger.Sync()
		return nil
	})
	return nil
}

func (c *Container) initializeObservability() error {
	if c.Config.Metrics.Enabled {
		c.Metrics = observability.NewCollector(c.Config.Metrics.Namespace)
	}

	c.Tracer = observability.NoopTracer()
	if !c.Config.Tracing.Enabled {
		return nil
	}

	tp, err := observability.InitTracing(observability.TracingConfig{
		ServiceName: c.Config.Tracing.ServiceName,
		Environment: string(c.Config.Environment),
		Endpoint:    c.Config.Tracing.Endpoint,
		SampleRate:  c.Config.Tracing.SampleRate,
	})
	if err != nil {
		// Tracing is optional; the client runs without it.
		c.Logger.Warn("Failed to initialize tracing", zap.Error(err))
		return nil
	}
	c.Tracer = tp.Tracer()
	c.addShutdownFunction(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	})
	c.Logger.Info("Tracing initialized",
		zap.String("service", c.Config.Tracing.ServiceName),
		zap.String("endpoint", c.Config.Tracing.Endpoint),
	)
	return nil
}

func (c *Container) initializeInfrastructure(ctx context.Context) error {
	store, err := cache.New(ctx, c.Config.Cache, c.Logger.Logger)
	if err != nil {
		return err
	}
	c.Cache = store
	c.addShutdownFunction(store.Close)

	pageURL := c.Config.EffectivePageURL()
	c.invite = session.ResolveInvite(pageURL, session.Identity{
		Username: c.Config.Identity.Username,
		Email:    c.Config.Identity.Email,
	})

	client, err := backend.NewClient(backend.Options{
		BaseURL:       c.Config.Board.BaseURL,
		BoardID:       c.Config.Board.ID,
		Invite:        c.invite.Token(),
		PageURL:       pageURL,
		SessionCookie: c.Config.Identity.Session,
		InitialToken:  c.Config.Board.CSRFToken,
		Transport:     c.Config.Transport,
		HTTPClient:    c.httpClient,
		Metrics:       c.Metrics,
		Tracer:        c.Tracer,
		Logger:        c.Logger.Logger,
	})
	if err != nil {
		return err
	}
	c.Backend = client
	return nil
}

func (c *Container) initializeSession() {
	cfg := c.Config
	invite := c.invite
	logger := c.Logger.WithBoard(cfg.Board.ID, invite.Actor().String())
	c.Logger = logger

	c.Dispatcher = events.NewDispatcher(logger.Logger)
	c.Session = session.New(session.Options{
		BoardID:    cfg.Board.ID,
		Invite:     invite,
		CanEdit:    cfg.Board.CanEdit,
		Finished:   cfg.Board.Finished,
		DoneAt:     cfg.Board.DoneAt,
		Dispatcher: c.Dispatcher,
		Logger:     logger.Logger,
	})

	// The surface subscribes first so a viewer's welcome snapshot already
	// holds every event the broadcaster has not yet sent.
	c.Surface = surface.New(cfg.Board.ID, logger.Logger)
	c.Dispatcher.Subscribe("surface", c.Surface)
	c.Dispatcher.Subscribe("log", events.LogHandler(logger.Logger.Named("events")))

	names := reconcile.NewDisplayNames(c.Backend, c.Cache, cfg.Cache.TTL, c.Metrics, logger.Logger)
	c.Reconciler = reconcile.New(reconcile.Options{
		Session: c.Session,
		Names:   names,
		Chat:    reconcile.NewChatAppender(reconcile.NewColorBook(invite.Whoami()), c.Location),
		Metrics: c.Metrics,
		Tracer:  c.Tracer,
		Logger:  logger.Logger,
	})
	c.Poller = reconcile.NewPoller(reconcile.PollerOptions{
		Session:    c.Session,
		Fetcher:    c.Backend,
		Reconciler: c.Reconciler,
		Interval:   cfg.Poll.Interval,
		Timeout:    cfg.Poll.Timeout,
		OnApplied:  c.onApplied,
		Metrics:    c.Metrics,
		Logger:     logger.Logger,
	})
}

func (c *Container) initializeServices() {
	c.Elements = elements.NewService(elements.Options{
		Session:  c.Session,
		Backend:  c.Backend,
		Replayer: c.Reconciler,
		Metrics:  c.Metrics,
		Tracer:   c.Tracer,
		Logger:   c.Logger.Logger,
	})
}

func (c *Container) initializeViewer() {
	cfg := c.Config.Viewer
	logger := c.Logger.Logger

	c.Hub = websocket.NewHub(c.welcome, c.Metrics, logger)
	c.Dispatcher.Subscribe("viewers", websocket.NewBroadcaster(c.Hub, logger))

	wsConfig := websocket.DefaultServerConfig()
	wsConfig.AllowedOrigins = cfg.AllowedOrigins
	c.WebSocket = websocket.NewServer(c.Hub, wsConfig, logger)

	router := rest.NewRouter(rest.Deps{
		Session:        c.Session,
		Elements:       c.Elements,
		Surface:        c.Surface,
		WebSocket:      c.WebSocket.HandleWebSocket,
		Ready:          c.Ready,
		AllowedOrigins: cfg.AllowedOrigins,
		Location:       c.Location,
		Metrics:        c.Metrics,
		Tracer:         c.Tracer,
		Logger:         logger,
	})
	c.Router = router.Setup()

	c.HTTPServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      c.Router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

func (c *Container) initializeWatcher() error {
	watcher, err := config.NewConfigWatcher(c.loader, c.Config, c.Logger.Logger)
	if err != nil {
		return err
	}
	c.Watcher = watcher
	c.addShutdownFunction(func() error {
		watcher.Stop()
		return nil
	})

	watcher.OnChange(func(cfg *config.Config) {
		c.Poller.SetInterval(cfg.Poll.Interval)
		if err := c.Logger.SetLevel(cfg.Logging.Level); err != nil {
			c.Logger.Warn("Ignoring invalid log level", zap.String("level", cfg.Logging.Level), zap.Error(err))
		}
	})
	return nil
}

func (c *Container) logStartup() {
	fields := []zap.Field{
		zap.String("backend", c.Backend.String()),
		zap.Duration("poll_interval", c.Poller.Interval()),
		zap.Bool("viewer", c.HTTPServer != nil),
		zap.Bool("snapshots", c.Config.Snapshot.Enabled),
		zap.Strings("config_sources", c.Config.LoadedFrom),
	}
	if doneAt := c.Session.DoneAt(); !doneAt.IsZero() {
		fields = append(fields, zap.String("expiry",
			board.ExpiryDescription(doneAt, time.Now(), c.Config.Board.Finished, c.Location)))
	}
	c.Logger.Info("Board client initialized", fields...)
}

// ============================================================================
// RUNTIME
// ============================================================================

// Run polls the board and serves the viewer until ctx is cancelled. Without
// a viewer it also returns once a finished board has been fetched.
func (c *Container) Run(ctx context.Context) error {
	var ln net.Listener
	if c.HTTPServer != nil {
		var err error
		ln, err = net.Listen("tcp", c.HTTPServer.Addr)
		if err != nil {
			return apperrors.Unavailable(apperrors.CodeViewerListen, "cannot listen for viewers").
				WithResource(c.HTTPServer.Addr).
				WithCause(err).
				Build()
		}
		c.viewerAddr <- ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Poller.Run(gctx)
	})

	if ln != nil {
		g.Go(func() error {
			c.Hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			c.Logger.Info("Viewer listening", zap.String("address", ln.Addr().String()))
			if err := c.HTTPServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return c.HTTPServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// ViewerAddr blocks until the viewer is listening and returns its address.
func (c *Container) ViewerAddr(ctx context.Context) (string, error) {
	select {
	case addr := <-c.viewerAddr:
		c.viewerAddr <- addr
		return addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ready reports whether the first delta has been applied.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

func (c *Container) onApplied(ctx context.Context, out reconcile.Outcome) {
	if c.ready.CompareAndSwap(false, true) {
		c.Logger.Info("Board synced", zap.String("watermark", out.Watermark.String()))
	}
	if c.Config.Snapshot.Enabled {
		c.SaveSnapshot(ctx)
	}
}

// welcome is sent to each viewer as it connects: the board as drawn so far.
func (c *Container) welcome(connectionID string) (*websocket.Message, error) {
	view := c.Surface.View()
	return websocket.NewMessage(websocket.TypeConnectionEstablished, view.Sequence, view)
}

// ============================================================================
// SNAPSHOTS
// ============================================================================

func (c *Container) restoreSnapshot(ctx context.Context) {
	path := c.Config.Snapshot.Path
	state, err := snapshot.Read(path)
	if err != nil {
		c.Logger.LogError(err, "Ignoring unreadable snapshot", zap.String("path", path))
		return
	}
	if state == nil {
		return
	}
	if err := reconcile.Restore(ctx, c.Session, state); err != nil {
		c.Logger.LogError(err, "Ignoring snapshot", zap.String("path", path))
		return
	}
	c.Logger.Info("Board restored from snapshot",
		zap.String("path", path),
		zap.Int("elements", len(state.Elements)),
		zap.Time("saved_at", state.Header.SavedAt),
	)
}

// SaveSnapshot writes the board as it stands. Failures are logged only.
func (c *Container) SaveSnapshot(ctx context.Context) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	state := reconcile.Capture(ctx, c.Session, c.Surface.Chat())
	if err := snapshot.Write(c.Config.Snapshot.Path, state); err != nil {
		c.Logger.LogError(err, "Failed to save snapshot")
	}
}

// ============================================================================
// SHUTDOWN
// ============================================================================

// addShutdownFunction adds a function to be called during container shutdown.
func (c *Container) addShutdownFunction(fn func() error) {
	c.shutdownFunctions = append(c.shutdownFunctions, fn)
}

// Shutdown saves a final snapshot and releases every component, newest
// first. Calls after the first return the first result.
func (c *Container) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		if c.Logger != nil {
			c.Logger.Info("Shutting down board client...")
		}
		if c.Config.Snapshot.Enabled && c.Session != nil && c.Surface != nil {
			c.SaveSnapshot(ctx)
		}

		var failed int
		for i := len(c.shutdownFunctions) - 1; i >= 0; i-- {
			if err := c.shutdownFunctions[i](); err != nil {
				failed++
				if c.Logger != nil {
					c.Logger.Error("Error during shutdown", zap.Error(err))
				}
			}
		}
		if failed > 0 {
			c.shutdownErr = fmt.Errorf("shutdown completed with %d errors", failed)
		}
	})
	return c.shutdownErr
}
