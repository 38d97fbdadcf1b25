// Package rest is the local viewer API: the rendered board, the viewer's
// own interactions, the WebSocket upgrade and the operational endpoints.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/application/elements"
	"github.com/mariamrf/pegasus/internal/application/session"
	"github.com/mariamrf/pegasus/internal/domain/board"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
	"github.com/mariamrf/pegasus/internal/interfaces/surface"
)

// Elements performs the viewer's changes.
type Elements interface {
	Create(ctx context.Context, content string, pos *board.Position) (*board.PositionedElement, error)
	Edit(ctx context.Context, elementID, content string) (*board.PositionedElement, error)
	Move(ctx context.Context, elementID string, pos board.Position) (*board.PositionedElement, error)
	Delete(ctx context.Context, elementID string) error
	SendChat(ctx context.Context, message string) error
	Banners() []elements.Banner
	DismissBanner(ctx context.Context, bannerID string) error
}

// Surface is the rendered board.
type Surface interface {
	View() surface.View
}

// Deps wires a Router.
type Deps struct {
	Session  *session.BoardSession
	Elements Elements
	Surface  Surface

	// WebSocket serves /ws when set.
	WebSocket http.HandlerFunc
	// Ready reports whether the first poll has been applied.
	Ready func() bool

	AllowedOrigins []string
	Location       *time.Location

	Metrics *observability.Collector
	Tracer  trace.Tracer
	Logger  *zap.Logger
}

// Router creates and configures the HTTP router
type Router struct {
	deps   Deps
	logger *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.Tracer()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return &Router{deps: deps, logger: logger.Named("http")}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(Logger(rt.logger))
	router.Use(observability.TracingMiddleware(rt.deps.Tracer))
	router.Use(observability.MetricsMiddleware(rt.deps.Metrics))

	origins := rt.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := NewHealthHandler(rt.deps.Ready)
	router.Get("/healthz", health.Check)
	router.Get("/readyz", health.Ready)
	router.Method(http.MethodGet, "/metrics", rt.deps.Metrics.Handler())
	if rt.deps.WebSocket != nil {
		router.Get("/ws", rt.deps.WebSocket)
	}

	h := NewBoardHandler(rt.deps.Session, rt.deps.Elements, rt.deps.Surface, rt.deps.Location, rt.logger)
	router.Route("/api/board", func(r chi.Router) {
		r.Get("/", h.GetBoard)

		r.Route("/notes", func(r chi.Router) {
			r.Post("/", h.CreateNote)
			r.Put("/{elementID}", h.EditNote)
			r.Post("/{elementID}/move", h.MoveNote)
			r.Delete("/{elementID}", h.DeleteNote)
		})

		r.Post("/chat", h.SendChat)

		r.Route("/banners", func(r chi.Router) {
			r.Get("/", h.ListBanners)
			r.Delete("/{bannerID}", h.DismissBanner)
		})
	})

	return router
}
