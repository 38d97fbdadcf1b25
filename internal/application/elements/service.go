// Package elements performs the viewer's own changes to the board: creating,
// editing, moving and deleting text notes, and sending chat lines.
//
// Every operation blocks until the backend acknowledged it. Two operations on
// the same note never overlap; the poll loop keeps running meanwhile and
// holds back rows for a note that has a write in flight.
package elements

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/application/session"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
)

// Operation names, used for banners, metrics and spans.
const (
	OpCreate = "create"
	OpEdit   = "edit"
	OpMove   = "move"
	OpDelete = "delete"
	OpChat   = "chat"
)

// Mutation results
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultFailed   = "failed"
	resultSkipped  = "skipped"
)

// Backend performs writes against the board backend.
type Backend interface {
	Create(ctx context.Context, kind board.RecordKind, message string, pos *board.Position) (string, error)
	Edit(ctx context.Context, elementID string, kind board.RecordKind, content string) error
	Move(ctx context.Context, elementID string, kind board.RecordKind, pos board.Position) error
	Delete(ctx context.Context, elementID string) error
}

// Replayer applies a poll row that was held back during a failed write.
type Replayer interface {
	Replay(tx *session.Tx, rec board.Record)
}

// Options wires a Service.
type Options struct {
	Session  *session.BoardSession
	Backend  Backend
	Replayer Replayer
	Metrics  *observability.Collector
	Tracer   trace.Tracer
	Logger   *zap.Logger
}

// Banner is an error shown to the viewer until dismissed.
type Banner struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	ElementID string    `json:"elementId,omitempty"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raisedAt"`
}

// Service runs element lifecycle operations for one board session.
type Service struct {
	session  *session.BoardSession
	backend  Backend
	replayer Replayer
	metrics  *observability.Collector
	tracer   trace.Tracer
	logger   *zap.Logger

	bannersMu sync.Mutex
	banners   map[string]Banner
}

// NewService creates a service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}
	return &Service{
		session:  opts.Session,
		backend:  opts.Backend,
		replayer: opts.Replayer,
		metrics:  opts.Metrics,
		tracer:   tracer,
		logger:   logger.Named("elements").With(zap.String("board_id", opts.Session.BoardID())),
		banners:  make(map[string]Banner),
	}
}

// ============================================================================
// BANNERS
// ============================================================================

// Banners returns the open banners, oldest first.
func (s *Service) Banners() []Banner {
	s.bannersMu.Lock()
	defer s.bannersMu.Unlock()

	out := make([]Banner, 0, len(s.banners))
	for _, b := range s.banners {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DismissBanner closes a banner.
func (s *Service) DismissBanner(ctx context.Context, bannerID string) error {
	s.bannersMu.Lock()
	_, ok := s.banners[bannerID]
	delete(s.banners, bannerID)
	s.bannersMu.Unlock()

	if !ok {
		return apperrors.NotFound(apperrors.CodeElementNotFound, "no such banner").
			WithResource(bannerID).
			WithBoard(s.session.BoardID()).
			Build()
	}
	return s.session.Update(ctx, func(tx *session.Tx) error {
		tx.Emit(board.NewErrorDismissed(tx.BoardID(), bannerID))
		return nil
	})
}

// raise queues a banner for a refusal reported by the backend.
func (s *Service) raise(tx *session.Tx, op, elementID string, err error) {
	b := Banner{
		ID:        ulid.Make().String(),
		Operation: op,
		ElementID: elementID,
		Message:   apperrors.UserMessage(err),
		RaisedAt:  time.Now().UTC(),
	}
	s.bannersMu.Lock()
	s.banners[b.ID] = b
	s.bannersMu.Unlock()

	tx.Emit(board.NewErrorRaised(tx.BoardID(), b.ID, op, elementID, b.Message))
}

// ============================================================================
// HELPERS
// ============================================================================

// checkEditable explains why the viewer may not change notes right now.
func checkEditable(tx *session.Tx, op string) error {
	if tx.Editable() {
		return nil
	}

	var builder *apperrors.ErrorBuilder
	switch {
	case !tx.CanEdit():
		builder = apperrors.Forbidden(apperrors.CodeNotEditable, "you cannot edit this board")
	case tx.Interaction().Finished():
		builder = apperrors.Forbidden(apperrors.CodeBoardFinished, "this board has expired")
	default:
		builder = apperrors.Conflict(apperrors.CodeBoardLocked, tx.Lock().Notice())
	}
	return builder.WithOperation("elements." + op).WithBoard(tx.BoardID()).Build()
}

// registered returns the note with elementID.
func registered(tx *session.Tx, op, elementID string) (*board.PositionedElement, error) {
	el, ok := tx.Registry().Get(elementID)
	if !ok || !el.IsRegistered() {
		return nil, apperrors.NotFound(apperrors.CodeNotRegistered, "element is not on the board").
			WithOperation("elements." + op).
			WithResource(elementID).
			WithBoard(tx.BoardID()).
			Build()
	}
	return el, nil
}

// settle records how a write ended.
func (s *Service) settle(op string, start time.Time, err error) {
	result := resultOK
	switch {
	case err == nil:
	case apperrors.IsBackendReported(err):
		result = resultRejected
	default:
		result = resultFailed
	}
	s.metrics.ObserveMutation(op, result, time.Since(start))

	if err != nil {
		s.logger.Warn("Element operation failed",
			append(apperrors.ErrorFields(err), zap.String("operation", op))...,
		)
	}
}

// fail handles a write the backend did not accept: refusals get a banner,
// transport errors are only logged.
func (s *Service) fail(tx *session.Tx, op, elementID string, err error) {
	if apperrors.IsBackendReported(err) {
		s.raise(tx, op, elementID, err)
	}
}

// replay applies a row held back while the write was in flight.
func (s *Service) replay(tx *session.Tx, rec *board.Record) {
	if rec == nil || s.replayer == nil {
		return
	}
	s.replayer.Replay(tx, *rec)
}
