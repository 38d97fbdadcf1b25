package elements

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/mariamrf/pegasus/internal/application/session"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
)

// Create places a new note. The note is kept locally, undrawn, until the
// backend acknowledges it; it is then drawn under its server id. When the
// backend accepts the write without reporting an id, which it does for
// invite-only viewers, the returned element has no ElementID and the note
// is drawn by the next poll.
func (s *Service) Create(ctx context.Context, content string, pos *board.Position) (el *board.PositionedElement, err error) {
	softID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "elements.Create",
		trace.WithAttributes(observability.ElementAttributes("", softID)...))
	start := time.Now()
	defer func() {
		s.settle(OpCreate, start, err)
		observability.EndSpan(span, err)
	}()

	if content == "" {
		return nil, apperrors.Validation(apperrors.CodeEmptyContent, "content is empty").
			WithOperation("elements.Create").
			WithBoard(s.session.BoardID()).
			Build()
	}

	err = s.session.Update(ctx, func(tx *session.Tx) error {
		if err := checkEditable(tx, OpCreate); err != nil {
			return err
		}
		return tx.Registry().Add(board.NewEphemeral(softID, content, pos, true))
	})
	if err != nil {
		return nil, err
	}

	id, sendErr := s.backend.Create(ctx, board.KindText, content, pos)

	err = s.session.Update(ctx, func(tx *session.Tx) error {
		reg := tx.Registry()
		if sendErr != nil {
			reg.RemoveSoft(softID)
			s.fail(tx, OpCreate, "", sendErr)
			return sendErr
		}

		if id == "" {
			ephemeral, _ := reg.RemoveSoft(softID)
			if ephemeral != nil {
				el = ephemeral.Clone()
			}
			return nil
		}

		// The poll got there first; keep what it drew.
		if existing, ok := reg.Get(id); ok {
			reg.RemoveSoft(softID)
			el = existing.Clone()
			return nil
		}

		promoted, err := reg.Promote(softID, id)
		if err != nil {
			return apperrors.Wrap(err, "elements.Create", "could not register created element")
		}
		promoted.Editable = true
		tx.Emit(board.NewElementRendered(tx.BoardID(), promoted))
		el = promoted.Clone()
		return nil
	})
	if el != nil {
		span.SetAttributes(observability.ElementAttributes(el.ElementID, "")...)
	}
	return el, err
}

// Edit replaces the content of a note.
func (s *Service) Edit(ctx context.Context, elementID, content string) (el *board.PositionedElement, err error) {
	ctx, span := s.tracer.Start(ctx, "elements.Edit",
		trace.WithAttributes(observability.ElementAttributes(elementID, "")...))
	start := time.Now()
	defer func() {
		s.settle(OpEdit, start, err)
		observability.EndSpan(span, err)
	}()

	if content == "" {
		return nil, apperrors.Validation(apperrors.CodeEmptyContent, "content is empty").
			WithOperation("elements.Edit").
			WithResource(elementID).
			Build()
	}

	release, err := s.session.AcquireElement(ctx, elementID)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.session.Update(ctx, func(tx *session.Tx) error {
		if err := checkEditable(tx, OpEdit); err != nil {
			return err
		}
		if _, err := registered(tx, OpEdit, elementID); err != nil {
			return err
		}
		tx.BeginMutation(elementID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sendErr := s.backend.Edit(ctx, elementID, board.KindText, content)

	err = s.session.Update(ctx, func(tx *session.Tx) error {
		held := tx.EndMutation(elementID, sendErr == nil)
		if sendErr != nil {
			s.replay(tx, held)
			s.fail(tx, OpEdit, elementID, sendErr)
			return sendErr
		}

		cur, err := registered(tx, OpEdit, elementID)
		if err != nil {
			// deleted by someone else while the write was in flight
			return err
		}
		tx.Emit(board.NewElementRemoved(tx.BoardID(), cur, board.RemovedForReplace))
		cur.Content = content
		tx.Emit(board.NewElementRendered(tx.BoardID(), cur))
		el = cur.Clone()
		return nil
	})
	return el, err
}

// Move repositions a note. The note moves at once; if the backend does not
// accept the move it goes back where it was. Only the position is sent.
func (s *Service) Move(ctx context.Context, elementID string, pos board.Position) (el *board.PositionedElement, err error) {
	ctx, span := s.tracer.Start(ctx, "elements.Move",
		trace.WithAttributes(observability.ElementAttributes(elementID, "")...))
	start := time.Now()
	defer func() {
		s.settle(OpMove, start, err)
		observability.EndSpan(span, err)
	}()

	release, err := s.session.AcquireElement(ctx, elementID)
	if err != nil {
		return nil, err
	}
	defer release()

	var prevPosition, prevCommitted *board.Position
	err = s.session.Update(ctx, func(tx *session.Tx) error {
		if err := checkEditable(tx, OpMove); err != nil {
			return err
		}
		cur, err := registered(tx, OpMove, elementID)
		if err != nil {
			return err
		}
		prevPosition = board.ClonePosition(cur.Position)
		prevCommitted = board.ClonePosition(cur.Committed)

		cur.MoveTo(&pos)
		tx.BeginMutation(elementID)
		tx.Emit(board.NewElementMoved(tx.BoardID(), cur, false))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sendErr := s.backend.Move(ctx, elementID, board.KindText, pos)

	err = s.session.Update(ctx, func(tx *session.Tx) error {
		held := tx.EndMutation(elementID, sendErr == nil)
		cur, ok := tx.Registry().Get(elementID)

		if sendErr != nil {
			if ok {
				cur.Position = prevPosition
				cur.Committed = prevCommitted
				tx.Emit(board.NewElementMoved(tx.BoardID(), cur, true))
			}
			s.replay(tx, held)
			s.fail(tx, OpMove, elementID, sendErr)
			return sendErr
		}

		if ok {
			el = cur.Clone()
		}
		return nil
	})
	return el, err
}

// Delete removes a note. Deleting a note that is already gone does nothing.
func (s *Service) Delete(ctx context.Context, elementID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "elements.Delete",
		trace.WithAttributes(observability.ElementAttributes(elementID, "")...))
	start := time.Now()
	skipped := false
	defer func() {
		if skipped {
			s.metrics.ObserveMutation(OpDelete, resultSkipped, time.Since(start))
		} else {
			s.settle(OpDelete, start, err)
		}
		observability.EndSpan(span, err)
	}()

	release, err := s.session.AcquireElement(ctx, elementID)
	if err != nil {
		return err
	}
	defer release()

	err = s.session.Update(ctx, func(tx *session.Tx) error {
		if err := checkEditable(tx, OpDelete); err != nil {
			return err
		}
		if _, ok := tx.Registry().Get(elementID); !ok {
			if tx.Tombstones().Has(elementID) {
				skipped = true
				return nil
			}
			_, err := registered(tx, OpDelete, elementID)
			return err
		}
		tx.BeginMutation(elementID)
		return nil
	})
	if err != nil || skipped {
		return err
	}

	sendErr := s.backend.Delete(ctx, elementID)

	return s.session.Update(ctx, func(tx *session.Tx) error {
		held := tx.EndMutation(elementID, sendErr == nil)
		if sendErr != nil {
			s.replay(tx, held)
			s.fail(tx, OpDelete, elementID, sendErr)
			return sendErr
		}

		tx.Tombstones().BuryFinal(elementID)
		if cur, ok := tx.Registry().Remove(elementID); ok {
			tx.Emit(board.NewElementRemoved(tx.BoardID(), cur, board.RemovedByViewer))
		}
		return nil
	})
}

// SendChat posts a chat line. The line is drawn when the next poll returns
// it. Blank messages are not sent.
func (s *Service) SendChat(ctx context.Context, message string) (err error) {
	if strings.TrimSpace(message) == "" {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "elements.SendChat")
	start := time.Now()
	defer func() {
		s.settle(OpChat, start, err)
		observability.EndSpan(span, err)
	}()

	_, sendErr := s.backend.Create(ctx, board.KindChat, message, nil)
	if sendErr == nil {
		return nil
	}

	_ = s.session.Update(ctx, func(tx *session.Tx) error {
		s.fail(tx, OpChat, "", sendErr)
		return nil
	})
	return sendErr
}
