package reconcile

import (
	"context"

	"github.com/google/uuid"

	"github.com/mariamrf/pegasus/internal/application/session"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/snapshot"
)

// Restore draws a saved board before the first poll. The next poll continues
// from the saved watermark; anything changed in between arrives in it.
func Restore(ctx context.Context, s *session.BoardSession, state *snapshot.State) error {
	if state == nil {
		return nil
	}
	if state.Header.BoardID != "" && state.Header.BoardID != s.BoardID() {
		return apperrors.Validation(apperrors.CodeSnapshotFailure, "snapshot belongs to another board").
			WithBoard(s.BoardID()).
			WithDetails(state.Header.BoardID).
			Build()
	}

	return s.Update(ctx, func(tx *session.Tx) error {
		if tx.Registry().Len() > 0 || !tx.Watermark().IsInitial() {
			return apperrors.Conflict(apperrors.CodeSnapshotFailure, "session already has state").
				WithBoard(tx.BoardID()).
				Build()
		}

		for _, ts := range state.Tombstones {
			if ts.Final {
				tx.Tombstones().BuryFinal(ts.ID)
				continue
			}
			tx.Tombstones().Bury(ts.ID, board.ParseWatermark(ts.At))
		}

		for _, e := range state.Elements {
			if e.ID == "" || tx.Tombstones().Has(e.ID) {
				continue
			}
			rec := board.Record{ID: e.ID, Kind: board.KindText, Content: e.Content, Position: e.Position}
			el := board.NewFromRecord(rec, uuid.NewString(), tx.CanEdit())
			if err := tx.Registry().Add(el); err != nil {
				continue
			}
			tx.Emit(board.NewElementRendered(tx.BoardID(), el))
		}

		for _, line := range state.Chat {
			tx.Emit(board.NewChatAppended(tx.BoardID(), line))
		}
		if len(state.Chat) > 0 {
			tx.Emit(board.NewChatScrolled(tx.BoardID(), len(state.Chat)))
		}
		tx.SetPrevSender(state.PrevSender)
		tx.AdvanceWatermark(board.ParseWatermark(state.Watermark))
		return nil
	})
}

// Capture copies the session into a snapshot. chat is the rendered chat
// history, which the session itself does not keep.
func Capture(ctx context.Context, s *session.BoardSession, chat []board.ChatLine) snapshot.State {
	state := snapshot.State{
		Header: snapshot.Header{BoardID: s.BoardID()},
		Chat:   chat,
	}

	_ = s.Update(ctx, func(tx *session.Tx) error {
		state.Watermark = tx.Watermark().String()
		state.PrevSender = tx.PrevSender()

		for _, el := range tx.Registry().All() {
			// Notes still waiting for their id are not worth keeping.
			if !el.IsRegistered() {
				continue
			}
			state.Elements = append(state.Elements, snapshot.Element{
				ID:       el.ElementID,
				Content:  el.Content,
				Position: board.ClonePosition(el.Committed),
				Editable: el.Editable,
			})
		}

		tx.Tombstones().Each(func(id string, at board.Watermark, final bool) {
			ts := snapshot.Tombstone{ID: id, Final: final}
			if !final {
				ts.At = at.String()
			}
			state.Tombstones = append(state.Tombstones, ts)
		})
		return nil
	})
	return state
}
