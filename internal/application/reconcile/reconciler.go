// Package reconcile merges poll deltas into the session's rendered board.
//
// A delta is applied in one session update: chat rows become chat lines,
// text rows are diffed against the registry by id, content and committed
// position, and deletions are remembered so a stale row can never bring a
// note back. Display names are resolved before the update starts, so no
// network call ever happens while the session is held.
package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/application/session"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/infrastructure/observability"
	"github.com/mariamrf/pegasus/pkg/api"
)

// Options wires a Reconciler.
type Options struct {
	Session *session.BoardSession
	Names   *DisplayNames
	Chat    *ChatAppender
	Metrics *observability.Collector
	Tracer  trace.Tracer
	Logger  *zap.Logger
}

// Outcome counts what one delta did.
type Outcome struct {
	Rendered   int
	Unchanged  int
	Removed    int
	Suppressed int
	Stashed    int
	Superseded int
	Chat       int
	Ignored    int
	Invalid    int

	Locked    bool
	Finished  bool
	Watermark board.Watermark
}

// Reconciler applies poll responses to one board session.
type Reconciler struct {
	session *session.BoardSession
	names   *DisplayNames
	chat    *ChatAppender
	metrics *observability.Collector
	tracer  trace.Tracer
	logger  *zap.Logger

	// shown is the interaction state last announced to observers. It is only
	// read and written inside session updates.
	shown interactionView
}

type interactionView struct {
	announced bool
	enabled   bool
	reason    board.DisableReason
	notice    string
}

// New creates a reconciler.
func New(opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}
	names := opts.Names
	if names == nil {
		names = NewDisplayNames(nil, nil, 0, opts.Metrics, logger)
	}
	chat := opts.Chat
	if chat == nil {
		chat = NewChatAppender(NewColorBook(opts.Session.Invite().Whoami()), nil)
	}
	return &Reconciler{
		session: opts.Session,
		names:   names,
		chat:    chat,
		metrics: opts.Metrics,
		tracer:  tracer,
		logger:  logger.Named("reconcile").With(zap.String("board_id", opts.Session.BoardID())),
	}
}

// Apply merges one poll response fetched just now. A response whose error
// field carries a real failure still updates the lock state, then reports
// the failure.
func (r *Reconciler) Apply(ctx context.Context, resp *api.PollResponse) (Outcome, error) {
	return r.ApplyFetch(ctx, r.session.BeginFetch(), resp)
}

// ApplyFetch merges a poll response taken at fetch. Rows for elements whose
// write settled while the poll was out describe the board before that write
// and are dropped; the write brings them back in the next delta.
func (r *Reconciler) ApplyFetch(ctx context.Context, fetch session.Fetch, resp *api.PollResponse) (out Outcome, err error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.Apply",
		trace.WithAttributes(observability.BoardAttributes(r.session.BoardID(), r.session.Invite().Token())...),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("records.rendered", out.Rendered),
			attribute.Int("records.removed", out.Removed),
			attribute.Int("records.chat", out.Chat),
		)
		observability.EndSpan(span, err)
	}()

	if resp == nil {
		return out, apperrors.Internal(apperrors.CodeInvalidResponse, "nil poll response").
			WithOperation("reconcile.Apply").
			Build()
	}

	failure := resp.Failure()

	var records []board.Record
	if failure == "" {
		var decodeErrs []error
		records, decodeErrs = resp.Records()
		for _, e := range decodeErrs {
			out.Invalid++
			r.metrics.ObserveRecord("unknown", observability.RecordInvalid)
			r.logger.Warn("Skipping undecodable record", zap.Error(e))
		}
	}

	lock := board.LockState{Locked: bool(resp.Locked), LockedBy: resp.LockedBy.String()}
	names := r.names.ResolveAll(ctx, nameLookups(lock, records))
	if lock.Locked {
		lock.LockedByName = nameOr(names, lock.LockedBy)
	}

	err = r.session.Update(ctx, func(tx *session.Tx) error {
		r.applyRecords(tx, fetch.Generation, records, names, &out)
		tx.ForgetSettled(fetch.Generation)

		tx.SetLock(lock)
		if bool(resp.Finished) {
			tx.Interaction().Finish()
		}
		r.announce(tx)

		out.Locked = lock.Locked
		out.Finished = tx.Interaction().Finished()
		out.Watermark = tx.Watermark()
		r.metrics.SetBoardState(tx.Registry().Len(), lock.Locked)
		return nil
	})
	if err != nil {
		return out, err
	}

	if failure != "" {
		ue := apperrors.FromBackendMessage("reconcile.Apply", failure)
		ue.BoardID = r.session.BoardID()
		return out, ue
	}
	return out, nil
}

// Replay applies a text row that was held back while a write on its element
// was in flight. It runs inside the caller's update.
func (r *Reconciler) Replay(tx *session.Tx, rec board.Record) {
	outcome := r.applyText(tx, tx.Generation(), rec)
	r.metrics.ObserveRecord(rec.Kind.String(), outcome)
	r.logger.Debug("Replayed held-back record",
		zap.String("element_id", rec.ID),
		zap.String("outcome", outcome),
	)
}

func (r *Reconciler) applyRecords(tx *session.Tx, gen uint64, records []board.Record, names map[string]string, out *Outcome) {
	appended := 0
	for _, rec := range records {
		var outcome string
		switch rec.Kind {
		case board.KindChat:
			if rec.Deleted {
				outcome = observability.RecordIgnored
				break
			}
			sender := rec.AuthorEmail
			if rec.HasUserID() {
				sender = nameOr(names, rec.AuthorID)
			}
			r.chat.Append(tx, rec, sender)
			appended++
			outcome = observability.RecordChat
		case board.KindText:
			outcome = r.applyText(tx, gen, rec)
		default:
			outcome = observability.RecordIgnored
		}

		out.count(outcome)
		r.metrics.ObserveRecord(rec.Kind.String(), outcome)
		tx.AdvanceWatermark(rec.LastModified)
	}
	r.chat.Scroll(tx, appended)
}

// applyText diffs one text row, fetched at generation gen, against the
// registry and returns the record outcome.
func (r *Reconciler) applyText(tx *session.Tx, gen uint64, rec board.Record) string {
	reg := tx.Registry()
	tombs := tx.Tombstones()

	if rec.Deleted {
		tombs.Bury(rec.ID, rec.LastModified)
		// Server deletions win over in-flight writes; the backend ignores
		// writes to deleted rows anyway.
		if el, ok := reg.Remove(rec.ID); ok {
			tx.Emit(board.NewElementRemoved(tx.BoardID(), el, board.RemovedByServer))
		}
		return observability.RecordRemoved
	}

	if tombs.Suppresses(rec.ID, rec.LastModified) {
		return observability.RecordTombstoned
	}
	tombs.Forget(rec.ID)

	if tx.InFlight(rec.ID) {
		tx.Stash(rec)
		return observability.RecordStashed
	}
	if tx.SettledAfter(rec.ID, gen) {
		return observability.RecordSuperseded
	}

	if reg.Match(rec.ID, rec.Content, rec.Position) {
		return observability.RecordUnchanged
	}

	softID := ""
	if old, ok := reg.Remove(rec.ID); ok {
		softID = old.SoftID
		tx.Emit(board.NewElementRemoved(tx.BoardID(), old, board.RemovedForReplace))
	}
	if softID == "" {
		softID = uuid.NewString()
	}

	el := board.NewFromRecord(rec, softID, tx.CanEdit())
	if err := reg.Add(el); err != nil {
		r.logger.Warn("Could not register server element",
			zap.String("element_id", rec.ID),
			zap.Error(err),
		)
		return observability.RecordInvalid
	}
	tx.Emit(board.NewElementRendered(tx.BoardID(), el))
	return observability.RecordRendered
}

// announce tells observers about interaction changes. Nothing is sent while
// the state stays the same, so a board that stays locked does not repeat
// its banner every second.
func (r *Reconciler) announce(tx *session.Tx) {
	in := tx.Interaction()
	lock := tx.Lock()

	view := interactionView{announced: true, enabled: in.Enabled()}
	if !view.enabled {
		view.reason = in.Reason()
		if view.reason == board.ReasonLocked {
			view.notice = lock.Notice()
		}
	}

	switch {
	case view == r.shown:
		return
	case !view.enabled:
		tx.Emit(board.NewInteractionDisabled(tx.BoardID(), view.reason, lock))
	case r.shown.announced:
		tx.Emit(board.NewInteractionEnabled(tx.BoardID()))
	}
	r.shown = view
}

// nameLookups lists the user ids a batch needs names for.
func nameLookups(lock board.LockState, records []board.Record) []string {
	var ids []string
	if lock.Locked && lock.LockedBy != "" {
		ids = append(ids, lock.LockedBy)
	}
	for _, rec := range records {
		if rec.Kind == board.KindChat && rec.HasUserID() {
			ids = append(ids, rec.AuthorID)
		}
	}
	return ids
}

func nameOr(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}

func (o *Outcome) count(outcome string) {
	switch outcome {
	case observability.RecordRendered:
		o.Rendered++
	case observability.RecordUnchanged:
		o.Unchanged++
	case observability.RecordRemoved:
		o.Removed++
	case observability.RecordTombstoned:
		o.Suppressed++
	case observability.RecordStashed:
		o.Stashed++
	case observability.RecordSuperseded:
		o.Superseded++
	case observability.RecordChat:
		o.Chat++
	case observability.RecordIgnored:
		o.Ignored++
	case observability.RecordInvalid:
		o.Invalid++
	}
}

// String summarizes the outcome for logs.
func (o Outcome) String() string {
	return fmt.Sprintf("rendered=%d unchanged=%d removed=%d suppressed=%d stashed=%d superseded=%d chat=%d ignored=%d invalid=%d",
		o.Rendered, o.Unchanged, o.Removed, o.Suppressed, o.Stashed, o.Superseded, o.Chat, o.Ignored, o.Invalid)
}
