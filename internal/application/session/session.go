// Package session holds the per-board state every component works on: the
// element registry, the poll watermark, the deletion ledger, the lock and
// finished state, chat grouping and the set of in-flight mutations.
//
// All of it is reached through BoardSession.Update, which serializes access
// and publishes the render events produced inside it in order. Network I/O
// never happens inside Update.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/application/events"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
)

// Options configures a BoardSession.
type Options struct {
	BoardID    string
	Invite     InviteSession
	CanEdit    bool
	Finished   bool
	DoneAt     time.Time
	Dispatcher *events.Dispatcher
	Logger     *zap.Logger
}

// BoardSession is the explicit context of one open board.
type BoardSession struct {
	boardID string
	invite  InviteSession
	canEdit bool
	doneAt  time.Time

	mu          sync.Mutex
	registry    *board.Registry
	watermark   board.Watermark
	tombstones  *board.Tombstones
	interaction board.Interaction
	lock        board.LockState
	prevSender  string
	inflight    map[string]*pending
	generation  uint64
	settled     map[string]uint64

	locks *elementLocks

	dispatcher *events.Dispatcher
	logger     *zap.Logger
}

// pending is a mutation awaiting acknowledgment. Poll rows for its element
// wait here instead of being applied.
type pending struct {
	count   int
	stashed *board.Record
}

// New creates a session with an empty registry and the initial watermark.
func New(opts Options) *BoardSession {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewDispatcher(logger)
	}

	s := &BoardSession{
		boardID:    opts.BoardID,
		invite:     opts.Invite,
		canEdit:    opts.CanEdit,
		doneAt:     opts.DoneAt,
		registry:   board.NewRegistry(),
		watermark:  board.InitialWatermark(),
		tombstones: board.NewTombstones(),
		inflight:   make(map[string]*pending),
		settled:    make(map[string]uint64),
		locks:      newElementLocks(),
		dispatcher: dispatcher,
		logger:     logger.Named("session").With(zap.String("board_id", opts.BoardID)),
	}
	if opts.Finished {
		s.interaction.Finish()
	}
	return s
}

// BoardID returns the board this session follows.
func (s *BoardSession) BoardID() string {
	return s.boardID
}

// Invite returns the invite session.
func (s *BoardSession) Invite() InviteSession {
	return s.invite
}

// DoneAt returns when the board closes, zero if unknown.
func (s *BoardSession) DoneAt() time.Time {
	return s.doneAt
}

// Dispatcher returns the event dispatcher observers subscribe to.
func (s *BoardSession) Dispatcher() *events.Dispatcher {
	return s.dispatcher
}

// Update runs fn with exclusive access to the session state. Events emitted
// through the Tx are published, in order, before Update returns; they are
// published even when fn fails, since fn may already have changed state.
func (s *BoardSession) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{s: s}
	err := fn(tx)
	s.dispatcher.Publish(ctx, tx.events...)
	return err
}

// Snapshot is a consistent read of the session state.
type Snapshot struct {
	Watermark  board.Watermark
	Elements   []*board.PositionedElement
	Tombstones int
	Lock       board.LockState
	Enabled    bool
	Finished   bool
	Reason     board.DisableReason
	CanEdit    bool
	InFlight   int
	PrevSender string
}

// Snapshot copies the current state.
func (s *BoardSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	elements := s.registry.All()
	for i, e := range elements {
		elements[i] = e.Clone()
	}
	return Snapshot{
		Watermark:  s.watermark,
		Elements:   elements,
		Tombstones: s.tombstones.Len(),
		Lock:       s.lock,
		Enabled:    s.interaction.Enabled(),
		Finished:   s.interaction.Finished(),
		Reason:     s.interaction.Reason(),
		CanEdit:    s.canEdit,
		InFlight:   len(s.inflight),
		PrevSender: s.prevSender,
	}
}

// Fetch stamps one poll: the watermark it asks from and the write
// generation at the moment it was taken.
type Fetch struct {
	Since      board.Watermark
	Generation uint64
}

// BeginFetch takes the watermark for a poll. Rows of that poll for an
// element whose write settled after this point predate the write.
func (s *BoardSession) BeginFetch() Fetch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Fetch{Since: s.watermark, Generation: s.generation}
}

// AcquireElement serializes mutations of one element. key is the element id,
// or the soft id of a note being created. It waits until the element is
// free or ctx is done.
func (s *BoardSession) AcquireElement(ctx context.Context, key string) (func(), error) {
	release, err := s.locks.acquire(ctx, key)
	if err != nil {
		return nil, apperrors.Timeout(apperrors.CodeRequestTimeout, "element is busy").
			WithResource(key).
			WithBoard(s.boardID).
			WithCause(err).
			Build()
	}
	return release, nil
}

// ============================================================================
// TRANSACTION VIEW
// ============================================================================

// Tx is the session state as seen inside Update. It must not escape fn.
type Tx struct {
	s      *BoardSession
	events []board.Event
}

// BoardID returns the session's board.
func (tx *Tx) BoardID() string {
	return tx.s.boardID
}

// Invite returns the invite session.
func (tx *Tx) Invite() InviteSession {
	return tx.s.invite
}

// Registry returns the element registry.
func (tx *Tx) Registry() *board.Registry {
	return tx.s.registry
}

// Tombstones returns the deletion ledger.
func (tx *Tx) Tombstones() *board.Tombstones {
	return tx.s.tombstones
}

// Watermark returns the current watermark.
func (tx *Tx) Watermark() board.Watermark {
	return tx.s.watermark
}

// AdvanceWatermark moves the watermark forward; it never regresses.
func (tx *Tx) AdvanceWatermark(w board.Watermark) bool {
	return tx.s.watermark.Advance(w)
}

// Interaction returns the interaction state for update.
func (tx *Tx) Interaction() *board.Interaction {
	return &tx.s.interaction
}

// Lock returns the lock state of the latest poll.
func (tx *Tx) Lock() board.LockState {
	return tx.s.lock
}

// SetLock replaces the lock state.
func (tx *Tx) SetLock(lock board.LockState) {
	tx.s.lock = lock
	tx.s.interaction.SetLocked(lock.Locked)
}

// CanEdit reports the viewer's edit right on the board, regardless of lock.
func (tx *Tx) CanEdit() bool {
	return tx.s.canEdit
}

// Editable reports whether the viewer may mutate notes right now.
func (tx *Tx) Editable() bool {
	return tx.s.canEdit && tx.s.interaction.Enabled()
}

// PrevSender is the sender of the last chat line drawn.
func (tx *Tx) PrevSender() string {
	return tx.s.prevSender
}

// SetPrevSender records the sender of the last chat line drawn.
func (tx *Tx) SetPrevSender(sender string) {
	tx.s.prevSender = sender
}

// Emit queues events for publication when Update returns.
func (tx *Tx) Emit(events ...board.Event) {
	tx.events = append(tx.events, events...)
}

// Emitted returns the number of events queued so far.
func (tx *Tx) Emitted() int {
	return len(tx.events)
}

// BeginMutation marks id as having a write in flight.
func (tx *Tx) BeginMutation(id string) {
	p, ok := tx.s.inflight[id]
	if !ok {
		p = &pending{}
		tx.s.inflight[id] = p
	}
	p.count++
}

// EndMutation clears the in-flight mark. It returns the newest poll row
// held back for id when the write failed; on success the row is dropped,
// since the write itself makes the row reappear in the next delta.
func (tx *Tx) EndMutation(id string, succeeded bool) *board.Record {
	p, ok := tx.s.inflight[id]
	if !ok {
		return nil
	}
	p.count--
	if p.count > 0 {
		return nil
	}
	delete(tx.s.inflight, id)
	if succeeded {
		tx.s.generation++
		tx.s.settled[id] = tx.s.generation
		return nil
	}
	return p.stashed
}

// Generation is the number of writes settled so far.
func (tx *Tx) Generation() uint64 {
	return tx.s.generation
}

// SettledAfter reports whether a write on id succeeded after generation
// gen, which makes a row fetched at gen older than the local state.
func (tx *Tx) SettledAfter(id string, gen uint64) bool {
	return tx.s.settled[id] > gen
}

// ForgetSettled drops settlement marks no later than gen. Polls run one
// at a time, so no fetch taken later can need them.
func (tx *Tx) ForgetSettled(gen uint64) {
	for id, g := range tx.s.settled {
		if g <= gen {
			delete(tx.s.settled, id)
		}
	}
}

// InFlight reports whether id has a write awaiting acknowledgment.
func (tx *Tx) InFlight(id string) bool {
	_, ok := tx.s.inflight[id]
	return ok
}

// Stash holds rec back until the write on its element settles. Only the
// newest row is kept.
func (tx *Tx) Stash(rec board.Record) {
	p, ok := tx.s.inflight[rec.ID]
	if !ok {
		return
	}
	if p.stashed == nil || !p.stashed.LastModified.After(rec.LastModified) {
		r := rec
		p.stashed = &r
	}
}

// ============================================================================
// PER-ELEMENT LOCKS
// ============================================================================

type elementLock struct {
	ch   chan struct{}
	refs int
}

type elementLocks struct {
	mu    sync.Mutex
	locks map[string]*elementLock
}

func newElementLocks() *elementLocks {
	return &elementLocks{locks: make(map[string]*elementLock)}
}

func (l *elementLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	el, ok := l.locks[key]
	if !ok {
		el = &elementLock{ch: make(chan struct{}, 1)}
		l.locks[key] = el
	}
	el.refs++
	l.mu.Unlock()

	select {
	case el.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, el)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-el.ch
			l.drop(key, el)
		})
	}, nil
}

func (l *elementLocks) drop(key string, el *elementLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el.refs--
	if el.refs == 0 {
		delete(l.locks, key)
	}
}
