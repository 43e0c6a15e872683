package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/five82/threadline/internal/feedapi"
	"github.com/five82/threadline/internal/marks"
	"github.com/five82/threadline/internal/retry"
	"github.com/five82/threadline/internal/state"
)

var (
	// ErrNotDisplayed is returned when the target entity is in no location.
	ErrNotDisplayed = errors.New("entity not displayed")
	// ErrInFlight is returned when the same action on the same entity is pending.
	ErrInFlight = errors.New("mutation already in flight")

	errFieldType = errors.New("unexpected field value")
)

// Status is the lifecycle of one interaction.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// InteractionState describes the mutation in flight for one entity and action.
type InteractionState struct {
	Status     Status
	Sequence   uint64
	Optimistic state.Value
	Committed  state.Value
}

// EventKind classifies user-facing notifications.
type EventKind int

const (
	// EventSucceeded is sent when a mutation is confirmed.
	EventSucceeded EventKind = iota
	// EventFailed is sent when a mutation failed terminally.
	EventFailed
	// EventUnconfirmed is sent when a failed toggle is kept locally.
	EventUnconfirmed
	// EventNotPersisted is sent when a refresh shows a kept toggle was lost.
	EventNotPersisted
	// EventSessionInvalid is sent when the server rejected the session.
	EventSessionInvalid
)

func (k EventKind) String() string {
	switch k {
	case EventFailed:
		return "failed"
	case EventUnconfirmed:
		return "unconfirmed"
	case EventNotPersisted:
		return "not_persisted"
	case EventSessionInvalid:
		return "session_invalid"
	default:
		return "succeeded"
	}
}

// Event is a toast-style notification.
type Event struct {
	Kind    EventKind
	Action  ActionKind
	Entity  state.EntityID
	Message string
	Err     error
}

// Outcome is the terminal result of a dispatched action.
type Outcome struct {
	Action   Action
	Status   Status
	Err      error
	Class    retry.Class
	Attempts int
	// Stale is true when a newer mutation owned the field at settlement.
	Stale bool
	// Unconfirmed is true when the optimistic value was kept after a failure.
	Unconfirmed bool
	// RolledBack is true when the snapshot was written back.
	RolledBack bool
	// CommentID is the server id of a created comment.
	CommentID state.EntityID
}

// Pending is a dispatched action awaiting settlement.
type Pending struct {
	m *mutation
}

// Done is closed once the action settled.
func (p *Pending) Done() <-chan struct{} {
	return p.m.done
}

// Sequence returns the action's sequence number.
func (p *Pending) Sequence() uint64 {
	return p.m.seq
}

// Wait blocks until settlement or ctx is done.
func (p *Pending) Wait(ctx context.Context) Outcome {
	select {
	case <-p.m.done:
		return p.m.outcome
	case <-ctx.Done():
		return Outcome{Action: p.m.action, Status: StatusPending, Err: ctx.Err()}
	}
}

// MarkStore persists kept-but-unconfirmed values.
type MarkStore interface {
	Put(marks.Mark) error
	Get(state.Key) (marks.Mark, bool, error)
	Delete(state.Key) error
}

// Options configure an Engine. Cache and Remote are required.
type Options struct {
	Cache   *state.Cache
	Remote  feedapi.Remote
	User    state.UserID
	Retry   retry.Config
	Marks   MarkStore
	Metrics *Metrics
	Logger  *zap.Logger
	// OnSessionInvalid runs after an authorization failure.
	OnSessionInvalid func(error)
}

// Engine applies user interactions optimistically and reconciles them with
// the server.
type Engine struct {
	cache            *state.Cache
	remote           feedapi.Remote
	user             state.UserID
	retryCfg         retry.Config
	marks            MarkStore
	metrics          *Metrics
	log              *zap.Logger
	onSessionInvalid func(error)

	snaps *SnapshotStore
	seqs  *SequenceTracker

	// mu serializes every cache write made on behalf of mutations and refreshes.
	mu            sync.Mutex
	inflight      map[guardKey]*mutation
	pendingFields map[state.Key]int

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

// New builds an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("new engine: cache is nil")
	}
	if opts.Remote == nil {
		return nil, fmt.Errorf("new engine: remote is nil")
	}
	cfg := opts.Retry
	if cfg == (retry.Config{}) {
		cfg = retry.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cache:            opts.Cache,
		remote:           opts.Remote,
		user:             opts.User,
		retryCfg:         cfg,
		marks:            opts.Marks,
		metrics:          opts.Metrics,
		log:              logger,
		onSessionInvalid: opts.OnSessionInvalid,
		snaps:            NewSnapshotStore(opts.Cache),
		seqs:             NewSequenceTracker(),
		inflight:         make(map[guardKey]*mutation),
		pendingFields:    make(map[state.Key]int),
		subs:             make(map[int]func(Event)),
	}, nil
}

// Cache returns the cache the engine writes to.
func (e *Engine) Cache() *state.Cache {
	return e.cache
}

// User returns the user whose interactions are applied.
func (e *Engine) User() state.UserID {
	return e.user
}

// VisibleState returns the canonical projection of a post or comment.
func (e *Engine) VisibleState(id state.EntityID) (state.Entity, bool) {
	return e.cache.Entity(id)
}

// InteractionState reports the mutation pending for (id, kind), if any.
// id is the comment for comment actions and the post otherwise.
func (e *Engine) InteractionState(id state.EntityID, kind ActionKind) InteractionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.inflight[guardKey{entity: id, kind: kind}]
	if !ok {
		return InteractionState{Status: StatusIdle}
	}
	return InteractionState{
		Status:     StatusPending,
		Sequence:   m.seq,
		Optimistic: m.tentative,
		Committed:  m.committed,
	}
}

// Subscribe registers fn for events until cancel is called. fn runs on the
// settling goroutine and must not block.
func (e *Engine) Subscribe(fn func(Event)) (cancel func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	e.subMu.RLock()
	subs := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.RUnlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// Apply replaces what loc shows with posts and loads them, together with
// comments, as server-confirmed values. Fields with a mutation in flight keep
// their tentative value.
func (e *Engine) Apply(loc state.Location, posts []feedapi.Post, comments []feedapi.Comment) {
	ids := make([]state.EntityID, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, state.EntityID(p.ID))
	}

	e.mu.Lock()
	e.cache.Show(loc, ids...)
	events := e.loadLocked(posts, comments)
	e.mu.Unlock()

	e.emit(events...)
}

// Merge loads records for entities already shown somewhere. Records of
// entities no location shows are ignored.
func (e *Engine) Merge(posts []feedapi.Post, comments []feedapi.Comment) {
	e.mu.Lock()
	events := e.loadLocked(posts, comments)
	e.mu.Unlock()

	e.emit(events...)
}

func (e *Engine) loadLocked(posts []feedapi.Post, comments []feedapi.Comment) []Event {
	var written []state.Key
	for _, p := range posts {
		written = append(written, e.cache.PutPost(postRecord(p), userSet(p.Likes), commentList(p.Comments), e.pendingLocked)...)
	}
	for _, c := range comments {
		cm, r, b := commentRecord(c)
		written = append(written, e.cache.PutComment(cm, r, b, e.pendingLocked)...)
	}
	return e.resolveMarksLocked(written)
}

func (e *Engine) pendingLocked(key state.Key) bool {
	return e.pendingFields[key] > 0
}

// resolveMarksLocked settles marks of freshly loaded fields against the
// server value.
func (e *Engine) resolveMarksLocked(written []state.Key) []Event {
	if e.marks == nil {
		return nil
	}
	var events []Event
	for _, key := range written {
		if key.Field != state.FieldLikes && key.Field != state.FieldReactions {
			continue
		}
		mark, ok, err := e.marks.Get(key)
		if err != nil {
			e.log.Warn("mark_read_failed", zap.String("key", key.String()), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if err := e.marks.Delete(key); err != nil {
			e.log.Warn("mark_delete_failed", zap.String("key", key.String()), zap.Error(err))
		}
		fs, _ := e.cache.Read(key)
		if fs.Value != nil && fs.Value.Equal(mark.Value()) {
			e.log.Debug("mark_confirmed", zap.String("key", key.String()))
			continue
		}
		kind := ActionKind(mark.Action)
		e.log.Warn("mark_not_persisted", zap.String("key", key.String()), zap.String("action", mark.Action))
		events = append(events, Event{
			Kind:    EventNotPersisted,
			Action:  kind,
			Entity:  key.Entity,
			Message: fmt.Sprintf("Your %s was not saved by the server.", kind.Label()),
		})
	}
	return events
}

// Label is a human-readable action name.
func (k ActionKind) Label() string {
	return strings.ReplaceAll(string(k), "_", " ")
}

func failureMessage(kind ActionKind, res retry.Result) string {
	var ve *retry.ValidationError
	switch res.Class {
	case retry.ClassValidation:
		if errors.As(res.Err, &ve) {
			return ve.Message
		}
		return res.Err.Error()
	case retry.ClassAuth:
		return "Your session is no longer valid. Sign in again."
	case retry.ClassTransient:
		return fmt.Sprintf("Network problem. Your %s was undone.", kind.Label())
	default:
		if res.Verdict.KeepUnconfirmed {
			return fmt.Sprintf("The server failed. Your %s may not have been saved.", kind.Label())
		}
		return fmt.Sprintf("The server failed. Your %s was undone.", kind.Label())
	}
}
