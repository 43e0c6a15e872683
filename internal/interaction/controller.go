package interaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/five82/threadline/internal/marks"
	"github.com/five82/threadline/internal/retry"
	"github.com/five82/threadline/internal/state"
)

// localIDPrefix marks comment ids created on this client.
const localIDPrefix = "local-"

type guardKey struct {
	entity state.EntityID
	kind   ActionKind
}

type mutation struct {
	action Action
	rule   *actionRule
	guard  guardKey
	key    state.Key
	user   state.UserID
	tempID state.EntityID
	// removedAt and removedAfter locate a deleted comment in the list so a
	// failed delete can put it back in place.
	removedAt    int
	removedAfter state.EntityID

	seq       uint64
	snap      SnapshotID
	tentative state.Value
	committed state.Value
	started   time.Time

	done    chan struct{}
	outcome Outcome
}

// Dispatch applies a tentatively and starts the remote call in the
// background. It returns ErrInFlight when the same action on the same entity
// is still pending, ErrNotDisplayed when no location shows the entity, and a
// *retry.ValidationError for malformed input. Nothing is written in those
// cases. The remote call runs until it settles or ctx is done.
func (e *Engine) Dispatch(ctx context.Context, a Action) (*Pending, error) {
	if err := validateAction(a); err != nil {
		return nil, err
	}
	a.Content = strings.TrimSpace(a.Content)

	m, err := e.begin(a)
	if err != nil {
		return nil, err
	}
	go e.run(ctx, m)
	return &Pending{m: m}, nil
}

func (e *Engine) begin(a Action) (*mutation, error) {
	rule := rules[a.Kind]
	m := &mutation{
		action:  a,
		rule:    rule,
		guard:   guardKey{entity: rule.guardEntity(a), kind: a.Kind},
		key:     state.Key{Entity: rule.target(a), Field: rule.field},
		user:    e.user,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, busy := e.inflight[m.guard]; busy {
		e.log.Debug("mutation_dropped", zap.String("action", string(a.Kind)), zap.String("entity", string(m.guard.entity)))
		return nil, fmt.Errorf("%s %s: %w", a.Kind, m.guard.entity, ErrInFlight)
	}
	if rule.needsComment {
		if _, ok := e.cache.Comment(a.CommentID); !ok {
			return nil, fmt.Errorf("%s %s: %w", a.Kind, a.CommentID, ErrNotDisplayed)
		}
	}
	cur, ok := e.cache.Read(m.key)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", a.Kind, m.key, ErrNotDisplayed)
	}
	if a.Kind == ActionCommentCreate {
		m.tempID = state.EntityID(localIDPrefix + uuid.NewString())
	}
	tentative, err := rule.apply(m, cur.Value)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", a.Kind, err)
	}
	snap, err := e.snaps.Capture(m.key, e.seqs.Latest(m.key))
	if err != nil {
		return nil, err
	}

	if m.tempID != "" {
		e.cache.PutComment(state.Comment{
			ID:        m.tempID,
			PostID:    a.PostID,
			Author:    state.UserRef{ID: e.user},
			CreatedAt: m.started,
			Local:     true,
		}, state.Reactions{}, state.CommentBody{Content: a.Content}, nil)
	}
	e.cache.Write(m.key, tentative, state.Pending)

	m.snap = snap
	m.committed = cur.Value
	m.tentative = tentative
	m.seq = e.seqs.Next(m.key)
	e.inflight[m.guard] = m
	e.pendingFields[m.key]++

	e.log.Debug("mutation_started",
		zap.String("action", string(a.Kind)),
		zap.String("key", m.key.String()),
		zap.Uint64("seq", m.seq),
	)
	return m, nil
}

func (e *Engine) run(ctx context.Context, m *mutation) {
	var rep reply
	res := retry.Do(ctx, e.retryCfg, m.rule.policy, func(ctx context.Context, attempt int) error {
		r, err := m.rule.call(ctx, e.remote, m)
		if err != nil {
			return err
		}
		rep = r
		return nil
	}, func(st retry.State, attempt int, err error) {
		if st != retry.StateRetrying {
			return
		}
		e.metrics.retried(m.action.Kind)
		e.log.Info("mutation_retry",
			zap.String("action", string(m.action.Kind)),
			zap.String("key", m.key.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	})

	events := e.settle(m, res, rep)
	e.emit(events...)
	if res.Verdict.InvalidateSession && e.onSessionInvalid != nil {
		e.onSessionInvalid(res.Err)
	}
	close(m.done)
}

func (e *Engine) settle(m *mutation, res retry.Result, rep reply) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.inflight, m.guard)
	if e.pendingFields[m.key]--; e.pendingFields[m.key] <= 0 {
		delete(e.pendingFields, m.key)
	}

	latest := e.seqs.IsLatest(m.key, m.seq)
	out := Outcome{Action: m.action, Attempts: res.Attempts, Stale: !latest}
	fields := []zap.Field{
		zap.String("action", string(m.action.Kind)),
		zap.String("key", m.key.String()),
		zap.Uint64("seq", m.seq),
		zap.Bool("stale", !latest),
	}
	if !latest {
		e.metrics.staleSettlement(m.action.Kind)
		e.log.Debug("stale_settlement", fields...)
	}

	var events []Event
	label := "succeeded"
	if res.State == retry.StateSucceeded {
		out.Status = StatusSucceeded
		out.CommentID = e.reconcileLocked(m, rep, latest)
		e.log.Debug("mutation_settled", fields...)
		events = append(events, Event{Kind: EventSucceeded, Action: m.action.Kind, Entity: m.key.Entity})
	} else {
		out.Status = StatusFailed
		out.Err = res.Err
		out.Class = res.Class
		msg := failureMessage(m.action.Kind, res)
		fields = append(fields, zap.String("class", res.Class.String()), zap.Error(res.Err))

		if res.Verdict.KeepUnconfirmed {
			label = "unconfirmed"
			out.Unconfirmed = true
			e.keepUnconfirmedLocked(m, latest)
			e.log.Warn("mutation_unconfirmed", fields...)
			events = append(events, Event{Kind: EventUnconfirmed, Action: m.action.Kind, Entity: m.key.Entity, Message: msg, Err: res.Err})
		} else {
			label = "rolled_back"
			out.RolledBack = e.rollbackLocked(m, latest)
			e.log.Info("mutation_rolled_back", append(fields, zap.Bool("restored", out.RolledBack))...)
			events = append(events, Event{Kind: EventFailed, Action: m.action.Kind, Entity: m.key.Entity, Message: msg, Err: res.Err})
		}
		if res.Verdict.InvalidateSession {
			e.log.Warn("session_invalid", fields...)
			events = append(events, Event{Kind: EventSessionInvalid, Action: m.action.Kind, Entity: m.key.Entity, Message: msg, Err: res.Err})
		}
	}

	e.metrics.settled(m.action.Kind, label, time.Since(m.started))
	m.outcome = out
	return events
}

// reconcileLocked folds a successful reply into the cache. Only the latest
// mutation of a field writes its value; a stale reply instead becomes the
// rollback target of the newer mutations captured over it.
func (e *Engine) reconcileLocked(m *mutation, rep reply, latest bool) state.EntityID {
	var created state.EntityID
	if rep.comment != nil && m.action.Kind == ActionCommentCreate {
		cm, r, b := commentRecord(*rep.comment)
		if cm.PostID == "" {
			cm.PostID = m.action.PostID
		}
		e.cache.PutComment(cm, r, b, e.pendingLocked)
		created = cm.ID
	}

	if latest {
		if cur, ok := e.cache.Read(m.key); ok {
			e.cache.Commit(m.key, rep.authority(cur.Value))
		}
		e.seqs.Handback(m.key, m.seq, 0)
		if m.rule.policy.Toggle {
			e.deleteMarkLocked(m.key)
		}
	} else {
		e.snaps.Rebase(m.key, m.seq, rep.authority, state.Confirmed, 0, "")
		if m.tempID != "" {
			// Swap the temporary id inside the newer tentative list.
			if cur, ok := e.cache.Read(m.key); ok {
				e.cache.Write(m.key, rep.authority(cur.Value), cur.Confirmation)
			}
		}
	}
	e.snaps.Discard(m.snap)

	switch {
	case m.tempID != "":
		e.cache.RemoveComment(m.tempID)
	case m.action.Kind == ActionCommentDelete:
		e.cache.RemoveComment(m.action.CommentID)
	}
	return created
}

// rollbackLocked restores the snapshot when m still owns the field. It
// reports whether a value was written back.
func (e *Engine) rollbackLocked(m *mutation, latest bool) bool {
	if m.tempID != "" {
		defer e.cache.RemoveComment(m.tempID)
	}

	if !latest {
		if snap, ok := e.snaps.Get(m.snap); ok {
			e.snaps.Rebase(m.key, m.seq, constant(snap.Prev), snap.PrevConfirmation, snap.Owner, snap.KeptBy)
		}
		e.snaps.Discard(m.snap)
		if m.rule.undo != nil {
			e.undoLocked(m)
		}
		return false
	}

	snap, restored := e.snaps.Restore(m.snap)
	owner := uint64(0)
	if restored {
		owner = snap.Owner
		if snap.PrevConfirmation == state.Unconfirmed && snap.KeptBy != "" {
			e.putMarkLocked(m.key, snap.KeptBy, snap.Prev)
		}
	}
	e.seqs.Handback(m.key, m.seq, owner)
	return restored
}

// undoLocked takes a failed mutation's change out of a field that a newer
// mutation of another kind now owns: out of the shown value and out of every
// snapshot the newer mutations could restore.
func (e *Engine) undoLocked(m *mutation) {
	undo := func(v state.Value) state.Value { return m.rule.undo(m, v) }
	e.snaps.Rewrite(m.key, undo)
	if cur, ok := e.cache.Read(m.key); ok {
		e.cache.Write(m.key, undo(cur.Value), cur.Confirmation)
	}
}

// keepUnconfirmedLocked leaves the tentative value in place, tagged as not
// confirmed, and records it durably.
func (e *Engine) keepUnconfirmedLocked(m *mutation, latest bool) {
	e.snaps.Discard(m.snap)
	if !latest {
		// The value only shows again if the newer mutations roll back; the
		// mark is written then.
		e.snaps.Rebase(m.key, m.seq, func(v state.Value) state.Value { return v }, state.Unconfirmed, 0, m.action.Kind)
		return
	}

	e.cache.Confirm(m.key, state.Unconfirmed)
	e.seqs.Handback(m.key, m.seq, 0)
	if cur, ok := e.cache.Read(m.key); ok {
		e.putMarkLocked(m.key, m.action.Kind, cur.Value)
	}
}

func (e *Engine) putMarkLocked(key state.Key, kind ActionKind, v state.Value) {
	if e.marks == nil {
		return
	}
	mark, err := marks.FromValue(key, string(kind), v, time.Now())
	if err == nil {
		err = e.marks.Put(mark)
	}
	if err != nil {
		e.log.Warn("mark_write_failed", zap.String("key", key.String()), zap.Error(err))
	}
}

func (e *Engine) deleteMarkLocked(key state.Key) {
	if e.marks == nil {
		return
	}
	if err := e.marks.Delete(key); err != nil {
		e.log.Warn("mark_delete_failed", zap.String("key", key.String()), zap.Error(err))
	}
}
