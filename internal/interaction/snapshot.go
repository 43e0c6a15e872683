package interaction

import (
	"fmt"
	"sync"

	"github.com/five82/threadline/internal/state"
)

// SnapshotID identifies a captured snapshot.
type SnapshotID uint64

// Snapshot is the value a field held before a mutation overwrote it.
type Snapshot struct {
	ID   SnapshotID
	Key  state.Key
	Prev state.Value
	// PrevConfirmation is restored together with Prev.
	PrevConfirmation state.Confirmation
	// KeptBy is the action whose failed call left Prev unconfirmed. Restoring
	// such a value records it as a mark again.
	KeptBy ActionKind
	// Owner is the sequence that produced Prev at capture time; zero for a
	// server value.
	Owner uint64
	// Commit is the field's commit count at capture. A later commit makes the
	// snapshot too old to restore.
	Commit uint64
}

// SnapshotStore holds snapshots of in-flight mutations.
type SnapshotStore struct {
	cache *state.Cache

	mu    sync.Mutex
	next  SnapshotID
	snaps map[SnapshotID]*Snapshot
}

// NewSnapshotStore returns a store reading from cache.
func NewSnapshotStore(cache *state.Cache) *SnapshotStore {
	return &SnapshotStore{cache: cache, snaps: make(map[SnapshotID]*Snapshot)}
}

// Capture records key's canonical value as owned by owner.
func (s *SnapshotStore) Capture(key state.Key, owner uint64) (SnapshotID, error) {
	fs, ok := s.cache.Read(key)
	if !ok {
		return 0, fmt.Errorf("capture %s: %w", key, ErrNotDisplayed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.snaps[s.next] = &Snapshot{
		ID:               s.next,
		Key:              key,
		Prev:             fs.Value.Clone(),
		PrevConfirmation: fs.Confirmation,
		Owner:            owner,
		Commit:           fs.Commit,
	}
	return s.next, nil
}

// Get returns a copy of a held snapshot.
func (s *SnapshotStore) Get(id SnapshotID) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// Restore writes the snapshot back to every location and discards it. It
// is a no-op, reporting false, when the field was committed after capture or
// the entity is no longer displayed.
func (s *SnapshotStore) Restore(id SnapshotID) (Snapshot, bool) {
	s.mu.Lock()
	snap, ok := s.snaps[id]
	delete(s.snaps, id)
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return *snap, s.cache.CompareAndWrite(snap.Key, snap.Commit, snap.Prev, snap.PrevConfirmation)
}

// Discard drops a snapshot without restoring it.
func (s *SnapshotStore) Discard(id SnapshotID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, id)
}

// Rebase rewrites snapshots of key captured over a value owned by from. Each
// matching Prev becomes rewrite(Prev), owned by owner, tagged conf and kept
// by keptBy. It returns the number of snapshots changed.
func (s *SnapshotStore) Rebase(key state.Key, from uint64, rewrite func(state.Value) state.Value, conf state.Confirmation, owner uint64, keptBy ActionKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, snap := range s.snaps {
		if snap.Key != key || snap.Owner != from {
			continue
		}
		snap.Prev = rewrite(snap.Prev).Clone()
		snap.PrevConfirmation = conf
		snap.Owner = owner
		snap.KeptBy = keptBy
		n++
	}
	return n
}

// Rewrite replaces Prev of every snapshot of key with rewrite(Prev), leaving
// ownership and confirmation alone.
func (s *SnapshotStore) Rewrite(key state.Key, rewrite func(state.Value) state.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range s.snaps {
		if snap.Key == key {
			snap.Prev = rewrite(snap.Prev).Clone()
		}
	}
}

// Len returns the number of held snapshots.
func (s *SnapshotStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}
