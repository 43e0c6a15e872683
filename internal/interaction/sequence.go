package interaction

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/five82/threadline/internal/state"
)

// SequenceTracker hands out mutation sequence numbers and remembers, per
// field, which sequence produced the value currently shown.
//
// Issued numbers come from one counter, so they are strictly increasing and
// never reused for any key. Latest can move back when a rollback restores a
// value an earlier mutation produced; zero means the value came from the
// server.
type SequenceTracker struct {
	issued atomic.Uint64
	latest *xsync.MapOf[state.Key, uint64]
}

// NewSequenceTracker returns an empty tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{latest: xsync.NewMapOf[state.Key, uint64]()}
}

// Next issues a sequence for key and records it as the latest.
func (t *SequenceTracker) Next(key state.Key) uint64 {
	seq := t.issued.Add(1)
	t.latest.Store(key, seq)
	return seq
}

// Latest returns the sequence that owns key's current value.
func (t *SequenceTracker) Latest(key state.Key) uint64 {
	seq, _ := t.latest.Load(key)
	return seq
}

// IsLatest reports whether seq still owns key's value.
func (t *SequenceTracker) IsLatest(key state.Key, seq uint64) bool {
	return t.Latest(key) == seq
}

// Handback moves ownership of key from seq to owner when seq is still the
// latest. It reports whether ownership moved.
func (t *SequenceTracker) Handback(key state.Key, seq, owner uint64) bool {
	moved := false
	t.latest.Compute(key, func(cur uint64, loaded bool) (uint64, bool) {
		if !loaded || cur != seq {
			return cur, !loaded
		}
		moved = true
		return owner, owner == 0
	})
	return moved
}
