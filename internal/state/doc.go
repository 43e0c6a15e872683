// Package state holds the canonical client-side cache that every view renders.
//
// # Overview
//
// The Cache keeps exactly one value per (entity, field) pair. The feed list and
// the post detail pane are Locations: each declares which posts it displays via
// Show, and both read the same projections (Post, Comment, Feed). There is no
// view-local copy of an interaction value that could drift from the cache.
//
// # Fields
//
// Interaction state is split into four fields:
//
//   - (post, likes): UserSet of liking users
//   - (post, comments): ordered CommentList
//   - (comment, reactions): Reactions pair, likes and dislikes together
//   - (comment, body): CommentBody with the edited flag
//
// Each FieldState carries a Confirmation tag (confirmed, pending, unconfirmed)
// and a Commit stamp taken from a cache-wide counter on every authoritative
// write. Snapshots taken by the interaction engine remember the Commit they
// saw so a rollback never reintroduces a value older than a later server
// update, even when the field was dropped and loaded again in between.
//
// # Writes
//
//	cache.Write(key, v, state.Pending)       // tentative, broadcast to holders
//	cache.Commit(key, v)                     // authoritative, new Commit stamp
//	cache.CompareAndWrite(key, commit, v, c) // rollback guarded by Commit
//
// Writes to an entity that no Location shows are dropped and report zero
// locations written. Comments are held through their parent post.
//
// # Concurrency Model
//
// A sync.RWMutex guards everything. Writers hold the lock only for the map
// update and the non-blocking fan-out to subscribers; projections are built
// under the read lock and returned by value.
//
// # Refresh Status
//
// RecordRefresh/Status keep the poller's last error and consecutive failure
// count so the header can show an offline banner.
package state
