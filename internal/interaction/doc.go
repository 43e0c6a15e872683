// Package interaction applies likes, reactions and comment changes
// optimistically and reconciles them with the feed API.
//
// # Flow
//
// Dispatch validates the action and takes the in-flight guard for
// (entity, action). It reads the canonical value from the cache, snapshots
// it, writes the tentative value to every location showing the entity and
// issues a sequence number for the field. The remote call then runs in the
// background under the retry policy of the action.
//
// On settlement the mutation owns the field only if its sequence is still the
// latest for that field:
//
//   - success: the authoritative value is committed, or, when stale, becomes
//     the rollback target of newer mutations captured over it
//   - failure: the snapshot is restored and ownership handed back to the
//     mutation that produced it, or, when stale, newer snapshots are rebased
//     onto this mutation's snapshot
//   - toggle 5xx: the tentative value is kept, tagged unconfirmed and
//     persisted as a mark until a refresh resolves it
//
// Comment like and dislike share one field, so the user is never in both
// sets. Comment create and delete share the post's comment list.
//
// # Events
//
// Subscribers receive an Event for every settlement and for marks resolved
// against the server. Validation messages are passed through verbatim.
//
// # Refresh
//
// Apply and Merge load server state. Fields with a mutation in flight are
// skipped; every applied value bumps the field's commit count so older
// snapshots can no longer be restored over it.
package interaction
