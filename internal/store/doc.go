// Package store provides durable storage for journeys, customers, events
// and journey locations.
//
// The journey_locations table is the authoritative answer to "where is
// customer C in journey J", and the only shared mutable state in the hot
// path. All writes to it go through the lock/unlock/move contract on
// Store:
//
//   - Lock sets move_started via a single guarded UPDATE; a non-null
//     move_started younger than the lock timeout means another worker is
//     transitioning the customer, and Lock fails with CustomerStillMoving.
//   - Unlock clears move_started and records the step the customer parks
//     at. It is idempotent: unlocking an already-unlocked row is a no-op.
//   - Move advances step_id only if the row is still at the expected
//     from-step, so a worker operating on stale state cannot clobber a
//     transition that already happened.
//
// The lock is a timestamp, not a version counter: an expired lock is
// simply re-acquirable, which self-heals stuck workers at the cost of
// occasional duplicate processing (which Move's guard absorbs).
//
// Storage is SQLite with WAL mode for concurrent reads during writes.
package store
