// Package processor implements the step-processor state machine: one
// handler per step kind, each consuming jobs from its kind's queue,
// computing the next step for the customer, and handing off to the next
// processor's queue.
//
// The lock discipline is uniform across kinds:
//
//   - A job normally arrives with the location lock held (taken at
//     enrollment or left held by the previous processor in the chain).
//     If the location is unlocked — a scanner re-trigger or a delayed
//     requeue whose lock expired while waiting — the handler re-acquires
//     it first; losing that race to another worker skips the job.
//   - Advancing to a live, non-time-gated destination uses the guarded
//     Move and keeps the lock held for the destination's processor.
//   - Advancing to a time-gated destination unlocks at the destination:
//     the customer parks there until the time-based scanner or a
//     matching event re-triggers it.
//   - A dangling destination releases the lock at the current step as a
//     safe fallback; a failed time gate does the same, preserving
//     step_entry so the gate keeps measuring from the original entry.
//
// A processor never advances step_id without the guarded Move, so a
// worker operating on stale state cannot corrupt a location; at worst
// its job becomes a no-op.
package processor
