// Package drift is the deferred mutation scheduler.
//
// Every entry id owns at most one pending timer. Activity on an entry
// (created, edited, left) re-arms the timer for the full delay, superseding
// any pending one. While an entry is being viewed no timer is armed at all;
// leaving the view restarts the countdown from zero.
//
// When a timer fires, its registry entry is removed first and the
// MutationJob runs outside the scheduler lock: load entry, resolve the
// owner's change rate, ask the oracle once, write the result back. Nothing
// is retried; drift only happens again on the next activity event.
//
// Lifecycle lines are logged under comp=drift and published on the event
// bus as drift.* events.
package drift
