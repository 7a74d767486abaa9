// Package engine keeps an in-memory view of one categorized collection
// correct while it is edited optimistically and read back from a slower,
// eventually consistent persistence strategy.
//
// ARCHITECTURE:
//
// Mutation Pipeline (Add, Update, Delete, ResetToDefaults):
// 1. Validate the category and id; nothing changes on a ValidationError
// 2. Persist through the active strategy.Strategy
// 3. Apply the change to memory optimistically (not rolled back on failure)
// 4. Bump the update counter, hydrate once, notify observers
//
// Hydration Pipeline (Load, Hydrate):
// 1. Purge expired tombstones
// 2. Restore and expire the persisted suppression map
// 3. List, filter tombstoned and suppressed ids, normalize, group
// 4. Apply only a non-empty mapping (OutcomeDataSet); an empty one is
//    OutcomeEmptySet and an unreachable strategy is OutcomeNoData
//
// Deletion caches:
// A delete marks the id in the in-memory tombstone cache (2s filter
// window, 10s purge horizon) and in the suppression map (30s, persisted
// as the suppressedDeletes meta record) before the backend call. The
// tombstone absorbs hydrations already in flight; the suppression map
// absorbs stale reads after a reload.
//
// Request Loop:
// Run drains a FIFO queue of refresh and session-change requests in a
// single goroutine so periodic refreshes and session watchers never run
// hydrations in parallel with each other.
//
// Events:
// Every step emits a structured Event through a Hook. SlogHook logs them,
// Metrics exports them to Prometheus and EventRecorder keeps them for tests.
package engine
