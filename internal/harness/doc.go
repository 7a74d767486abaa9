// Package harness runs scripted sync scenarios against a real engine.
//
// A scenario seeds one or two scripted in-memory backends, drives the
// engine through a list of steps and checks assertions on the final state.
// Every run uses a manual clock starting at testutil.Epoch and sequential
// record ids, so the step results and final state are reproducible and can
// be compared against golden snapshots.
//
// # Scenario Format
//
//	name: tombstone_race
//	description: "A delete racing a slow list stays deleted"
//	capabilities: full            # or basic: no Updater / Clearer
//	defaults:
//	  - { id: d-1, category: starter, name: Crumble }
//	setup:
//	  - op: seed
//	    records:
//	      - { id: a, category: starter, name: A }
//	steps:
//	  - op: load
//	    expect: data_set
//	  - op: delete
//	    category: starter
//	    id: a
//	assertions:
//	  - type: visible
//	    category: starter
//	    ids: []
//
// # Step Operations
//
//   - seed: save records directly into a backend
//   - load, hydrate: run one hydration; the result is its outcome
//   - hold_list, hydrate_async, release: start a hydration whose list
//     blocks after reading the backend, and finish it later
//   - stale_list, empty_list: script the next list result
//   - fail_lists, fail_saves, fail_deletes: make backend calls fail
//   - add, update, delete, reset: mutations; the result is "ok" or the
//     lowercased error code
//   - advance: move the clock
//   - reload: replace the engine with a fresh one over the same backends
//   - forget_tombstones: drop the in-memory tombstones
//   - session_change: swap to the named backend ("local" or "remote")
//
// # Assertion Types
//
//   - visible: a category shows exactly these ids (any order)
//   - hidden: an id is in no category
//   - customized: a category's customization flag
//   - version: the engine's update counter
//   - event_count: how many events of a kind were emitted
//   - backend_has, backend_lacks: what a backend actually stores
//   - suppressed: ids in the persisted suppression map
package harness
