// Package store provides the durable local persistence strategies.
//
// Two embedded backends implement strategy.Strategy (plus the optional
// Updater and Clearer capabilities):
//
//   - SQLite: the default local strategy, one row per record
//   - Badger: an LSM key-value alternative for hosts without cgo-friendly
//     SQLite builds
//
// Both are always available once opened; they never return
// strategy.ErrUnavailable.
//
// # Ordering
//
// Records keep the position they were first saved at. Re-saving an
// existing id updates it in place. SQLite queries always
// ORDER BY position ASC, id ASC COLLATE BINARY so results are identical
// across runs.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
