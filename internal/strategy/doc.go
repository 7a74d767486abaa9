// Package strategy defines the persistence contract the sync engine talks to.
//
// A Strategy is a uniform, context-aware view over named collections of
// records. Two families implement it:
//
//   - local strategies (store.SQLite, store.Badger, Memory): always
//     available, fast, durable where the backend is
//   - remote strategies (remote.Postgres): networked, may be slow or
//     unavailable, and may serve stale reads
//
// Optional capabilities are expressed as separate interfaces (Updater,
// Clearer) so callers can type-assert and fall back instead of handling a
// "not implemented" error at every call site.
//
// Strategies are built from DSNs through a scheme registry:
//
//	memory://                 in-process Memory strategy
//	sqlite:///path/to.db      store.SQLite (registered by the CLI)
//	badger:///path/to/dir     store.Badger (registered by the CLI)
//	postgres://user@host/db   remote.Postgres (registered by the CLI)
package strategy
