// Package remote provides the networked persistence strategy used for
// signed-in users.
//
// Postgres stores one row per record in a single table keyed by
// (collection, id). The schema is created lazily on first use and the
// connection is retried on every call until it succeeds, so a remote that
// is down at startup simply reports strategy.ErrUnavailable until it comes
// back.
//
// Connectivity failures (refused connections, timeouts, server shutdown,
// pq error classes 08 and 57) are reported as strategy.ErrUnavailable.
// Every operation runs under its own timeout on top of the caller's
// context.
//
// The remote strategy supports Update but not Clear.
package remote
