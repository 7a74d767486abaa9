// Package record defines the collection data model shared by every other
// package: records, categories, collection state, and the meta records that
// ride along the persistence channel.
//
// This package imports nothing internal. Strategies, the engine, the CLI and
// the harness all build on it, which keeps it the foundational layer with no
// circular dependencies.
//
// Key constraints:
//   - Record.ID is stable for the lifetime of a record
//   - Record.Category is always stored in normalized form
//   - The JSON form flattens payload fields next to the reserved keys
//     id, category, lastUpdated and isCustom
package record
