package engine

import "time"

// suppressionMap is the durable counterpart of the tombstone cache.
//
// Entries map a record id to its deletion time in Unix milliseconds and
// are persisted as the suppressedDeletes meta record, so a deletion keeps
// hiding stale backend reads across a reload until the entry expires.
//
// Guarded by Engine.mu.
type suppressionMap struct {
	entries map[string]int64
	loaded  bool
}

func newSuppressionMap() *suppressionMap {
	return &suppressionMap{entries: make(map[string]int64)}
}

// Mark records the deletion of id at nowMs.
func (m *suppressionMap) Mark(id string, nowMs int64) {
	m.entries[id] = nowMs
}

// Merge folds persisted entries into memory. The newer timestamp wins.
func (m *suppressionMap) Merge(persisted map[string]int64) {
	for id, at := range persisted {
		if cur, ok := m.entries[id]; !ok || at > cur {
			m.entries[id] = at
		}
	}
	m.loaded = true
}

// Expire drops entries at least ttl old and reports whether any were dropped.
func (m *suppressionMap) Expire(nowMs int64, ttl time.Duration) bool {
	changed := false
	for id, at := range m.entries {
		if nowMs-at >= ttl.Milliseconds() {
			delete(m.entries, id)
			changed = true
		}
	}
	return changed
}

// Suppressed reports whether id was deleted less than ttl ago.
func (m *suppressionMap) Suppressed(id string, nowMs int64, ttl time.Duration) bool {
	at, ok := m.entries[id]
	return ok && nowMs-at < ttl.Milliseconds()
}

// Snapshot copies the entries for persistence.
func (m *suppressionMap) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(m.entries))
	for id, at := range m.entries {
		out[id] = at
	}
	return out
}

// Forget drops the entry for id and reports whether there was one.
func (m *suppressionMap) Forget(id string) bool {
	if _, ok := m.entries[id]; !ok {
		return false
	}
	delete(m.entries, id)
	return true
}

// Reset empties the map and marks it loaded, so the persisted copy is
// replaced rather than merged. The caller rewrites it.
func (m *suppressionMap) Reset() {
	m.entries = make(map[string]int64)
	m.loaded = true
}
