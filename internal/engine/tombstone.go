package engine

import "time"

// tombstoneCache remembers ids deleted in this process for a short while.
//
// Entries younger than the filter window hide the id from hydration results
// that were requested before the delete. The purge horizon only bounds
// the cache's size. Nothing is persisted; a reload starts empty.
//
// Guarded by Engine.mu.
type tombstoneCache struct {
	entries map[string]time.Time
}

func newTombstoneCache() *tombstoneCache {
	return &tombstoneCache{entries: make(map[string]time.Time)}
}

// MarkDeleted records now as the deletion time of id.
func (c *tombstoneCache) MarkDeleted(id string, now time.Time) {
	c.entries[id] = now
}

// PurgeOld drops entries older than ttl and returns how many were dropped.
func (c *tombstoneCache) PurgeOld(now time.Time, ttl time.Duration) int {
	n := 0
	for id, at := range c.entries {
		if now.Sub(at) > ttl {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

// IsFresh reports whether id was deleted less than window ago.
func (c *tombstoneCache) IsFresh(id string, now time.Time, window time.Duration) bool {
	at, ok := c.entries[id]
	return ok && now.Sub(at) < window
}

// Forget drops the tombstone for id, if any.
func (c *tombstoneCache) Forget(id string) {
	delete(c.entries, id)
}

// Reset forgets every tombstone, as a process restart would.
func (c *tombstoneCache) Reset() {
	c.entries = make(map[string]time.Time)
}
