package engine

// customizationFlags records which categories have ever held a
// user-authored record. A set flag keeps bundled defaults out of that
// category; only ResetToDefaults clears flags.
//
// Persisted as the hasUserCustoms meta record. Guarded by Engine.mu.
type customizationFlags struct {
	flags  map[string]bool
	loaded bool
}

func newCustomizationFlags() *customizationFlags {
	return &customizationFlags{flags: make(map[string]bool)}
}

// Set marks category as customized and reports whether that changed anything.
func (c *customizationFlags) Set(category string) bool {
	if c.flags[category] {
		return false
	}
	c.flags[category] = true
	return true
}

// IsSet reports whether category is customized.
func (c *customizationFlags) IsSet(category string) bool {
	return c.flags[category]
}

// Merge folds persisted flags into memory. A true flag is never lowered.
func (c *customizationFlags) Merge(persisted map[string]bool) bool {
	changed := false
	for cat, on := range persisted {
		if on && !c.flags[cat] {
			c.flags[cat] = true
			changed = true
		}
	}
	c.loaded = true
	return changed
}

// Snapshot copies the flags for persistence and inspection.
func (c *customizationFlags) Snapshot() map[string]bool {
	out := make(map[string]bool, len(c.flags))
	for cat, on := range c.flags {
		out[cat] = on
	}
	return out
}

// Reset lowers every flag and marks the flags loaded, so the persisted
// copy is replaced rather than merged.
func (c *customizationFlags) Reset() {
	c.flags = make(map[string]bool)
	c.loaded = true
}
