package record

import "sort"

// State maps a canonical category to its ordered records.
// Display order is preserved but carries no meaning.
type State map[string][]Record

// Clone deep-copies the state so callers can hold it across mutations.
func (s State) Clone() State {
	out := make(State, len(s))
	for cat, recs := range s {
		cp := make([]Record, len(recs))
		for i, r := range recs {
			cp[i] = r.Clone()
		}
		out[cat] = cp
	}
	return out
}

// Categories returns the category keys in sorted order.
func (s State) Categories() []string {
	cats := make([]string, 0, len(s))
	for cat := range s {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats
}

// Find returns the record with id in category and its index, or -1.
func (s State) Find(category, id string) (Record, int) {
	for i, r := range s[category] {
		if r.ID == id {
			return r, i
		}
	}
	return Record{}, -1
}

// Upsert replaces the record with the same id in its category, or appends it.
func (s State) Upsert(rec Record) {
	if _, idx := s.Find(rec.Category, rec.ID); idx >= 0 {
		s[rec.Category][idx] = rec
		return
	}
	s[rec.Category] = append(s[rec.Category], rec)
}

// Remove drops the record with id from category and reports whether it was present.
// An emptied category keeps its key with an empty list.
func (s State) Remove(category, id string) bool {
	recs := s[category]
	_, idx := s.Find(category, id)
	if idx < 0 {
		return false
	}
	out := make([]Record, 0, len(recs)-1)
	out = append(out, recs[:idx]...)
	out = append(out, recs[idx+1:]...)
	s[category] = out
	return true
}

// Len returns the number of records across all categories.
func (s State) Len() int {
	n := 0
	for _, recs := range s {
		n += len(recs)
	}
	return n
}

// IDs returns the record ids of category in display order.
func (s State) IDs(category string) []string {
	ids := make([]string, 0, len(s[category]))
	for _, r := range s[category] {
		ids = append(ids, r.ID)
	}
	return ids
}

// Group buckets records by their Category, preserving input order.
func Group(recs []Record) State {
	out := make(State)
	for _, r := range recs {
		out[r.Category] = append(out[r.Category], r)
	}
	return out
}
