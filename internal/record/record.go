package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Reserved JSON keys. Payload fields may not use these names.
const (
	KeyID          = "id"
	KeyCategory    = "category"
	KeyLastUpdated = "lastUpdated"
	KeyIsCustom    = "isCustom"
)

// Record is a single user-visible item in a categorized collection.
type Record struct {
	ID          string
	Category    string
	Fields      map[string]any
	LastUpdated time.Time
	IsCustom    bool
}

// Patch is a partial update applied to an existing record.
// Reserved keys inside Fields are ignored.
type Patch struct {
	Fields      map[string]any
	LastUpdated time.Time
}

// IsReserved reports whether key is one of the record's reserved JSON keys.
func IsReserved(key string) bool {
	switch key {
	case KeyID, KeyCategory, KeyLastUpdated, KeyIsCustom:
		return true
	}
	return false
}

// Clone returns a copy whose Fields map can be mutated independently.
// Nested values are shared.
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Apply merges a patch into a copy of the record.
// ID and Category never change through a patch.
func (r Record) Apply(p Patch) Record {
	out := r.Clone()
	if out.Fields == nil {
		out.Fields = make(map[string]any, len(p.Fields))
	}
	for k, v := range p.Fields {
		if IsReserved(k) {
			continue
		}
		out.Fields[k] = v
	}
	if !p.LastUpdated.IsZero() {
		out.LastUpdated = p.LastUpdated
	}
	return out
}

// Field returns the payload field as a string, or "" when absent.
func (r Record) Field(name string) string {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MarshalJSON flattens payload fields next to the reserved keys.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		if IsReserved(k) {
			continue
		}
		m[k] = v
	}
	m[KeyID] = r.ID
	m[KeyCategory] = r.Category
	m[KeyIsCustom] = r.IsCustom
	if !r.LastUpdated.IsZero() {
		m[KeyLastUpdated] = r.LastUpdated.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	rec, err := FromMap(m)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// FromMap builds a record from a decoded JSON or YAML object.
// Category is taken verbatim; callers normalize it.
func FromMap(m map[string]any) (Record, error) {
	var rec Record
	for k, v := range m {
		switch k {
		case KeyID:
			s, ok := v.(string)
			if !ok && v != nil {
				return Record{}, fmt.Errorf("record %s: expected string, got %T", KeyID, v)
			}
			rec.ID = s
		case KeyCategory:
			s, ok := v.(string)
			if !ok && v != nil {
				return Record{}, fmt.Errorf("record %s: expected string, got %T", KeyCategory, v)
			}
			rec.Category = s
		case KeyIsCustom:
			b, ok := v.(bool)
			if !ok && v != nil {
				return Record{}, fmt.Errorf("record %s: expected bool, got %T", KeyIsCustom, v)
			}
			rec.IsCustom = b
		case KeyLastUpdated:
			ts, err := parseTime(v)
			if err != nil {
				return Record{}, fmt.Errorf("record %s: %w", KeyLastUpdated, err)
			}
			rec.LastUpdated = ts
		default:
			if rec.Fields == nil {
				rec.Fields = make(map[string]any)
			}
			rec.Fields[k] = v
		}
	}
	return rec, nil
}

func parseTime(v any) (time.Time, error) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return val, nil
	case string:
		if val == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, val)
	case float64:
		// Millisecond epochs written by older clients.
		return time.UnixMilli(int64(val)).UTC(), nil
	case int:
		return time.UnixMilli(int64(val)).UTC(), nil
	case int64:
		return time.UnixMilli(val).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// FieldNames returns the payload field names in sorted order.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
