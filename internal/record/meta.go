package record

import (
	"encoding/json"
	"fmt"
)

// MetaCollection is the reserved collection that carries meta records
// through the same persistence strategy as user data.
const MetaCollection = "__meta"

// Meta record ids.
const (
	MetaCustomizations   = "hasUserCustoms"
	MetaSuppressedDelete = "suppressedDeletes"
)

const metaValueKey = "value"

// NewMeta wraps value as a meta record: {id: <id>, value: <value>}.
func NewMeta(id string, value any) Record {
	return Record{
		ID:     id,
		Fields: map[string]any{metaValueKey: value},
	}
}

// DecodeMeta decodes the value of a meta record into out.
// A record without a value leaves out untouched.
func DecodeMeta(rec Record, out any) error {
	v, ok := rec.Fields[metaValueKey]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("decode meta %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode meta %s: %w", rec.ID, err)
	}
	return nil
}
