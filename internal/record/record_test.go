package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_MarshalJSONFlattensFields(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		ID:          "r1",
		Category:    "starter",
		Fields:      map[string]any{"name": "Crumble", "protein": 20, "id": "shadowed"},
		LastUpdated: ts,
		IsCustom:    true,
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "r1", m["id"], "reserved keys win over payload fields")
	assert.Equal(t, "starter", m["category"])
	assert.Equal(t, "Crumble", m["name"])
	assert.Equal(t, float64(20), m["protein"])
	assert.Equal(t, true, m["isCustom"])
	assert.Equal(t, "2026-03-01T12:00:00Z", m["lastUpdated"])
}

func TestRecord_UnmarshalJSON(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"id":"r2","category":"grower","name":"Pellet","isCustom":false,"lastUpdated":"2026-03-01T12:00:00Z"}`), &rec)
	require.NoError(t, err)

	assert.Equal(t, "r2", rec.ID)
	assert.Equal(t, "grower", rec.Category)
	assert.False(t, rec.IsCustom)
	assert.Equal(t, "Pellet", rec.Field("name"))
	assert.True(t, rec.LastUpdated.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestRecord_UnmarshalJSONMillisecondTimestamp(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"r3","lastUpdated":1767225600000}`), &rec))
	assert.Equal(t, int64(1767225600000), rec.LastUpdated.UnixMilli())
}

func TestRecord_UnmarshalJSONRejectsBadTypes(t *testing.T) {
	var rec Record
	assert.Error(t, json.Unmarshal([]byte(`{"id":42}`), &rec))
	assert.Error(t, json.Unmarshal([]byte(`{"id":"x","isCustom":"yes"}`), &rec))
	assert.Error(t, json.Unmarshal([]byte(`{"id":"x","lastUpdated":"yesterday"}`), &rec))
}

func TestRecord_ApplyMergesAndKeepsIdentity(t *testing.T) {
	base := Record{ID: "r1", Category: "starter", Fields: map[string]any{"name": "A", "protein": 18}}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := base.Apply(Patch{
		Fields:      map[string]any{"protein": 22, "id": "other", "category": "layer"},
		LastUpdated: ts,
	})

	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, "starter", got.Category)
	assert.Equal(t, "A", got.Fields["name"])
	assert.Equal(t, 22, got.Fields["protein"])
	assert.Equal(t, ts, got.LastUpdated)
	assert.Equal(t, 18, base.Fields["protein"], "original must not be mutated")
}

func TestRecord_ApplyNilFields(t *testing.T) {
	got := Record{ID: "r1"}.Apply(Patch{Fields: map[string]any{"name": "X"}})
	assert.Equal(t, "X", got.Field("name"))
}

func TestMeta_RoundTrip(t *testing.T) {
	rec := NewMeta(MetaSuppressedDelete, map[string]int64{"a": 1000, "b": 2000})

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var decoded Record
	require.NoError(t, json.Unmarshal(data, &decoded))

	var got map[string]int64
	require.NoError(t, DecodeMeta(decoded, &got))
	assert.Equal(t, map[string]int64{"a": 1000, "b": 2000}, got)
}

func TestMeta_DecodeMissingValue(t *testing.T) {
	got := map[string]bool{"keep": true}
	require.NoError(t, DecodeMeta(Record{ID: MetaCustomizations}, &got))
	assert.Equal(t, map[string]bool{"keep": true}, got)
}
