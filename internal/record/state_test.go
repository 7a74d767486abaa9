package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_UpsertReplacesSameID(t *testing.T) {
	s := State{}
	s.Upsert(Record{ID: "a", Category: "starter", Fields: map[string]any{"v": 1}})
	s.Upsert(Record{ID: "b", Category: "starter"})
	s.Upsert(Record{ID: "a", Category: "starter", Fields: map[string]any{"v": 2}})

	assert.Equal(t, []string{"a", "b"}, s.IDs("starter"))
	rec, idx := s.Find("starter", "a")
	assert.Equal(t, 0, idx)
	assert.Equal(t, 2, rec.Fields["v"])
}

func TestState_RemoveKeepsEmptyCategory(t *testing.T) {
	s := Group([]Record{{ID: "a", Category: "starter"}})

	assert.True(t, s.Remove("starter", "a"))
	assert.False(t, s.Remove("starter", "a"))
	assert.Contains(t, s, "starter")
	assert.Empty(t, s["starter"])
}

func TestState_CloneIsIndependent(t *testing.T) {
	s := Group([]Record{{ID: "a", Category: "starter", Fields: map[string]any{"name": "A"}}})
	cp := s.Clone()

	cp["starter"][0].Fields["name"] = "changed"
	cp.Upsert(Record{ID: "b", Category: "grower"})

	assert.Equal(t, "A", s["starter"][0].Fields["name"])
	assert.NotContains(t, s, "grower")
}

func TestState_CategoriesSortedAndLen(t *testing.T) {
	s := Group([]Record{
		{ID: "1", Category: "layer"},
		{ID: "2", Category: "grower"},
		{ID: "3", Category: "layer"},
	})
	assert.Equal(t, []string{"grower", "layer"}, s.Categories())
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"1", "3"}, s.IDs("layer"))
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.Len(t, id, 36)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
