package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
)

// StrategyFactory builds a fresh, empty strategy for one contract subtest.
type StrategyFactory func(t *testing.T) strategy.Strategy

// RunStrategyContract checks the behavior every strategy.Strategy must share.
// Optional capabilities are exercised only when the strategy implements them.
func RunStrategyContract(t *testing.T, newStrategy StrategyFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("EmptyListIsNotNil", func(t *testing.T) {
		s := newStrategy(t)
		recs, err := s.List(ctx, "feeds")
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs)
	})

	t.Run("SaveAssignsID", func(t *testing.T) {
		s := newStrategy(t)
		saved, err := s.Save(ctx, "feeds", record.Record{Category: "starter", Fields: map[string]any{"name": "X"}})
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID)

		recs, err := s.List(ctx, "feeds")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, saved.ID, recs[0].ID)
		assert.Equal(t, "X", recs[0].Field("name"))
	})

	t.Run("SaveKeepsIDAndOrder", func(t *testing.T) {
		s := newStrategy(t)
		ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
		for _, id := range []string{"c", "a", "b"} {
			_, err := s.Save(ctx, "feeds", record.Record{ID: id, Category: "starter", LastUpdated: ts, IsCustom: true})
			require.NoError(t, err)
		}
		// Re-saving an existing id must not move it.
		_, err := s.Save(ctx, "feeds", record.Record{ID: "c", Category: "starter", Fields: map[string]any{"v": "2"}, IsCustom: true})
		require.NoError(t, err)

		recs, err := s.List(ctx, "feeds")
		require.NoError(t, err)
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ID
		}
		assert.Equal(t, []string{"c", "a", "b"}, ids)
		assert.Equal(t, "2", recs[0].Field("v"))
		assert.True(t, recs[1].IsCustom)
		assert.True(t, recs[1].LastUpdated.Equal(ts))
	})

	t.Run("CollectionsAreIsolated", func(t *testing.T) {
		s := newStrategy(t)
		_, err := s.Save(ctx, "feeds", record.Record{ID: "a", Category: "starter"})
		require.NoError(t, err)
		_, err = s.Save(ctx, record.MetaCollection, record.NewMeta(record.MetaCustomizations, map[string]bool{"starter": true}))
		require.NoError(t, err)

		feeds, err := s.List(ctx, "feeds")
		require.NoError(t, err)
		assert.Len(t, feeds, 1)

		meta, err := s.List(ctx, record.MetaCollection)
		require.NoError(t, err)
		require.Len(t, meta, 1)
		var flags map[string]bool
		require.NoError(t, record.DecodeMeta(meta[0], &flags))
		assert.Equal(t, map[string]bool{"starter": true}, flags)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := newStrategy(t)
		_, err := s.Save(ctx, "feeds", record.Record{ID: "a", Category: "starter"})
		require.NoError(t, err)

		ok, err := s.Delete(ctx, "feeds", "a")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Delete(ctx, "feeds", "a")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Delete(ctx, "never-created", "zzz")
		require.NoError(t, err)
		assert.True(t, ok)

		recs, err := s.List(ctx, "feeds")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("UpdateMergesFields", func(t *testing.T) {
		s := newStrategy(t)
		u, ok := s.(strategy.Updater)
		if !ok {
			t.Skip("strategy does not implement Updater")
		}
		_, err := s.Save(ctx, "feeds", record.Record{ID: "a", Category: "starter", Fields: map[string]any{"name": "A", "protein": "18"}})
		require.NoError(t, err)

		ts := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
		updated, err := u.Update(ctx, "feeds", "a", record.Patch{Fields: map[string]any{"protein": "21"}, LastUpdated: ts})
		require.NoError(t, err)
		assert.True(t, updated)

		recs, err := s.List(ctx, "feeds")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "A", recs[0].Field("name"))
		assert.Equal(t, "21", recs[0].Field("protein"))
		assert.True(t, recs[0].LastUpdated.Equal(ts))
	})

	t.Run("UpdateUnknownID", func(t *testing.T) {
		s := newStrategy(t)
		u, ok := s.(strategy.Updater)
		if !ok {
			t.Skip("strategy does not implement Updater")
		}
		_, err := u.Update(ctx, "feeds", "does-not-exist", record.Patch{Fields: map[string]any{"x": "y"}})
		assert.ErrorIs(t, err, strategy.ErrNotFound)
	})

	t.Run("ClearDropsCollection", func(t *testing.T) {
		s := newStrategy(t)
		c, ok := s.(strategy.Clearer)
		if !ok {
			t.Skip("strategy does not implement Clearer")
		}
		_, err := s.Save(ctx, "feeds", record.Record{ID: "a", Category: "starter"})
		require.NoError(t, err)
		_, err = s.Save(ctx, "other", record.Record{ID: "b", Category: "starter"})
		require.NoError(t, err)

		ok, err = c.Clear(ctx, "feeds")
		require.NoError(t, err)
		assert.True(t, ok)

		recs, err := s.List(ctx, "feeds")
		require.NoError(t, err)
		assert.Empty(t, recs)
		other, err := s.List(ctx, "other")
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})
}
