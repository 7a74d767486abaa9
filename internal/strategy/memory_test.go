package strategy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
	"github.com/roach88/flocksync/internal/testutil"
)

func TestMemory_Contract(t *testing.T) {
	testutil.RunStrategyContract(t, func(t *testing.T) strategy.Strategy {
		return strategy.NewMemory()
	})
}

func TestMemory_ListReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := strategy.NewMemory()
	_, err := m.Save(ctx, "feeds", record.Record{ID: "a", Category: "starter", Fields: map[string]any{"name": "A"}})
	require.NoError(t, err)

	recs, err := m.List(ctx, "feeds")
	require.NoError(t, err)
	recs[0].Fields["name"] = "mutated"

	again, err := m.List(ctx, "feeds")
	require.NoError(t, err)
	assert.Equal(t, "A", again[0].Fields["name"])
}

func TestMemory_AssignsIDsFromGenerator(t *testing.T) {
	m := strategy.NewMemoryWithIDs(testutil.NewSequentialIDs("mem"))
	saved, err := m.Save(context.Background(), "feeds", record.Record{Category: "starter"})
	require.NoError(t, err)
	assert.Equal(t, "mem-1", saved.ID)
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := strategy.NewMemory().List(ctx, "feeds")
	assert.ErrorIs(t, err, context.Canceled)
}
