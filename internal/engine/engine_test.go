package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flocksync/internal/engine"
	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
	"github.com/roach88/flocksync/internal/testutil"
)

const collection = "feeds"

type fixture struct {
	eng    *engine.Engine
	strat  *testutil.ScriptedStrategy
	clock  *testutil.ManualClock
	events *engine.EventRecorder
}

func (f *fixture) options(extra ...engine.Option) []engine.Option {
	return append([]engine.Option{
		engine.WithClock(f.clock),
		engine.WithHook(f.events),
		engine.WithIDGenerator(testutil.NewSequentialIDs("")),
	}, extra...)
}

// newFixture opens an engine over a scripted strategy seeded with recs.
func newFixture(t *testing.T, recs []record.Record, opts ...engine.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		strat:  testutil.NewScriptedStrategy(),
		clock:  testutil.NewManualClock(),
		events: &engine.EventRecorder{},
	}
	require.NoError(t, testutil.Seed(ctx, f.strat, collection, recs...))

	eng, err := engine.Open(ctx, collection, f.strat, f.options(opts...)...)
	require.NoError(t, err)
	f.eng = eng
	return f
}

// reopen builds a second engine over the same strategy, as a page reload would.
func (f *fixture) reopen(opts ...engine.Option) *engine.Engine {
	return engine.New(collection, f.strat, f.options(opts...)...)
}

func starterAB() []record.Record {
	return []record.Record{
		testutil.Rec("1", "starter", "A"),
		testutil.Rec("2", "starter", "B"),
	}
}

func metaSuppressed(t *testing.T, s strategy.Strategy) map[string]int64 {
	t.Helper()
	metas, err := s.List(context.Background(), record.MetaCollection)
	require.NoError(t, err)
	out := map[string]int64{}
	for _, m := range metas {
		if m.ID == record.MetaSuppressedDelete {
			require.NoError(t, record.DecodeMeta(m, &out))
		}
	}
	return out
}

func metaCustoms(t *testing.T, s strategy.Strategy) map[string]bool {
	t.Helper()
	metas, err := s.List(context.Background(), record.MetaCollection)
	require.NoError(t, err)
	out := map[string]bool{}
	for _, m := range metas {
		if m.ID == record.MetaCustomizations {
			require.NoError(t, record.DecodeMeta(m, &out))
		}
	}
	return out
}

func TestOpen_HydratesFromStrategy(t *testing.T) {
	f := newFixture(t, starterAB())

	snap := f.eng.Snapshot()
	assert.Equal(t, []string{"1", "2"}, snap.State.IDs("starter"))
	assert.Equal(t, int64(0), snap.Version)
	assert.Equal(t, map[string]bool{"starter": true}, f.eng.Customized())
	assert.Equal(t, collection, f.eng.Collection())
}

func TestOpen_RejectsBadCollection(t *testing.T) {
	ctx := context.Background()
	_, err := engine.Open(ctx, "  ", strategy.NewMemory())
	assert.ErrorIs(t, err, strategy.ErrInvalidInput)

	_, err = engine.Open(ctx, record.MetaCollection, strategy.NewMemory())
	assert.ErrorIs(t, err, strategy.ErrInvalidInput)
}

func TestDelete_TombstoneHidesInFlightHydration(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	gate := f.strat.HoldNextList()
	done := make(chan engine.HydrationResult, 1)
	go func() {
		res, _ := f.eng.Hydrate(ctx)
		done <- res
	}()
	<-gate.Entered() // the held list has already read [A, B]

	require.NoError(t, f.eng.Delete(ctx, "starter", "2"))
	assert.Equal(t, []string{"1"}, f.eng.Snapshot().State.IDs("starter"))

	f.clock.Advance(200 * time.Millisecond)
	gate.Release()

	res := <-done
	assert.Equal(t, engine.OutcomeDataSet, res.Outcome)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, []string{"1"}, res.State.IDs("starter"))
	assert.Equal(t, []string{"1"}, f.eng.Snapshot().State.IDs("starter"))
}

func TestDelete_SuppressionSurvivesReload(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	require.NoError(t, f.eng.Delete(ctx, "starter", "2"))
	assert.Contains(t, metaSuppressed(t, f.strat), "2")

	// The backend lags behind its own delete.
	stale := starterAB()

	reloaded := f.reopen()
	f.clock.Advance(450 * time.Millisecond)
	f.strat.OverrideNextList(stale)

	state, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, state.IDs("starter"))

	// Past the suppression window the backend is trusted again and the
	// expired entry is dropped from the persisted map.
	f.clock.Advance(30 * time.Second)
	state, err = reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, state.IDs("starter"))
	assert.NotContains(t, metaSuppressed(t, f.strat), "2")
	assert.NotEmpty(t, f.events.OfKind(engine.EventSuppressionExpired))
}

func TestDelete_SuppressionCoversForgottenTombstones(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	require.NoError(t, f.eng.Delete(ctx, "starter", "2"))
	f.eng.ForgetTombstones()

	f.clock.Advance(450 * time.Millisecond)
	f.strat.OverrideNextList(starterAB())
	res, err := f.eng.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, []string{"1"}, res.State.IDs("starter"))
}

func TestDelete_WhileSessionMetaLoads(t *testing.T) {
	f := newFixture(t, starterAB(), bundledDefaults())
	ctx := context.Background()

	// The remote still lists "x", deleted on another device moments ago,
	// and the user has emptied its grower category there.
	remote := testutil.NewScriptedStrategy()
	require.NoError(t, testutil.Seed(ctx, remote, collection,
		testutil.Rec("x", "starter", "Deleted elsewhere"),
		testutil.Rec("y", "starter", "Kept"),
		testutil.Rec("9", "starter", "Nine")))
	nowMs := f.clock.Now().UnixMilli()
	_, err := remote.Save(ctx, record.MetaCollection, record.NewMeta(record.MetaSuppressedDelete, map[string]int64{"x": nowMs}))
	require.NoError(t, err)
	_, err = remote.Save(ctx, record.MetaCollection, record.NewMeta(record.MetaCustomizations, map[string]bool{"grower": true}))
	require.NoError(t, err)

	gate := remote.HoldNextMetaList()
	done := make(chan error, 1)
	go func() {
		_, err := f.eng.SessionChanged(ctx, remote)
		done <- err
	}()
	<-gate.Entered()

	require.NoError(t, f.eng.Delete(ctx, "starter", "9"))
	gate.Release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session change never finished")
	}

	suppressed := metaSuppressed(t, remote)
	assert.Contains(t, suppressed, "x")
	assert.Contains(t, suppressed, "9")
	assert.Equal(t, map[string]bool{"starter": true, "grower": true}, metaCustoms(t, remote))

	state := f.eng.Snapshot().State
	assert.Equal(t, []string{"y"}, state.IDs("starter"))
	assert.Empty(t, state.IDs("grower"))

	// A reload on the remote still hides "x" and keeps grower defaults out.
	f.clock.Advance(time.Second)
	reloaded := engine.New(collection, remote, f.options(bundledDefaults())...)
	state, err = reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, state.IDs("starter"))
	assert.Empty(t, state.IDs("grower"))
}

func TestWindows_PurgeNeverShorterThanFilter(t *testing.T) {
	f := newFixture(t, starterAB(), engine.WithWindows(engine.Windows{
		TombstoneFilter: 20 * time.Second,
		TombstonePurge:  10 * time.Second,
		Suppression:     time.Millisecond,
	}))
	ctx := context.Background()

	require.NoError(t, f.eng.Delete(ctx, "starter", "2"))
	f.clock.Advance(15 * time.Second)
	f.strat.OverrideNextList(starterAB())

	res, err := f.eng.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, []string{"1"}, res.State.IDs("starter"))
}

func TestHydrate_EmptyFetchKeepsState(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()
	before := f.eng.Snapshot().State

	f.strat.OverrideNextList(nil)
	res, err := f.eng.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeEmptySet, res.Outcome)
	assert.Equal(t, before, f.eng.Snapshot().State)
}

func TestHydrate_AllFilteredIsEmptySet(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	require.NoError(t, f.eng.Delete(ctx, "starter", "1"))
	require.NoError(t, f.eng.Delete(ctx, "starter", "2"))

	f.strat.OverrideNextList(starterAB())
	res, err := f.eng.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeEmptySet, res.Outcome)
	assert.Equal(t, 2, res.Filtered)
	assert.Empty(t, res.State.IDs("starter"))
}

func TestHydrate_UnavailableIsNoData(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "unavailable", err: strategy.ErrUnavailable},
		{name: "not supported", err: strategy.ErrNotSupported},
		{name: "other", err: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, starterAB())
			before := f.eng.Snapshot().State

			f.strat.FailLists(tt.err)
			res, err := f.eng.Hydrate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, engine.OutcomeNoData, res.Outcome)
			assert.ErrorIs(t, res.Err, tt.err)
			assert.Equal(t, before, res.State)
			assert.Equal(t, before, f.eng.Snapshot().State)
			assert.NotEmpty(t, f.events.OfKind(engine.EventHydrateNoData))
		})
	}
}

func TestHydrate_CancelledContext(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.eng.Hydrate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, engine.OutcomeNoData, res.Outcome)
}

func TestHydrate_NormalizesCategories(t *testing.T) {
	f := newFixture(t, []record.Record{
		testutil.Rec("1", "Pre-Starter", "A"),
		testutil.Rec("2", "pre_starter", "B"),
		testutil.Rec("3", "PRE STARTER", "C"),
		testutil.Rec("4", "Layers", "D"),
	})

	state := f.eng.Snapshot().State
	assert.Equal(t, []string{"layer", "starter"}, state.Categories())
	assert.Equal(t, []string{"1", "2", "3"}, state.IDs("starter"))
	for _, r := range state["starter"] {
		assert.Equal(t, "starter", r.Category)
	}
}

func TestLoad_Idempotent(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	first, err := f.eng.Load(ctx)
	require.NoError(t, err)
	second, err := f.eng.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(0), f.eng.Version())
}

func TestAdd_RoundTrip(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	id, err := f.eng.Add(ctx, "starter", map[string]any{"name": "X"})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", id)

	rec, idx := f.eng.Snapshot().State.Find("starter", id)
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "X", rec.Field("name"))
	assert.True(t, rec.IsCustom)
	assert.True(t, rec.LastUpdated.Equal(testutil.Epoch))

	state, err := f.eng.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", id}, state.IDs("starter"))
	assert.Equal(t, int64(1), f.eng.Version())
}

func TestAdd_UsesGivenIDAndNormalizes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.eng.Add(ctx, "Pullet Grower", map[string]any{"id": "mine", "name": "Y", "category": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "mine", id)

	rec, idx := f.eng.Snapshot().State.Find("grower", "mine")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, []string{"name"}, rec.FieldNames())
	assert.True(t, f.eng.Customized()["grower"])
}

func TestAdd_ReusesRecentlyDeletedID(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	require.NoError(t, f.eng.Delete(ctx, "starter", "2"))
	f.clock.Advance(500 * time.Millisecond)

	id, err := f.eng.Add(ctx, "starter", map[string]any{"id": "2", "name": "B again"})
	require.NoError(t, err)
	assert.Equal(t, "2", id)
	assert.Equal(t, []string{"1", "2"}, f.eng.Snapshot().State.IDs("starter"))
	assert.NotContains(t, metaSuppressed(t, f.strat), "2")

	state, err := f.eng.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, state.IDs("starter"), "2")

	state, err = f.reopen().Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, state.IDs("starter"), "2")
}

func TestAdd_Validation(t *testing.T) {
	f := newFixture(t, starterAB())
	saves := f.strat.Saves()

	_, err := f.eng.Add(context.Background(), "  --  ", map[string]any{"name": "X"})
	assert.True(t, engine.IsValidationError(err))
	assert.Equal(t, saves, f.strat.Saves())
	assert.Equal(t, int64(0), f.eng.Version())
}

func TestAdd_SaveFailure(t *testing.T) {
	f := newFixture(t, starterAB())
	f.strat.FailSaves(strategy.ErrUnavailable)

	_, err := f.eng.Add(context.Background(), "starter", map[string]any{"name": "X"})
	require.Error(t, err)
	assert.True(t, engine.IsUnavailableError(err))
	assert.Equal(t, []string{"1", "2"}, f.eng.Snapshot().State.IDs("starter"))
	assert.Equal(t, int64(0), f.eng.Version())
	assert.Len(t, f.events.OfKind(engine.EventMutationFailed), 1)
}

func TestUpdate_MissingID(t *testing.T) {
	f := newFixture(t, starterAB())
	before := f.eng.Snapshot()

	err := f.eng.Update(context.Background(), "starter", "does-not-exist", map[string]any{"name": "Z"})
	assert.True(t, engine.IsNotFoundError(err))
	assert.Equal(t, before, f.eng.Snapshot())
}

func TestUpdate_Validation(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	assert.True(t, engine.IsValidationError(f.eng.Update(ctx, "", "1", nil)))
	assert.True(t, engine.IsValidationError(f.eng.Update(ctx, "starter", " ", nil)))
}

func TestUpdate_MergesFields(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()
	f.clock.Advance(time.Minute)

	require.NoError(t, f.eng.Update(ctx, "Starter", "1", map[string]any{"protein": "20%"}))

	rec, _ := f.eng.Snapshot().State.Find("starter", "1")
	assert.Equal(t, "A", rec.Field("name"))
	assert.Equal(t, "20%", rec.Field("protein"))
	assert.True(t, rec.LastUpdated.Equal(testutil.Epoch.Add(time.Minute)))

	stored, err := f.strat.List(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, "20%", stored[0].Field("protein"))
	assert.Equal(t, int64(1), f.eng.Version())
}

func TestUpdate_FallsBackToSave(t *testing.T) {
	ctx := context.Background()
	mem := strategy.NewMemory()
	require.NoError(t, testutil.Seed(ctx, mem, collection, record.Record{
		ID: "1", Category: "starter", Fields: map[string]any{"name": "A", "protein": "18%"}, IsCustom: true,
	}))

	basic := testutil.Basic(mem)
	_, ok := basic.(strategy.Updater)
	require.False(t, ok)

	eng, err := engine.Open(ctx, collection, basic, engine.WithClock(testutil.NewManualClock()), engine.WithHook(&engine.EventRecorder{}))
	require.NoError(t, err)

	require.NoError(t, eng.Update(ctx, "starter", "1", map[string]any{"protein": "20%"}))

	stored, err := mem.List(ctx, collection)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "A", stored[0].Field("name"))
	assert.Equal(t, "20%", stored[0].Field("protein"))
}

func TestDelete_Validation(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	assert.True(t, engine.IsValidationError(f.eng.Delete(ctx, "", "1")))
	assert.True(t, engine.IsValidationError(f.eng.Delete(ctx, "starter", "")))
	assert.Empty(t, f.events.OfKind(engine.EventRecordTombstoned))
	assert.Equal(t, []string{"1", "2"}, f.eng.Snapshot().State.IDs("starter"))
}

func TestDelete_KeepsFlagAndBumpsVersion(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	require.NoError(t, f.eng.Delete(ctx, "starter", "1"))
	require.NoError(t, f.eng.Delete(ctx, "starter", "2"))

	assert.True(t, f.eng.Customized()["starter"])
	assert.Equal(t, int64(2), f.eng.Version())
	assert.Equal(t, 2, f.strat.Deletes())
}

func TestDelete_UnknownIDSucceeds(t *testing.T) {
	f := newFixture(t, starterAB())
	require.NoError(t, f.eng.Delete(context.Background(), "starter", "ghost"))
	assert.Equal(t, []string{"1", "2"}, f.eng.Snapshot().State.IDs("starter"))
}

func TestDelete_FailureIsNotRolledBack(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()
	f.strat.FailDeletes(errors.New("backend down"))

	err := f.eng.Delete(ctx, "starter", "2")
	require.Error(t, err)
	assert.False(t, engine.IsNotFoundError(err))

	// Still hidden locally even though the backend kept it.
	assert.Equal(t, []string{"1"}, f.eng.Snapshot().State.IDs("starter"))
	assert.Contains(t, metaSuppressed(t, f.strat), "2")
	assert.Equal(t, int64(0), f.eng.Version())

	failed := f.events.OfKind(engine.EventMutationFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, engine.OpDelete, failed[0].Op)
	assert.Equal(t, "2", failed[0].RecordID)
}

func TestDelete_BackendNotFound(t *testing.T) {
	f := newFixture(t, starterAB())
	f.strat.FailDeletes(strategy.ErrNotFound)

	err := f.eng.Delete(context.Background(), "starter", "2")
	assert.True(t, engine.IsNotFoundError(err))
}

func TestMutation_HydratesExactlyOnce(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()
	lists := f.strat.Lists()

	_, err := f.eng.Add(ctx, "starter", map[string]any{"name": "X"})
	require.NoError(t, err)
	assert.Equal(t, lists+1, f.strat.Lists())

	require.NoError(t, f.eng.Delete(ctx, "starter", "1"))
	assert.Equal(t, lists+2, f.strat.Lists())
}

func bundledDefaults() engine.Option {
	return engine.WithDefaults([]record.Record{
		{ID: "default-starter-1", Category: "Starter", Fields: map[string]any{"name": "Chick crumble"}},
		{ID: "default-grower-1", Category: "grower", Fields: map[string]any{"name": "Grower pellets"}},
	})
}

func TestDefaults_ShownUntilCustomized(t *testing.T) {
	f := newFixture(t, nil, bundledDefaults())
	ctx := context.Background()

	state := f.eng.Snapshot().State
	assert.Equal(t, []string{"default-starter-1"}, state.IDs("starter"))
	assert.Equal(t, []string{"default-grower-1"}, state.IDs("grower"))

	// First user record adopts the category's defaults into the strategy.
	id, err := f.eng.Add(ctx, "starter", map[string]any{"name": "Mine"})
	require.NoError(t, err)

	state = f.eng.Snapshot().State
	assert.Equal(t, []string{"default-starter-1", id}, state.IDs("starter"))
	assert.Equal(t, []string{"default-grower-1"}, state.IDs("grower"))
	assert.NotEmpty(t, f.events.OfKind(engine.EventDefaultsAdopted))

	stored, err := f.strat.List(ctx, collection)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestDefaults_NotReintroducedAfterEmptying(t *testing.T) {
	f := newFixture(t, nil, bundledDefaults())
	ctx := context.Background()

	require.NoError(t, f.eng.Delete(ctx, "starter", "default-starter-1"))
	assert.Empty(t, f.eng.Snapshot().State.IDs("starter"))
	assert.True(t, f.eng.Customized()["starter"])

	// Reload well past every window.
	f.clock.Advance(time.Minute)
	reloaded := f.reopen(bundledDefaults())
	state, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.IDs("starter"))
	assert.Equal(t, []string{"default-grower-1"}, state.IDs("grower"))
}

func TestResetToDefaults(t *testing.T) {
	f := newFixture(t, starterAB(), bundledDefaults())
	ctx := context.Background()
	require.NoError(t, f.eng.Delete(ctx, "starter", "1"))

	require.NoError(t, f.eng.ResetToDefaults(ctx))

	state := f.eng.Snapshot().State
	assert.Equal(t, []string{"default-starter-1"}, state.IDs("starter"))
	assert.Equal(t, []string{"default-grower-1"}, state.IDs("grower"))
	assert.Empty(t, f.eng.Customized())
	assert.Empty(t, metaSuppressed(t, f.strat))

	stored, err := f.strat.List(ctx, collection)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, int64(2), f.eng.Version())
}

func TestResetToDefaults_WithoutClearer(t *testing.T) {
	ctx := context.Background()
	mem := strategy.NewMemory()
	require.NoError(t, testutil.Seed(ctx, mem, collection, starterAB()...))

	eng, err := engine.Open(ctx, collection, testutil.Basic(mem),
		engine.WithClock(testutil.NewManualClock()),
		engine.WithHook(&engine.EventRecorder{}))
	require.NoError(t, err)

	require.NoError(t, eng.ResetToDefaults(ctx))

	stored, err := mem.List(ctx, collection)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, 0, eng.Snapshot().State.Len())
}

func TestSessionChanged_SwapsStrategy(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	remote := strategy.NewMemory()
	require.NoError(t, testutil.Seed(ctx, remote, collection, testutil.Rec("x", "grower", "Remote")))

	res, err := f.eng.SessionChanged(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeDataSet, res.Outcome)
	assert.Equal(t, []string{"grower"}, res.State.Categories())
	assert.Same(t, remote, f.eng.Strategy())
	assert.Len(t, f.events.OfKind(engine.EventSessionChanged), 1)

	// Flags from both sessions are kept.
	assert.Equal(t, map[string]bool{"starter": true, "grower": true}, f.eng.Customized())
}

func TestSessionChanged_DiscardsInFlightList(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	remote := strategy.NewMemory()
	require.NoError(t, testutil.Seed(ctx, remote, collection, testutil.Rec("x", "grower", "Remote")))

	gate := f.strat.HoldNextList()
	done := make(chan engine.HydrationResult, 1)
	go func() {
		res, _ := f.eng.Hydrate(ctx)
		done <- res
	}()
	<-gate.Entered()

	_, err := f.eng.SessionChanged(ctx, remote)
	require.NoError(t, err)
	gate.Release()

	res := <-done
	assert.Equal(t, engine.OutcomeNoData, res.Outcome)
	assert.Equal(t, []string{"grower"}, f.eng.Snapshot().State.Categories())
	assert.Len(t, f.events.OfKind(engine.EventHydrateDiscarded), 1)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx := context.Background()

	var mu sync.Mutex
	var got []engine.Snapshot
	cancel := f.eng.Subscribe(func(s engine.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	})

	id, err := f.eng.Add(ctx, "starter", map[string]any{"name": "X"})
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Version)
	assert.Contains(t, got[0].State.IDs("starter"), id)
	mu.Unlock()

	cancel()
	_, err = f.eng.Add(ctx, "starter", map[string]any{"name": "Y"})
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	f := newFixture(t, starterAB())
	snap := f.eng.Snapshot()
	snap.State["starter"][0].Fields["name"] = "changed"
	delete(snap.State, "starter")

	rec, idx := f.eng.Snapshot().State.Find("starter", "1")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "A", rec.Field("name"))
}

func TestRun_ProcessesRequests(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- f.eng.Run(ctx) }()

	require.NoError(t, testutil.Seed(ctx, f.strat, collection, testutil.Rec("3", "grower", "C")))
	require.True(t, f.eng.Enqueue(engine.Request{Kind: engine.RequestRefresh, Reason: "test"}))

	require.Eventually(t, func() bool {
		return len(f.eng.Snapshot().State.IDs("grower")) == 1
	}, time.Second, 5*time.Millisecond)

	remote := strategy.NewMemory()
	require.NoError(t, testutil.Seed(ctx, remote, collection, testutil.Rec("x", "layer", "Remote")))
	require.True(t, f.eng.Enqueue(engine.Request{Kind: engine.RequestSessionChange, Strategy: remote}))

	require.Eventually(t, func() bool {
		return f.eng.Strategy() == strategy.Strategy(remote)
	}, time.Second, 5*time.Millisecond)

	f.eng.Stop()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return after stop")
	}
	assert.False(t, f.eng.Enqueue(engine.Request{Kind: engine.RequestRefresh}))
}

func TestRun_ContextCancel(t *testing.T) {
	f := newFixture(t, starterAB())
	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- f.eng.Run(ctx) }()
	cancel()

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestResetToDefaults_WithoutClearerKeepsDefaultsVisible(t *testing.T) {
	ctx := context.Background()
	mem := strategy.NewMemory()
	clock := testutil.NewManualClock()

	eng, err := engine.Open(ctx, collection, testutil.Basic(mem),
		engine.WithClock(clock),
		engine.WithHook(&engine.EventRecorder{}),
		engine.WithIDGenerator(testutil.NewSequentialIDs("")),
		bundledDefaults())
	require.NoError(t, err)

	// Adopts default-grower-1 into the backend.
	_, err = eng.Add(ctx, "grower", map[string]any{"name": "Mine"})
	require.NoError(t, err)
	require.NoError(t, eng.ResetToDefaults(ctx))

	require.NoError(t, testutil.Seed(ctx, mem, collection, testutil.Rec("9", "starter", "New")))
	clock.Advance(time.Second)
	_, err = eng.Hydrate(ctx)
	require.NoError(t, err)

	state := eng.Snapshot().State
	assert.Equal(t, []string{"9"}, state.IDs("starter"))
	assert.Equal(t, []string{"default-grower-1"}, state.IDs("grower"))
}
