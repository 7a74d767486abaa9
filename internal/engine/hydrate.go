package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
)

// Outcome is the tri-state result of a hydration.
type Outcome int

const (
	// OutcomeNoData means the strategy could not list; state is untouched.
	OutcomeNoData Outcome = iota + 1
	// OutcomeEmptySet means the list held no visible records; state is untouched.
	OutcomeEmptySet
	// OutcomeDataSet means the fetched mapping replaced the state.
	OutcomeDataSet
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoData:
		return "no_data"
	case OutcomeEmptySet:
		return "empty_set"
	case OutcomeDataSet:
		return "data_set"
	default:
		return "unknown"
	}
}

// HydrationResult reports what one hydration did.
type HydrationResult struct {
	Outcome Outcome

	// State is a copy of the collection after the hydration.
	State record.State

	// Filtered counts fetched records hidden by a tombstone or suppression entry.
	Filtered int

	// Err is the list error behind an OutcomeNoData, if any.
	Err error
}

// Load hydrates and returns the resulting state.
func (e *Engine) Load(ctx context.Context) (record.State, error) {
	res, err := e.Hydrate(ctx)
	return res.State, err
}

// Hydrate fetches the collection from the active strategy and merges it
// into memory.
//
// In order:
//  1. purge expired tombstones
//  2. restore the persisted suppression map and customization flags, and
//     drop expired suppression entries
//  3. list the collection; any list error yields OutcomeNoData
//  4. hide tombstoned and suppressed ids
//  5. normalize categories and group
//  6. an empty mapping yields OutcomeEmptySet and is not applied
//  7. otherwise replace the state, flag every present category as
//     customized and show defaults in uncustomized absent categories
//
// The returned error is non-nil only when ctx is done.
func (e *Engine) Hydrate(ctx context.Context) (HydrationResult, error) {
	res, err := e.hydrate(ctx)
	if res.Outcome == OutcomeDataSet {
		e.notify()
	}
	return res, err
}

func (e *Engine) hydrate(ctx context.Context) (HydrationResult, error) {
	if err := ctx.Err(); err != nil {
		return e.noData(err), err
	}

	e.mu.Lock()
	strat, gen := e.strategy, e.generation
	purged := e.tombstones.PurgeOld(e.clock.Now(), e.windows.TombstonePurge)
	e.mu.Unlock()

	if purged > 0 {
		e.emit(Event{Kind: EventTombstonesPurged, Level: slog.LevelDebug, Count: purged})
	}
	if strat == nil {
		e.emit(Event{Kind: EventHydrateNoData, Level: slog.LevelDebug, Err: strategy.ErrUnavailable})
		return e.noData(strategy.ErrUnavailable), nil
	}

	e.restoreMeta(ctx, strat, gen)

	recs, err := strat.List(ctx, e.collection)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.noData(err), ctxErr
		}
		level := slog.LevelWarn
		if errors.Is(err, strategy.ErrUnavailable) || errors.Is(err, strategy.ErrNotSupported) {
			level = slog.LevelInfo
		}
		e.emit(Event{Kind: EventHydrateNoData, Level: level, Strategy: strat.Name(), Outcome: OutcomeNoData, Err: err})
		return e.noData(err), nil
	}

	e.mu.Lock()
	if e.generation != gen {
		state := e.state.Clone()
		e.mu.Unlock()
		e.emit(Event{Kind: EventHydrateDiscarded, Level: slog.LevelInfo, Strategy: strat.Name(), Count: len(recs)})
		return HydrationResult{Outcome: OutcomeNoData, State: state}, nil
	}

	now := e.clock.Now()
	kept := make([]record.Record, 0, len(recs))
	filtered := 0
	for _, r := range recs {
		if e.hiddenLocked(r.ID, now) {
			filtered++
			continue
		}
		r = r.Clone()
		r.Category = e.normalizer.Normalize(r.Category)
		if r.Category == "" {
			slog.Debug("skipping record without category", "id", r.ID)
			continue
		}
		kept = append(kept, r)
	}
	fresh := record.Group(kept)

	if len(fresh) == 0 {
		state := e.state.Clone()
		e.mu.Unlock()
		if filtered > 0 {
			e.emit(Event{Kind: EventRecordsFiltered, Level: slog.LevelDebug, Count: filtered})
		}
		e.emit(Event{Kind: EventHydrateEmpty, Level: slog.LevelDebug, Strategy: strat.Name(), Outcome: OutcomeEmptySet})
		return HydrationResult{Outcome: OutcomeEmptySet, State: state, Filtered: filtered}, nil
	}

	flagsChanged := false
	for cat := range fresh {
		if e.customs.Set(cat) {
			flagsChanged = true
		}
	}
	e.overlayDefaultsLocked(fresh, now)
	e.state = fresh
	state := fresh.Clone()
	e.mu.Unlock()

	if filtered > 0 {
		e.emit(Event{Kind: EventRecordsFiltered, Level: slog.LevelDebug, Count: filtered})
	}
	e.emit(Event{Kind: EventHydrateApplied, Level: slog.LevelDebug, Strategy: strat.Name(), Outcome: OutcomeDataSet, Count: state.Len()})

	if flagsChanged {
		_ = e.persistCustoms(ctx, strat)
	}

	return HydrationResult{Outcome: OutcomeDataSet, State: state, Filtered: filtered}, nil
}

func (e *Engine) noData(err error) HydrationResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return HydrationResult{Outcome: OutcomeNoData, State: e.state.Clone(), Err: err}
}

// hiddenLocked reports whether id is tombstoned or suppressed at now.
func (e *Engine) hiddenLocked(id string, now time.Time) bool {
	return e.tombstones.IsFresh(id, now, e.windows.TombstoneFilter) ||
		e.suppression.Suppressed(id, now.UnixMilli(), e.windows.Suppression)
}

// overlayDefaultsLocked adds bundled defaults for every category that is
// neither customized nor present in state.
func (e *Engine) overlayDefaultsLocked(state record.State, now time.Time) {
	for cat, defs := range e.defaults {
		if e.customs.IsSet(cat) {
			continue
		}
		if _, ok := state[cat]; ok {
			continue
		}
		var shown []record.Record
		for _, d := range defs {
			if e.hiddenLocked(d.ID, now) {
				continue
			}
			shown = append(shown, d.Clone())
		}
		if len(shown) > 0 {
			state[cat] = shown
		}
	}
}

// dropDefaultsLocked removes bundled default records from a category that
// has become customized.
func (e *Engine) dropDefaultsLocked(category string) {
	defs := e.defaults[category]
	if len(defs) == 0 {
		return
	}
	for _, d := range defs {
		if cur, idx := e.state.Find(category, d.ID); idx >= 0 && !cur.IsCustom {
			e.state.Remove(category, d.ID)
		}
	}
	if len(e.state[category]) == 0 {
		delete(e.state, category)
	}
}

// restoreMeta loads the persisted meta records once per strategy and
// expires old suppression entries, persisting whatever changed.
func (e *Engine) restoreMeta(ctx context.Context, strat strategy.Strategy, gen uint64) {
	e.mu.Lock()
	needLoad := !e.suppression.loaded || !e.customs.loaded
	e.mu.Unlock()

	var (
		loaded     bool
		suppressed map[string]int64
		flags      map[string]bool
	)
	if needLoad {
		var err error
		suppressed, flags, err = e.readMeta(ctx, strat)
		if err != nil {
			e.emit(Event{Kind: EventMetaFailed, Level: slog.LevelDebug, Op: "load", Strategy: strat.Name(), Err: err})
		} else {
			loaded = true
		}
	}

	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return
	}
	var suppressionDirty, customsDirty bool
	if loaded {
		suppressionDirty, customsDirty = e.mergeMetaLocked(suppressed, flags)
	}
	expired := e.suppression.Expire(e.clock.Now().UnixMilli(), e.windows.Suppression)
	e.mu.Unlock()

	if expired {
		e.emit(Event{Kind: EventSuppressionExpired, Level: slog.LevelDebug})
	}
	if expired || suppressionDirty {
		_ = e.persistSuppression(ctx, strat)
	}
	if customsDirty {
		_ = e.persistCustoms(ctx, strat)
	}
}

// readMeta lists the meta collection of strat and decodes the suppression
// map and customization flags. Malformed records are skipped.
func (e *Engine) readMeta(ctx context.Context, strat strategy.Strategy) (map[string]int64, map[string]bool, error) {
	metas, err := strat.List(ctx, record.MetaCollection)
	if err != nil {
		return nil, nil, err
	}
	var (
		suppressed map[string]int64
		flags      map[string]bool
	)
	for _, m := range metas {
		var derr error
		switch m.ID {
		case record.MetaSuppressedDelete:
			derr = record.DecodeMeta(m, &suppressed)
		case record.MetaCustomizations:
			derr = record.DecodeMeta(m, &flags)
		}
		if derr != nil {
			slog.Warn("ignoring malformed meta record", "id", m.ID, "error", derr)
		}
	}
	return suppressed, flags, nil
}

// mergeMetaLocked folds persisted meta into whichever in-memory map has not
// been loaded yet. It reports, per map, whether memory now holds entries the
// persisted copy lacks, so the caller can write them back.
func (e *Engine) mergeMetaLocked(suppressed map[string]int64, flags map[string]bool) (suppressionDirty, customsDirty bool) {
	if !e.suppression.loaded {
		e.suppression.Merge(suppressed)
		for id, at := range e.suppression.entries {
			if persisted, ok := suppressed[id]; !ok || persisted != at {
				suppressionDirty = true
				break
			}
		}
	}
	if !e.customs.loaded {
		before := e.customs.Snapshot()
		e.customs.Merge(flags)
		for cat, on := range e.customs.flags {
			if !on {
				continue
			}
			if !before[cat] {
				e.dropDefaultsLocked(cat)
			}
			if !flags[cat] {
				customsDirty = true
			}
		}
	}
	return suppressionDirty, customsDirty
}

// ensureMetaLoaded merges the persisted meta records of strat into memory
// before the first write to them, so a write never replaces entries it has
// not seen. Callers hold metaMu.
func (e *Engine) ensureMetaLoaded(ctx context.Context, strat strategy.Strategy) error {
	e.mu.Lock()
	loaded := e.suppression.loaded && e.customs.loaded
	gen := e.generation
	e.mu.Unlock()
	if loaded {
		return nil
	}

	suppressed, flags, err := e.readMeta(ctx, strat)
	if err != nil {
		e.emit(Event{Kind: EventMetaFailed, Level: slog.LevelDebug, Op: "load", Strategy: strat.Name(), Err: err})
		return err
	}

	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return nil
	}
	suppressionDirty, customsDirty := e.mergeMetaLocked(suppressed, flags)
	suppressionSnap, customsSnap := e.suppression.Snapshot(), e.customs.Snapshot()
	e.mu.Unlock()

	// Entries only memory knew about go back to the strategy now; the
	// caller's own write may repeat one of these.
	if suppressionDirty {
		_ = e.saveMeta(ctx, strat, record.NewMeta(record.MetaSuppressedDelete, suppressionSnap))
	}
	if customsDirty {
		_ = e.saveMeta(ctx, strat, record.NewMeta(record.MetaCustomizations, customsSnap))
	}
	return nil
}

// persistSuppression writes the suppressedDeletes meta record. The write is
// skipped while the persisted copy cannot be read; the next hydration that
// loads it writes the merged map.
func (e *Engine) persistSuppression(ctx context.Context, strat strategy.Strategy) error {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()

	if err := e.ensureMetaLoaded(ctx, strat); err != nil {
		return err
	}

	e.mu.Lock()
	snap := e.suppression.Snapshot()
	e.mu.Unlock()

	return e.saveMeta(ctx, strat, record.NewMeta(record.MetaSuppressedDelete, snap))
}

// persistCustoms writes the hasUserCustoms meta record, with the same
// read-before-write rule as persistSuppression.
func (e *Engine) persistCustoms(ctx context.Context, strat strategy.Strategy) error {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()

	if err := e.ensureMetaLoaded(ctx, strat); err != nil {
		return err
	}

	e.mu.Lock()
	snap := e.customs.Snapshot()
	e.mu.Unlock()

	return e.saveMeta(ctx, strat, record.NewMeta(record.MetaCustomizations, snap))
}

func (e *Engine) saveMeta(ctx context.Context, strat strategy.Strategy, meta record.Record) error {
	if _, err := strat.Save(ctx, record.MetaCollection, meta); err != nil {
		e.emit(Event{Kind: EventMetaFailed, Level: slog.LevelWarn, Op: "save", Strategy: strat.Name(), RecordID: meta.ID, Err: err})
		return err
	}
	e.emit(Event{Kind: EventMetaPersisted, Level: slog.LevelDebug, Strategy: strat.Name(), RecordID: meta.ID})
	return nil
}
