package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
)

// Mutation names used in events and errors.
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpDelete = "delete"
	OpReset  = "reset"
)

// Add creates a record in category and returns its id.
//
// A string "id" in fields is used as the record id; otherwise one is
// generated. The record is saved first and then spliced into memory,
// replacing any record with the same id. Re-adding a recently deleted id
// lifts its tombstone and suppression entry. Adding to a category that still
// shows bundled defaults adopts those defaults into the strategy.
func (e *Engine) Add(ctx context.Context, category string, fields map[string]any) (string, error) {
	cat := e.normalizer.Normalize(category)
	if cat == "" {
		return "", validationError(OpAdd, "category is required")
	}

	id, _ := fields[record.KeyID].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		id = e.ids.Generate()
	}

	e.mu.Lock()
	strat := e.strategy
	rec := record.Record{
		ID:          id,
		Category:    cat,
		Fields:      payloadFields(fields),
		LastUpdated: e.clock.Now(),
		IsCustom:    true,
	}
	e.mu.Unlock()

	if strat == nil {
		return "", e.finish(ctx, OpAdd, cat, id, persistenceError(OpAdd, cat, id, strategy.ErrUnavailable))
	}

	if err := e.adoptDefaults(ctx, strat, cat, ""); err != nil {
		return "", e.finish(ctx, OpAdd, cat, id, persistenceError(OpAdd, cat, id, err))
	}

	saved, err := strat.Save(ctx, e.collection, rec)
	if err != nil {
		return "", e.finish(ctx, OpAdd, cat, id, persistenceError(OpAdd, cat, id, err))
	}
	saved.Category = cat

	e.forgetDeletion(ctx, strat, saved.ID)

	e.mu.Lock()
	e.state.Upsert(saved)
	e.mu.Unlock()
	e.markCustomized(ctx, strat, cat)

	return saved.ID, e.finish(ctx, OpAdd, cat, saved.ID, nil)
}

// forgetDeletion drops the tombstone and suppression entry of an id that
// has been added again, so hydrations stop hiding it. The suppression map
// is read before it is rewritten.
func (e *Engine) forgetDeletion(ctx context.Context, strat strategy.Strategy, id string) {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()

	loadErr := e.ensureMetaLoaded(ctx, strat)

	e.mu.Lock()
	e.tombstones.Forget(id)
	changed := e.suppression.Forget(id)
	snap := e.suppression.Snapshot()
	e.mu.Unlock()

	if changed && loadErr == nil {
		_ = e.saveMeta(ctx, strat, record.NewMeta(record.MetaSuppressedDelete, snap))
	}
}

// Update merges partial into the record id of category.
//
// The record must be in memory. Strategies without the Updater capability
// get a full Save of the merged record instead.
func (e *Engine) Update(ctx context.Context, category, id string, partial map[string]any) error {
	cat := e.normalizer.Normalize(category)
	id = strings.TrimSpace(id)
	if cat == "" {
		return validationError(OpUpdate, "category is required")
	}
	if id == "" {
		return validationError(OpUpdate, "id is required")
	}

	e.mu.Lock()
	existing, idx := e.state.Find(cat, id)
	strat := e.strategy
	patch := record.Patch{Fields: payloadFields(partial), LastUpdated: e.clock.Now()}
	e.mu.Unlock()

	if idx < 0 {
		return notFoundError(OpUpdate, cat, id, nil)
	}
	if strat == nil {
		return e.finish(ctx, OpUpdate, cat, id, persistenceError(OpUpdate, cat, id, strategy.ErrUnavailable))
	}

	if err := e.adoptDefaults(ctx, strat, cat, ""); err != nil {
		return e.finish(ctx, OpUpdate, cat, id, persistenceError(OpUpdate, cat, id, err))
	}

	merged := existing.Apply(patch)
	var err error
	if u, ok := strat.(strategy.Updater); ok {
		_, err = u.Update(ctx, e.collection, id, patch)
	} else {
		_, err = strat.Save(ctx, e.collection, merged)
	}
	if err != nil {
		return e.finish(ctx, OpUpdate, cat, id, persistenceError(OpUpdate, cat, id, err))
	}

	e.mu.Lock()
	e.state.Upsert(merged)
	e.mu.Unlock()
	e.markCustomized(ctx, strat, cat)

	return e.finish(ctx, OpUpdate, cat, id, nil)
}

// Delete removes the record id of category.
//
// The id is tombstoned, suppressed and removed from memory in one step,
// and the suppression map is persisted, all before the strategy's Delete
// is called, so a hydration racing the delete cannot bring the record back.
// A failed strategy delete is returned but not rolled back.
func (e *Engine) Delete(ctx context.Context, category, id string) error {
	cat := e.normalizer.Normalize(category)
	id = strings.TrimSpace(id)
	if cat == "" {
		return validationError(OpDelete, "category is required")
	}
	if id == "" {
		return validationError(OpDelete, "id is required")
	}

	e.mu.Lock()
	strat := e.strategy
	now := e.clock.Now()
	e.tombstones.MarkDeleted(id, now)
	e.suppression.Mark(id, now.UnixMilli())
	e.state.Remove(cat, id)
	e.mu.Unlock()

	e.emit(Event{Kind: EventRecordTombstoned, Level: slog.LevelDebug, Op: OpDelete, Category: cat, RecordID: id})

	if strat == nil {
		return e.finish(ctx, OpDelete, cat, id, persistenceError(OpDelete, cat, id, strategy.ErrUnavailable))
	}

	// A failed meta write only weakens protection across reloads.
	_ = e.persistSuppression(ctx, strat)

	if err := e.adoptDefaults(ctx, strat, cat, id); err != nil {
		return e.finish(ctx, OpDelete, cat, id, persistenceError(OpDelete, cat, id, err))
	}
	e.markCustomized(ctx, strat, cat)

	if _, err := strat.Delete(ctx, e.collection, id); err != nil {
		return e.finish(ctx, OpDelete, cat, id, persistenceError(OpDelete, cat, id, err))
	}

	return e.finish(ctx, OpDelete, cat, id, nil)
}

// ResetToDefaults drops the user's records and shows the bundled defaults.
//
// Strategies with the Clearer capability are cleared; others get a Delete
// for every listed record. Customization flags and the suppression map are
// reset and persisted.
func (e *Engine) ResetToDefaults(ctx context.Context) error {
	e.mu.Lock()
	strat := e.strategy
	e.mu.Unlock()

	if strat == nil {
		return e.finish(ctx, OpReset, "", "", persistenceError(OpReset, "", "", strategy.ErrUnavailable))
	}

	var deleted []string
	if c, ok := strat.(strategy.Clearer); ok {
		if _, err := c.Clear(ctx, e.collection); err != nil {
			return e.finish(ctx, OpReset, "", "", persistenceError(OpReset, "", "", err))
		}
	} else {
		var err error
		deleted, err = e.deleteAll(ctx, strat)
		if err != nil {
			return e.finish(ctx, OpReset, "", "", persistenceError(OpReset, "", "", err))
		}
	}

	e.mu.Lock()
	e.state = e.defaults.Clone()
	e.customs.Reset()
	e.suppression.Reset()
	// Defaults are visible again, so a tombstone left by deleting one
	// must not hide it from the next overlay.
	for _, defs := range e.defaults {
		for _, d := range defs {
			e.tombstones.Forget(d.ID)
		}
	}
	// Deleted one by one, so an eventually consistent backend may still
	// list them for a while.
	now := e.clock.Now()
	for _, id := range deleted {
		if e.isDefaultLocked(id) {
			continue
		}
		e.tombstones.MarkDeleted(id, now)
		e.suppression.Mark(id, now.UnixMilli())
	}
	e.mu.Unlock()

	_ = e.persistCustoms(ctx, strat)
	_ = e.persistSuppression(ctx, strat)

	return e.finish(ctx, OpReset, "", "", nil)
}

// isDefaultLocked reports whether id belongs to a bundled default record.
func (e *Engine) isDefaultLocked(id string) bool {
	for _, defs := range e.defaults {
		for _, d := range defs {
			if d.ID == id {
				return true
			}
		}
	}
	return false
}

func (e *Engine) deleteAll(ctx context.Context, strat strategy.Strategy) ([]string, error) {
	recs, err := strat.List(ctx, e.collection)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		if _, err := strat.Delete(ctx, e.collection, r.ID); err != nil {
			return ids, err
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// adoptDefaults saves the bundled defaults of an uncustomized category into
// the strategy, so they survive as ordinary records once the category's
// flag is set. skipID is left out.
func (e *Engine) adoptDefaults(ctx context.Context, strat strategy.Strategy, category, skipID string) error {
	e.mu.Lock()
	if e.customs.IsSet(category) {
		e.mu.Unlock()
		return nil
	}
	defs := make([]record.Record, 0, len(e.defaults[category]))
	for _, d := range e.defaults[category] {
		if d.ID != skipID {
			defs = append(defs, d.Clone())
		}
	}
	e.mu.Unlock()

	if len(defs) == 0 {
		return nil
	}
	for _, d := range defs {
		if _, err := strat.Save(ctx, e.collection, d); err != nil {
			return err
		}
	}
	e.emit(Event{Kind: EventDefaultsAdopted, Level: slog.LevelInfo, Category: category, Count: len(defs)})
	return nil
}

func (e *Engine) markCustomized(ctx context.Context, strat strategy.Strategy, category string) {
	e.mu.Lock()
	changed := e.customs.Set(category)
	e.mu.Unlock()
	if changed {
		_ = e.persistCustoms(ctx, strat)
	}
}

// finish runs the follow-up every mutation shares: bump the update counter
// on success, emit the outcome, hydrate once, notify observers.
// Hydration problems are reported through events, never returned.
func (e *Engine) finish(ctx context.Context, op, category, id string, err error) error {
	strat := strategyName(e.Strategy())
	if err != nil {
		e.emit(Event{Kind: EventMutationFailed, Level: slog.LevelError, Op: op, Strategy: strat, Category: category, RecordID: id, Err: err})
	} else {
		v := e.version.Next()
		e.emit(Event{Kind: EventMutationApplied, Level: slog.LevelInfo, Op: op, Strategy: strat, Category: category, RecordID: id, Version: v})
	}

	if _, herr := e.hydrate(ctx); herr != nil {
		slog.Debug("post-mutation hydration interrupted", "op", op, "error", herr)
	}
	e.notify()
	return err
}

// payloadFields copies fields without the reserved keys.
func payloadFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if record.IsReserved(k) {
			continue
		}
		out[k] = v
	}
	return out
}
