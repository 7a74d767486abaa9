package testutil

import (
	"context"
	"sync"

	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
)

// ScriptedStrategy is an in-memory strategy whose reads of data collections
// can be scripted to model a slow, eventually consistent backend.
//
// Meta collection reads are never failed or overridden, so suppression and
// customization records always round-trip. They can be held with
// HoldNextMetaList.
//
// Thread-safety: All methods are safe for concurrent use.
type ScriptedStrategy struct {
	*strategy.Memory

	mu        sync.Mutex
	listErr   error
	overrides [][]record.Record
	gates     []*Gate
	metaGates []*Gate
	lists     int
	saves     int
	deletes   int
	failSave  error
	failDel   error
}

// Gate controls one held List call.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Entered is closed once the held List call has taken its snapshot.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

// Release lets the held List call return its (by now stale) snapshot.
func (g *Gate) Release() { g.once.Do(func() { close(g.release) }) }

// NewScriptedStrategy creates an empty scripted strategy.
func NewScriptedStrategy() *ScriptedStrategy {
	return &ScriptedStrategy{Memory: strategy.NewMemory()}
}

func (s *ScriptedStrategy) Name() string { return "scripted" }

// FailLists makes every data List return err until cleared with nil.
func (s *ScriptedStrategy) FailLists(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// FailSaves makes every Save return err until cleared with nil.
func (s *ScriptedStrategy) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = err
}

// FailDeletes makes every Delete return err until cleared with nil.
func (s *ScriptedStrategy) FailDeletes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDel = err
}

// OverrideNextList queues a canned result for the next data List call.
// A nil or empty slice models a backend that reports nothing.
func (s *ScriptedStrategy) OverrideNextList(recs []record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]record.Record, len(recs))
	for i, r := range recs {
		cp[i] = r.Clone()
	}
	s.overrides = append(s.overrides, cp)
}

// HoldNextList makes the next data List call snapshot the backend at call
// time, signal Entered, and block until Release (or context cancellation).
func (s *ScriptedStrategy) HoldNextList() *Gate {
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates = append(s.gates, g)
	return g
}

// HoldNextMetaList is HoldNextList for the next read of the meta collection.
func (s *ScriptedStrategy) HoldNextMetaList() *Gate {
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metaGates = append(s.metaGates, g)
	return g
}

// Lists returns how many data List calls have been made.
func (s *ScriptedStrategy) Lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

// Saves returns how many data Save calls have succeeded.
func (s *ScriptedStrategy) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Deletes returns how many data Delete calls have succeeded.
func (s *ScriptedStrategy) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

func (s *ScriptedStrategy) List(ctx context.Context, collection string) ([]record.Record, error) {
	if collection == record.MetaCollection {
		s.mu.Lock()
		var gate *Gate
		if len(s.metaGates) > 0 {
			gate = s.metaGates[0]
			s.metaGates = s.metaGates[1:]
		}
		s.mu.Unlock()
		snapshot, err := s.Memory.List(ctx, collection)
		return hold(ctx, gate, snapshot, err)
	}

	s.mu.Lock()
	s.lists++
	if s.listErr != nil {
		err := s.listErr
		s.mu.Unlock()
		return nil, err
	}
	var gate *Gate
	if len(s.gates) > 0 {
		gate = s.gates[0]
		s.gates = s.gates[1:]
	}
	var override []record.Record
	hasOverride := false
	if gate == nil && len(s.overrides) > 0 {
		override = s.overrides[0]
		s.overrides = s.overrides[1:]
		hasOverride = true
	}
	s.mu.Unlock()

	if hasOverride {
		return override, nil
	}

	snapshot, err := s.Memory.List(ctx, collection)
	return hold(ctx, gate, snapshot, err)
}

// hold blocks a List that already took its snapshot until gate is
// released. A nil gate returns at once.
func hold(ctx context.Context, gate *Gate, snapshot []record.Record, err error) ([]record.Record, error) {
	if gate == nil {
		return snapshot, err
	}

	close(gate.entered)
	select {
	case <-gate.release:
		return snapshot, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *ScriptedStrategy) Save(ctx context.Context, collection string, rec record.Record) (record.Record, error) {
	if collection != record.MetaCollection {
		s.mu.Lock()
		err := s.failSave
		if err == nil {
			s.saves++
		}
		s.mu.Unlock()
		if err != nil {
			return record.Record{}, err
		}
	}
	return s.Memory.Save(ctx, collection, rec)
}

func (s *ScriptedStrategy) Delete(ctx context.Context, collection, id string) (bool, error) {
	if collection != record.MetaCollection {
		s.mu.Lock()
		err := s.failDel
		if err == nil {
			s.deletes++
		}
		s.mu.Unlock()
		if err != nil {
			return false, err
		}
	}
	return s.Memory.Delete(ctx, collection, id)
}

// Basic hides the optional Updater and Clearer capabilities of s.
func Basic(s strategy.Strategy) strategy.Strategy {
	return basicStrategy{inner: s}
}

type basicStrategy struct {
	inner strategy.Strategy
}

func (b basicStrategy) Name() string { return "basic-" + b.inner.Name() }

func (b basicStrategy) List(ctx context.Context, collection string) ([]record.Record, error) {
	return b.inner.List(ctx, collection)
}

func (b basicStrategy) Save(ctx context.Context, collection string, rec record.Record) (record.Record, error) {
	return b.inner.Save(ctx, collection, rec)
}

func (b basicStrategy) Delete(ctx context.Context, collection, id string) (bool, error) {
	return b.inner.Delete(ctx, collection, id)
}

// Seed saves recs into s and stops at the first error.
func Seed(ctx context.Context, s strategy.Strategy, collection string, recs ...record.Record) error {
	for _, r := range recs {
		if _, err := s.Save(ctx, collection, r); err != nil {
			return err
		}
	}
	return nil
}

// Rec is a terse record constructor for tests.
func Rec(id, category, name string) record.Record {
	return record.Record{
		ID:       id,
		Category: category,
		Fields:   map[string]any{"name": name},
		IsCustom: true,
	}
}
