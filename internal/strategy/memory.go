package strategy

import (
	"context"
	"strings"
	"sync"

	"github.com/roach88/flocksync/internal/record"
)

var (
	_ Strategy = (*Memory)(nil)
	_ Updater  = (*Memory)(nil)
	_ Clearer  = (*Memory)(nil)
)

// Memory is a goroutine-safe in-process strategy.
// Records are copied on the way in and out, so callers never share maps
// with the backend.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	ids         record.IDGenerator
}

type memoryCollection struct {
	order []string
	byID  map[string]record.Record
}

// NewMemory creates an empty in-memory strategy that assigns UUIDv7 ids.
func NewMemory() *Memory {
	return NewMemoryWithIDs(record.UUIDv7Generator{})
}

// NewMemoryWithIDs creates an empty in-memory strategy using ids for new records.
func NewMemoryWithIDs(ids record.IDGenerator) *Memory {
	return &Memory{
		collections: make(map[string]*memoryCollection),
		ids:         ids,
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) List(ctx context.Context, collection string) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := m.collections[collection]
	if c == nil {
		return []record.Record{}, nil
	}
	out := make([]record.Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id].Clone())
	}
	return out, nil
}

func (m *Memory) Save(ctx context.Context, collection string, rec record.Record) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	if strings.TrimSpace(collection) == "" {
		return record.Record{}, ErrInvalidInput
	}
	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = m.ids.Generate()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection)
	if _, exists := c.byID[rec.ID]; !exists {
		c.order = append(c.order, rec.ID)
	}
	c.byID[rec.ID] = rec
	return rec.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, patch record.Patch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collections[collection]
	if c == nil {
		return false, ErrNotFound
	}
	existing, ok := c.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	c.byID[id] = existing.Apply(patch)
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collections[collection]
	if c == nil {
		return true, nil
	}
	if _, ok := c.byID[id]; !ok {
		return true, nil
	}
	delete(c.byID, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *Memory) Clear(ctx context.Context, collection string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return true, nil
}

// collection returns the named collection, creating it. Caller holds m.mu.
func (m *Memory) collection(name string) *memoryCollection {
	c := m.collections[name]
	if c == nil {
		c = &memoryCollection{byID: make(map[string]record.Record)}
		m.collections[name] = c
	}
	return c
}
