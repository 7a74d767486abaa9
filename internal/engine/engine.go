package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
)

// Default time windows.
const (
	DefaultTombstoneFilter = 2 * time.Second
	DefaultTombstonePurge  = 10 * time.Second
	DefaultSuppression     = 30 * time.Second
)

// Windows are the time windows of the two deletion caches.
type Windows struct {
	// TombstoneFilter hides a deleted id from hydrations for this long.
	TombstoneFilter time.Duration
	// TombstonePurge bounds how long tombstones are kept at all.
	TombstonePurge time.Duration
	// Suppression hides a deleted id across reloads for this long.
	Suppression time.Duration
}

// DefaultWindows returns the 2s / 10s / 30s windows.
func DefaultWindows() Windows {
	return Windows{
		TombstoneFilter: DefaultTombstoneFilter,
		TombstonePurge:  DefaultTombstonePurge,
		Suppression:     DefaultSuppression,
	}
}

// Snapshot is a consistent copy of the collection and its update counter.
type Snapshot struct {
	State   record.State
	Version int64
}

// Observer is called with a fresh snapshot after every applied change.
// It runs on the goroutine that made the change and must not block.
type Observer func(Snapshot)

// Engine owns the in-memory view of one categorized collection.
//
// All writes to the collection state, the tombstone cache, the suppression
// map and the customization flags go through the engine's mutation and
// hydration pipelines.
//
// Thread-safety model:
//   - All exported methods are safe from any goroutine
//   - mu guards in-memory state and is never held across strategy I/O
//   - metaMu serializes meta record writes so the newest snapshot lands last
//   - Run(): must be called from exactly one goroutine
//
// Stale hydration results are filtered, not prevented: a List issued before
// a delete may complete after it, and the tombstone and suppression caches
// hide the deleted id from that late result.
type Engine struct {
	collection string
	clock      Clock
	ids        record.IDGenerator
	hook       Hook
	normalizer *record.Normalizer
	windows    Windows
	defaults   record.State

	mu          sync.Mutex
	strategy    strategy.Strategy
	generation  uint64 // bumped by SessionChanged; stale lists are discarded
	state       record.State
	tombstones  *tombstoneCache
	suppression *suppressionMap
	customs     *customizationFlags

	metaMu  sync.Mutex
	version versionCounter
	queue   *requestQueue

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithIDGenerator sets how ids are generated for added records.
// Default: record.UUIDv7Generator.
func WithIDGenerator(g record.IDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithHook sets the event hook. Default: SlogHook on slog.Default().
func WithHook(h Hook) Option {
	return func(e *Engine) {
		if h != nil {
			e.hook = h
		}
	}
}

// WithNormalizer sets the category normalizer. Default: built-in aliases only.
func WithNormalizer(n *record.Normalizer) Option {
	return func(e *Engine) {
		if n != nil {
			e.normalizer = n
		}
	}
}

// WithWindows overrides the tombstone and suppression windows.
// Zero fields keep their defaults. A purge horizon shorter than the filter
// window is raised to it.
func WithWindows(w Windows) Option {
	return func(e *Engine) {
		if w.TombstoneFilter > 0 {
			e.windows.TombstoneFilter = w.TombstoneFilter
		}
		if w.TombstonePurge > 0 {
			e.windows.TombstonePurge = w.TombstonePurge
		}
		if w.Suppression > 0 {
			e.windows.Suppression = w.Suppression
		}
	}
}

// WithDefaults sets the bundled default records. Their categories are
// normalized and they are shown in any category the user has not customized.
func WithDefaults(defaults []record.Record) Option {
	return func(e *Engine) {
		e.defaults = make(record.State)
		for _, d := range defaults {
			d = d.Clone()
			d.IsCustom = false
			e.defaults[d.Category] = append(e.defaults[d.Category], d)
		}
	}
}

// New creates an Engine for collection backed by strat.
//
// The initial state is the bundled defaults. Call Load (or use Open) to
// hydrate from the strategy.
func New(collection string, strat strategy.Strategy, opts ...Option) *Engine {
	e := &Engine{
		collection:  collection,
		clock:       SystemClock{},
		ids:         record.UUIDv7Generator{},
		hook:        SlogHook{},
		normalizer:  record.NewNormalizer(nil),
		windows:     DefaultWindows(),
		defaults:    make(record.State),
		strategy:    strat,
		tombstones:  newTombstoneCache(),
		suppression: newSuppressionMap(),
		customs:     newCustomizationFlags(),
		queue:       newRequestQueue(),
		observers:   make(map[int]Observer),
	}

	for _, opt := range opts {
		opt(e)
	}
	// Purging a tombstone inside its filter window would unhide the id.
	if e.windows.TombstonePurge < e.windows.TombstoneFilter {
		e.windows.TombstonePurge = e.windows.TombstoneFilter
	}

	// Defaults are normalized once the normalizer option has been applied.
	normalized := make(record.State, len(e.defaults))
	for _, recs := range e.defaults {
		for _, d := range recs {
			d.Category = e.normalizer.Normalize(d.Category)
			if d.Category == "" {
				continue
			}
			normalized[d.Category] = append(normalized[d.Category], d)
		}
	}
	e.defaults = normalized
	e.state = e.defaults.Clone()

	return e
}

// Open creates an Engine and runs the first hydration.
// Returns an error only for invalid arguments or a cancelled context; an
// unreachable strategy leaves the engine showing its defaults.
func Open(ctx context.Context, collection string, strat strategy.Strategy, opts ...Option) (*Engine, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, fmt.Errorf("%w: collection name is required", strategy.ErrInvalidInput)
	}
	if collection == record.MetaCollection {
		return nil, fmt.Errorf("%w: collection %q is reserved", strategy.ErrInvalidInput, collection)
	}

	e := New(collection, strat, opts...)
	if _, err := e.Load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Collection returns the collection name.
func (e *Engine) Collection() string {
	return e.collection
}

// Strategy returns the active strategy.
func (e *Engine) Strategy() strategy.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategy
}

// Snapshot returns a copy of the current state and update counter.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{State: e.state.Clone(), Version: e.version.Current()}
}

// Version returns the monotonic update counter.
func (e *Engine) Version() int64 {
	return e.version.Current()
}

// Customized returns a copy of the customization flags.
func (e *Engine) Customized() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.customs.Snapshot()
}

// Subscribe registers an observer and returns a function that removes it.
func (e *Engine) Subscribe(fn Observer) func() {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	return func() {
		e.obsMu.Lock()
		defer e.obsMu.Unlock()
		delete(e.observers, id)
	}
}

func (e *Engine) notify() {
	e.obsMu.Lock()
	observers := make([]Observer, 0, len(e.observers))
	for i := 0; i < e.nextObs; i++ {
		if fn, ok := e.observers[i]; ok {
			observers = append(observers, fn)
		}
	}
	e.obsMu.Unlock()

	if len(observers) == 0 {
		return
	}
	snap := e.Snapshot()
	for _, fn := range observers {
		fn(Snapshot{State: snap.State.Clone(), Version: snap.Version})
	}
}

// SessionChanged swaps the active strategy and hydrates from it.
//
// Persisted meta records are re-read from the new strategy and merged with
// what is already in memory. Tombstones and suppression entries carry over.
// The previous strategy is not closed.
func (e *Engine) SessionChanged(ctx context.Context, strat strategy.Strategy) (HydrationResult, error) {
	e.mu.Lock()
	e.strategy = strat
	e.generation++
	e.customs.loaded = false
	e.suppression.loaded = false
	e.mu.Unlock()

	e.emit(Event{Kind: EventSessionChanged, Level: slog.LevelInfo, Strategy: strategyName(strat)})
	return e.Hydrate(ctx)
}

// ForgetTombstones drops the in-memory tombstone cache, as a process
// restart would. Suppression entries are kept.
func (e *Engine) ForgetTombstones() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tombstones.Reset()
}

// Enqueue submits a request for processing by the Run loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(r Request) bool {
	return e.queue.Enqueue(r)
}

// Run drains the request queue until the context is cancelled or Stop()
// is called.
//
// Must be called from exactly ONE goroutine. Request failures are logged
// and processing continues.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "collection", e.collection)

	for {
		req, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processRequest(ctx, req); err != nil {
				slog.Error("request failed",
					"kind", req.Kind.String(),
					"reason", req.Reason,
					"error", err,
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()
		case _, open := <-e.queue.Wait():
			// The signal channel closes when the queue is closed;
			// drain what is left before returning.
			if !open && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the request queue, which makes Run return.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) processRequest(ctx context.Context, req Request) error {
	slog.Debug("processing request", "kind", req.Kind.String(), "reason", req.Reason)

	switch req.Kind {
	case RequestRefresh:
		_, err := e.Hydrate(ctx)
		return err
	case RequestSessionChange:
		if req.Strategy == nil {
			return fmt.Errorf("session change request without strategy")
		}
		_, err := e.SessionChanged(ctx, req.Strategy)
		return err
	default:
		return fmt.Errorf("unknown request kind: %d", req.Kind)
	}
}

func (e *Engine) emit(ev Event) {
	if e.hook != nil {
		e.hook.Emit(ev)
	}
}

func strategyName(s strategy.Strategy) string {
	if s == nil {
		return ""
	}
	return s.Name()
}
