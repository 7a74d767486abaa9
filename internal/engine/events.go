package engine

import (
	"context"
	"log/slog"
	"sync"
)

// EventKind names a structured engine event.
type EventKind string

const (
	EventHydrateApplied     EventKind = "hydrate_applied"
	EventHydrateEmpty       EventKind = "hydrate_empty"
	EventHydrateNoData      EventKind = "hydrate_no_data"
	EventHydrateDiscarded   EventKind = "hydrate_discarded"
	EventRecordsFiltered    EventKind = "records_filtered"
	EventTombstonesPurged   EventKind = "tombstones_purged"
	EventSuppressionExpired EventKind = "suppression_expired"
	EventRecordTombstoned   EventKind = "record_tombstoned"
	EventMetaPersisted      EventKind = "meta_persisted"
	EventMetaFailed         EventKind = "meta_failed"
	EventDefaultsAdopted    EventKind = "defaults_adopted"
	EventMutationApplied    EventKind = "mutation_applied"
	EventMutationFailed     EventKind = "mutation_failed"
	EventSessionChanged     EventKind = "session_changed"
)

// Event is one structured, leveled engine event.
// Fields that do not apply to a kind are left zero.
type Event struct {
	Kind     EventKind
	Level    slog.Level
	Op       string
	Strategy string
	Category string
	RecordID string
	Outcome  Outcome
	Count    int
	Version  int64
	Err      error
}

// Hook receives engine events. Emit is called synchronously and must not
// call back into the engine.
type Hook interface {
	Emit(Event)
}

// HookFunc adapts a function to Hook.
type HookFunc func(Event)

func (f HookFunc) Emit(ev Event) { f(ev) }

// MultiHook fans events out to several hooks in order.
type MultiHook []Hook

func (m MultiHook) Emit(ev Event) {
	for _, h := range m {
		if h != nil {
			h.Emit(ev)
		}
	}
}

// SlogHook writes events to a slog.Logger at the event's level.
type SlogHook struct {
	Logger *slog.Logger
}

func (h SlogHook) Emit(ev Event) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{slog.String("kind", string(ev.Kind))}
	if ev.Op != "" {
		attrs = append(attrs, slog.String("op", ev.Op))
	}
	if ev.Strategy != "" {
		attrs = append(attrs, slog.String("strategy", ev.Strategy))
	}
	if ev.Category != "" {
		attrs = append(attrs, slog.String("category", ev.Category))
	}
	if ev.RecordID != "" {
		attrs = append(attrs, slog.String("record_id", ev.RecordID))
	}
	if ev.Outcome != 0 {
		attrs = append(attrs, slog.String("outcome", ev.Outcome.String()))
	}
	if ev.Count != 0 {
		attrs = append(attrs, slog.Int("count", ev.Count))
	}
	if ev.Version != 0 {
		attrs = append(attrs, slog.Int64("version", ev.Version))
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
	}
	logger.LogAttrs(context.Background(), ev.Level, "sync event", attrs...)
}

// EventRecorder keeps every event in memory so tests can assert on them.
//
// Thread-safety: All methods are safe for concurrent use.
type EventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *EventRecorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events in emission order.
func (r *EventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds in emission order.
func (r *EventRecorder) Kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// OfKind returns the recorded events of one kind.
func (r *EventRecorder) OfKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
