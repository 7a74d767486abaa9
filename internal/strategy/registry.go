package strategy

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Factory builds a strategy from a DSN whose scheme it was registered for.
type Factory func(dsn string) (Strategy, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// Register binds a DSN scheme to a factory. Later registrations win.
func Register(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.factories[scheme]
	return factory, ok
}

// Open builds a strategy from dsn using the registered factory for its scheme.
// An empty dsn yields (nil, nil) so optional backends can be left unset.
func Open(dsn string) (Strategy, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemory(), nil
	case "":
		return nil, fmt.Errorf("%w: dsn %q has no scheme", ErrInvalidInput, dsn)
	default:
		return nil, fmt.Errorf("%w: strategy scheme %s", ErrNotSupported, scheme)
	}
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
