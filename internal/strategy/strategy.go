package strategy

import (
	"context"

	"github.com/roach88/flocksync/internal/record"
)

// Strategy is the persistence contract for named collections.
//
// List returns ErrUnavailable when the backend cannot be reached and a
// non-nil empty slice when the collection is genuinely empty.
// Save assigns an id when rec.ID is empty and returns the persisted record.
// Delete is idempotent: deleting an unknown id succeeds.
type Strategy interface {
	Name() string
	List(ctx context.Context, collection string) ([]record.Record, error)
	Save(ctx context.Context, collection string, rec record.Record) (record.Record, error)
	Delete(ctx context.Context, collection, id string) (bool, error)
}

// Updater is the optional partial-update capability.
// Update returns ErrNotFound when id is unknown to the backend.
type Updater interface {
	Update(ctx context.Context, collection, id string, patch record.Patch) (bool, error)
}

// Clearer is the optional capability to drop a whole collection.
type Clearer interface {
	Clear(ctx context.Context, collection string) (bool, error)
}

// Close releases the strategy's resources when it holds any.
func Close(s Strategy) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
