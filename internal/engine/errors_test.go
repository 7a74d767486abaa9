package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/flocksync/internal/strategy"
)

func TestSyncError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SyncError
		want string
	}{
		{
			name: "message only",
			err:  validationError(OpAdd, "category is required"),
			want: "VALIDATION: category is required",
		},
		{
			name: "category and id",
			err:  notFoundError(OpUpdate, "starter", "x", nil),
			want: "NOT_FOUND: record not found (category=starter, id=x)",
		},
		{
			name: "wrapped",
			err:  persistenceError(OpDelete, "starter", "x", errors.New("disk full")),
			want: "PERSISTENCE: delete failed (category=starter, id=x): disk full",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestPersistenceError_Classifies(t *testing.T) {
	notFound := persistenceError(OpDelete, "starter", "x", fmt.Errorf("delete: %w", strategy.ErrNotFound))
	assert.True(t, IsNotFoundError(notFound))
	assert.ErrorIs(t, notFound, strategy.ErrNotFound)

	unavailable := persistenceError(OpAdd, "starter", "x", strategy.ErrUnavailable)
	assert.True(t, IsUnavailableError(unavailable))
	assert.False(t, IsNotFoundError(unavailable))

	other := persistenceError(OpAdd, "starter", "x", errors.New("boom"))
	assert.Equal(t, ErrCodePersistence, other.Code)
}

func TestIsHelpers_Wrapped(t *testing.T) {
	err := fmt.Errorf("cli: %w", validationError(OpAdd, "category is required"))
	assert.True(t, IsValidationError(err))
	assert.False(t, IsNotFoundError(err))
	assert.False(t, IsValidationError(errors.New("plain")))
	assert.True(t, IsUnavailableError(fmt.Errorf("x: %w", strategy.ErrUnavailable)))
}
