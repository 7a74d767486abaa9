package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_EmptyDSN(t *testing.T) {
	s, err := Open("  ")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestOpen_MemoryScheme(t *testing.T) {
	for _, dsn := range []string{"memory://", "MEM://", "inmem://local"} {
		s, err := Open(dsn)
		require.NoError(t, err, dsn)
		assert.Equal(t, "memory", s.Name())
	}
}

func TestOpen_UnknownScheme(t *testing.T) {
	_, err := Open("carrier-pigeon://coop")
	assert.ErrorIs(t, err, ErrNotSupported)

	_, err = Open("just-a-path")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegister_OverridesBuiltin(t *testing.T) {
	custom := NewMemory()
	Register(" Test-Scheme ", func(dsn string) (Strategy, error) { return custom, nil })

	s, err := Open("test-scheme://x")
	require.NoError(t, err)
	assert.Same(t, custom, s)
}

func TestRegister_IgnoresInvalid(t *testing.T) {
	Register("", func(string) (Strategy, error) { return nil, nil })
	Register("nil-factory", nil)

	_, ok := lookupFactory("")
	assert.False(t, ok)
	_, ok = lookupFactory("nil-factory")
	assert.False(t, ok)
}
