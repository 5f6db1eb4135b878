package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointIsZero(t *testing.T) {
	assert.True(t, Checkpoint{}.IsZero())
	assert.False(t, Checkpoint{LastSequenceID: 1}.IsZero())
}

func TestCheckpointAfter(t *testing.T) {
	a := Checkpoint{LastSequenceID: 5}
	b := Checkpoint{LastSequenceID: 3}

	assert.True(t, a.After(b))
	assert.False(t, b.After(a))
	assert.False(t, a.After(a))
}

func TestMemoryStoreLoadZero(t *testing.T) {
	s := NewMemoryStore()

	cp, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, cp.IsZero())
}

func TestMemoryStoreMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := Checkpoint{LastSequenceID: 10, LastTimestamp: time.Now()}
	require.NoError(t, s.Advance(ctx, first))

	// Stale and duplicate advancement must leave the store unchanged.
	for _, stale := range []int64{10, 9, 1, 0} {
		require.NoError(t, s.Advance(ctx, Checkpoint{LastSequenceID: stale}))

		cp, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(10), cp.LastSequenceID)
	}

	require.NoError(t, s.Advance(ctx, Checkpoint{LastSequenceID: 11}))
	cp, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), cp.LastSequenceID)
}
