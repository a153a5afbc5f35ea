package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerkit/netcore/pkg/nerr"
)

func TestGetReturnsLowestFreeSlotFirst(t *testing.T) {
	a := New(3)
	for want := 0; want < 3; want++ {
		got, err := a.Get()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestGetExhaustsThenFailsResourceNotAvailable(t *testing.T) {
	a := New(3)
	for i := 0; i < 3; i++ {
		_, err := a.Get()
		require.NoError(t, err)
	}
	_, err := a.Get()
	require.Error(t, err)
	assert.Equal(t, nerr.ResourceNotAvailable, nerr.KindOf(err))
}

func TestPutFreesSlotForReuse(t *testing.T) {
	a := New(2)
	first, err := a.Get()
	require.NoError(t, err)
	_, err = a.Get()
	require.NoError(t, err)

	require.NoError(t, a.Put(first))
	reused, err := a.Get()
	require.NoError(t, err)
	assert.Equal(t, first, reused)
}

func TestPutOutOfRangeIsAnErrorNotPanic(t *testing.T) {
	a := New(2)
	assert.Error(t, a.Put(-1))
	assert.Error(t, a.Put(2))
}

func TestInUseAndUsedTrackAllocations(t *testing.T) {
	a := New(2)
	slot, err := a.Get()
	require.NoError(t, err)

	assert.True(t, a.InUse(slot))
	assert.Equal(t, 1, a.Used())

	require.NoError(t, a.Put(slot))
	assert.False(t, a.InUse(slot))
	assert.Equal(t, 0, a.Used())
}

func TestInUseOutOfRangeIsFalse(t *testing.T) {
	a := New(2)
	assert.False(t, a.InUse(-1))
	assert.False(t, a.InUse(2))
}

func TestSizeReportsFixedCapacity(t *testing.T) {
	a := New(7)
	assert.Equal(t, 7, a.Size())
}
