package natpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerkit/netcore/pkg/addr"
	"github.com/containerkit/netcore/pkg/nerr"
)

func TestNewRequiresAtLeastOneBase(t *testing.T) {
	_, err := New(4, nil, nil)
	assert.Error(t, err)
}

func TestGetExhaustsPoolThenFreeingOneAllowsAnotherGet(t *testing.T) {
	base, err := addr.Parse("10.0.0.0/24")
	require.NoError(t, err)
	pool, err := New(3, &base, nil)
	require.NoError(t, err)

	var allocated []Addrs
	for i := 0; i < 3; i++ {
		got, err := pool.Get()
		require.NoError(t, err)
		allocated = append(allocated, got)
	}
	assert.Equal(t, 3, pool.InUse())

	_, err = pool.Get()
	require.Error(t, err)
	assert.Equal(t, nerr.ResourceNotAvailable, nerr.KindOf(err))

	require.NoError(t, pool.Put(allocated[1]))
	freed, err := pool.Get()
	require.NoError(t, err)
	assert.Equal(t, allocated[1].V4.String(), freed.V4.String())
}

func TestGetAllocatesFromBothFamiliesOnTheSameSlot(t *testing.T) {
	base4, err := addr.Parse("10.0.0.0/24")
	require.NoError(t, err)
	base6, err := addr.Parse("fd00::/64")
	require.NoError(t, err)
	pool, err := New(4, &base4, &base6)
	require.NoError(t, err)

	got, err := pool.Get()
	require.NoError(t, err)
	require.NotNil(t, got.V4)
	require.NotNil(t, got.V6)
	assert.EqualValues(t, 0, got.V4.OffsetFrom(base4))
	assert.EqualValues(t, 0, got.V6.OffsetFrom(base6))
}

func TestPutRejectsAddrsNotFromAnyConfiguredBase(t *testing.T) {
	base, err := addr.Parse("10.0.0.0/24")
	require.NoError(t, err)
	pool, err := New(2, &base, nil)
	require.NoError(t, err)

	other, err := addr.Parse("192.168.0.5/32")
	require.NoError(t, err)
	err = pool.Put(Addrs{V4: &other})
	assert.Error(t, err)
}

func TestCapacityReportsConfiguredSize(t *testing.T) {
	base, err := addr.Parse("10.0.0.0/24")
	require.NoError(t, err)
	pool, err := New(64, &base, nil)
	require.NoError(t, err)
	assert.Equal(t, 64, pool.Capacity())
}
