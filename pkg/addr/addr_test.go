package addr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddOffsetFromRoundTrips(t *testing.T) {
	base, err := Parse("10.0.0.0/24")
	require.NoError(t, err)

	for _, n := range []uint64{0, 1, 5, 254} {
		got := base.Add(n).OffsetFrom(base)
		assert.EqualValues(t, n, got, "n=%d", n)
	}
}

func TestAddOffsetFromRoundTripsV6(t *testing.T) {
	base, err := Parse("fd00::/64")
	require.NoError(t, err)

	for _, n := range []uint64{0, 1, 1000} {
		got := base.Add(n).OffsetFrom(base)
		assert.EqualValues(t, n, got, "n=%d", n)
	}
}

func TestAddWrapsWithinFamilyWidth(t *testing.T) {
	base, err := Parse("255.255.255.255/32")
	require.NoError(t, err)
	wrapped := base.Add(1)
	assert.Equal(t, "0.0.0.0", wrapped.IP().String())
}

func TestIsHostAddress(t *testing.T) {
	host, err := Parse("10.0.0.1")
	require.NoError(t, err)
	assert.True(t, host.IsHostAddress())

	network, err := Parse("10.0.0.0/24")
	require.NoError(t, err)
	assert.False(t, network.IsHostAddress())
}

func TestAsHostRouteForcesFamilyWidth(t *testing.T) {
	network, err := Parse("10.0.0.0/24")
	require.NoError(t, err)
	hostRoute := network.AsHostRoute()
	assert.Equal(t, 32, hostRoute.PrefixLen)
}

func TestContainsRespectsPrefixAndFamily(t *testing.T) {
	network, err := Parse("10.0.0.0/24")
	require.NoError(t, err)
	inside, err := Parse("10.0.0.42/32")
	require.NoError(t, err)
	outside, err := Parse("10.0.1.42/32")
	require.NoError(t, err)

	assert.True(t, network.Contains(inside))
	assert.False(t, network.Contains(outside))
}

func TestCmpPrefixRequiresSameNetwork(t *testing.T) {
	a, err := Parse("10.0.0.5/24")
	require.NoError(t, err)
	b, err := Parse("10.0.0.200/24")
	require.NoError(t, err)
	c, err := Parse("10.0.1.5/24")
	require.NoError(t, err)

	assert.True(t, a.CmpPrefix(b))
	assert.False(t, a.CmpPrefix(c))
}

func TestParseBareIPTreatedAsHostAddress(t *testing.T) {
	a, err := Parse("192.168.1.1")
	require.NoError(t, err)
	assert.Equal(t, 32, a.PrefixLen)
	assert.Equal(t, V4, a.Family)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-an-address")
	assert.Error(t, err)
}

func TestFromIPRejectsOversizedPrefix(t *testing.T) {
	_, err := FromIP(net.ParseIP("10.0.0.1"), 33)
	assert.Error(t, err)
}
