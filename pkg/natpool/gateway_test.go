package natpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerkit/netcore/pkg/addr"
)

func mustParse(t *testing.T, s string) addr.NetAddr {
	t.Helper()
	a, err := addr.Parse(s)
	require.NoError(t, err)
	return a
}

func TestGateAddressPrefersMostSpecificContainingLocal(t *testing.T) {
	candidate := mustParse(t, "10.0.0.42/32")
	locals := []LocalAddr{
		{Addr: mustParse(t, "10.0.0.0/16"), LinkMTU: 1400},
		{Addr: mustParse(t, "10.0.0.0/24"), LinkMTU: 1500},
	}

	result := GateAddress([]addr.NetAddr{candidate}, locals)
	require.NotNil(t, result.Gate4)
	assert.Equal(t, mustParse(t, "10.0.0.0/24").IP().String(), result.Gate4.IP().String())
	assert.Equal(t, 32, result.Gate4.PrefixLen, "gateway is forced to a host route")
	assert.Equal(t, 1500, result.MTU)
}

func TestGateAddressSkipsHostScopedLocals(t *testing.T) {
	candidate := mustParse(t, "10.0.0.42/32")
	locals := []LocalAddr{
		{Addr: mustParse(t, "10.0.0.0/24"), LinkMTU: 1500, HostScoped: true},
	}

	result := GateAddress([]addr.NetAddr{candidate}, locals)
	assert.Nil(t, result.Gate4)
}

func TestGateAddressFallsBackToAnySameFamilyLocal(t *testing.T) {
	candidate := mustParse(t, "172.16.5.5/32")
	locals := []LocalAddr{
		{Addr: mustParse(t, "10.0.0.0/24"), LinkMTU: 1500},
	}

	result := GateAddress([]addr.NetAddr{candidate}, locals)
	require.NotNil(t, result.Gate4)
	assert.Equal(t, mustParse(t, "10.0.0.0/24").IP().String(), result.Gate4.IP().String())
}

func TestGateAddressMTUIsMinimumAcrossSelectedGateways(t *testing.T) {
	v4 := mustParse(t, "10.0.0.5/32")
	v6 := mustParse(t, "fd00::5/128")
	locals := []LocalAddr{
		{Addr: mustParse(t, "10.0.0.0/24"), LinkMTU: 1500},
		{Addr: mustParse(t, "fd00::/64"), LinkMTU: 1280},
	}

	result := GateAddress([]addr.NetAddr{v4, v6}, locals)
	require.NotNil(t, result.Gate4)
	require.NotNil(t, result.Gate6)
	assert.Equal(t, 1280, result.MTU)
}

func TestGateAddressNoMatchingFamilyLeavesGatewaysNil(t *testing.T) {
	candidate := mustParse(t, "fd00::5/128")
	locals := []LocalAddr{
		{Addr: mustParse(t, "10.0.0.0/24"), LinkMTU: 1500},
	}

	result := GateAddress([]addr.NetAddr{candidate}, locals)
	assert.Nil(t, result.Gate6)
}
