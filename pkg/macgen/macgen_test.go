package macgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerkit/netcore/pkg/nerr"
)

func TestGenerateMACIsDeterministic(t *testing.T) {
	a := GenerateMAC("eth0", "host1")
	b := GenerateMAC("eth0", "host1")
	assert.Equal(t, a, b)
}

func TestGenerateMACVariesWithNameAndHostname(t *testing.T) {
	base := GenerateMAC("eth0", "host1")
	assert.NotEqual(t, base, GenerateMAC("eth1", "host1"))
	assert.NotEqual(t, base, GenerateMAC("eth0", "host2"))
}

func TestGenerateMACIsLocallyAdministered(t *testing.T) {
	mac := GenerateMAC("eth0", "host1")
	assert.Equal(t, "02:", mac[:3])
}

func TestNewDeviceNameReturnsFirstFreeCandidate(t *testing.T) {
	taken := map[string]bool{"veth0": true, "veth1": true}
	exists := func(name string) bool { return taken[name] }

	name, err := NewDeviceName("veth", 0, 10, exists)
	require.NoError(t, err)
	assert.Equal(t, "veth2", name)
}

func TestNewDeviceNameExhaustsRetriesReturnsResourceNotAvailable(t *testing.T) {
	exists := func(name string) bool { return true }

	_, err := NewDeviceName("veth", 0, 5, exists)
	assert.Error(t, err)
	assert.Equal(t, nerr.ResourceNotAvailable, nerr.KindOf(err))
}

func TestNewDeviceNameNeverReturnsATakenName(t *testing.T) {
	taken := map[string]bool{"veth0": true}
	exists := func(name string) bool { return taken[name] }

	name, err := NewDeviceName("veth", 0, 2, exists)
	require.NoError(t, err)
	assert.False(t, taken[name])
}
