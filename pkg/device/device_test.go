package device

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/containerkit/netcore/pkg/config"
)

func TestIsReservedMatchesBothPrefixes(t *testing.T) {
	assert.True(t, isReserved("portove-7-0"))
	assert.True(t, isReserved("L3-3"))
	assert.False(t, isReserved("eth0"))
}

func TestInventoryClassifyContainerNetnsAlwaysManaged(t *testing.T) {
	inv := &Inventory{hostNetns: false}
	assert.True(t, inv.classify("eth0", 0))
	assert.True(t, inv.classify("anything", 99))
}

func TestInventoryClassifyHostNetnsDefaultsToManaged(t *testing.T) {
	inv := &Inventory{hostNetns: true}
	assert.True(t, inv.classify("eth0", 0))
}

func TestInventoryClassifyHostNetnsUnmanagedByGroup(t *testing.T) {
	inv := &Inventory{hostNetns: true, cfg: &config.Config{UnmanagedGroups: []int{7}}}
	assert.False(t, inv.classify("eth0", 7))
	assert.True(t, inv.classify("eth0", 8))
}

func TestInventoryClassifyHostNetnsUnmanagedByPattern(t *testing.T) {
	inv := &Inventory{hostNetns: true, cfg: &config.Config{UnmanagedPatterns: []string{"docker*"}}}
	assert.False(t, inv.classify("docker0", 0))
	assert.True(t, inv.classify("eth0", 0))
}
