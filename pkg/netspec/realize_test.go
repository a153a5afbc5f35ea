package netspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerkit/netcore/pkg/addr"
	"github.com/containerkit/netcore/pkg/natpool"
)

func TestRealizeNATFoldsAllocatedAddressIntoContextAddresses(t *testing.T) {
	base, err := addr.Parse("100.64.0.0/24")
	require.NoError(t, err)
	pool, err := natpool.New(4, &base, nil)
	require.NoError(t, err)

	ctx := &Context{NAT: pool}
	spec := &Spec{Links: []*LinkSpec{{Name: "eth0", Kind: KindL3, NAT: true}}}

	require.NoError(t, realizeNAT(ctx, spec))
	require.Len(t, ctx.Addresses["eth0"], 1)
	assert.EqualValues(t, 0, ctx.Addresses["eth0"][0].OffsetFrom(base))
	assert.Equal(t, 1, pool.InUse(), "NAT directive must actually consume a pool slot")
}

func TestRealizeNATWithoutAPoolConfiguredIsAnError(t *testing.T) {
	ctx := &Context{}
	spec := &Spec{Links: []*LinkSpec{{Name: "eth0", Kind: KindL3, NAT: true}}}

	err := realizeNAT(ctx, spec)
	assert.Error(t, err)
}

func TestRealizeNATSkipsLinksWithoutTheDirective(t *testing.T) {
	ctx := &Context{}
	spec := &Spec{Links: []*LinkSpec{{Name: "eth0", Kind: KindL3}}}

	require.NoError(t, realizeNAT(ctx, spec))
	assert.Empty(t, ctx.Addresses)
}
