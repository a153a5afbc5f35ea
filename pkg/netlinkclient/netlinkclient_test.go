package netlinkclient

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

func TestClassifyErrMapsKnownErrnos(t *testing.T) {
	cases := []struct {
		errno unix.Errno
		want  ErrClass
	}{
		{unix.ENOENT, ClassNotFound},
		{unix.ESRCH, ClassNotFound},
		{unix.ENODEV, ClassNotFound},
		{unix.EBUSY, ClassBusy},
		{unix.EEXIST, ClassExists},
		{unix.EPERM, ClassPermission},
		{unix.EACCES, ClassPermission},
		{unix.EINVAL, ClassInvalid},
		{unix.EIO, ClassOther},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyErr(c.errno), "errno %v", c.errno)
	}
}

func TestClassifyErrNonErrnoIsOther(t *testing.T) {
	assert.Equal(t, ClassOther, ClassifyErr(assert.AnError))
}

func TestWrapErrNilIsNil(t *testing.T) {
	assert.Nil(t, wrapErr("op", nil))
}

func TestWrapErrCarriesClassAndUnwraps(t *testing.T) {
	err := wrapErr("remove", unix.ENOENT)
	var ne *Error
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, ClassNotFound, ne.Class)
	assert.ErrorIs(t, err, unix.ENOENT)
}

func TestIsNotFoundTrueOnlyForNotFoundClass(t *testing.T) {
	assert.True(t, IsNotFound(wrapErr("op", unix.ENOENT)))
	assert.False(t, IsNotFound(wrapErr("op", unix.EBUSY)))
	assert.False(t, IsNotFound(assert.AnError))
}

func TestIsBusyTrueOnlyForBusyClass(t *testing.T) {
	assert.True(t, IsBusy(wrapErr("op", unix.EBUSY)))
	assert.False(t, IsBusy(wrapErr("op", unix.ENOENT)))
}

func TestLinkStatReadsRequestedCounter(t *testing.T) {
	link := &netlink.Dummy{
		LinkAttrs: netlink.LinkAttrs{
			Statistics: &netlink.LinkStatistics{
				RxBytes: 100, TxBytes: 200, RxPackets: 3, TxPackets: 4, RxDropped: 5, TxDropped: 6,
			},
		},
	}
	c := &Client{}

	got, err := c.LinkStat(link, StatRxBytes)
	assert.NoError(t, err)
	assert.EqualValues(t, 100, got)

	got, err = c.LinkStat(link, StatTxDropped)
	assert.NoError(t, err)
	assert.EqualValues(t, 6, got)
}

func TestLinkStatMissingStatisticsIsError(t *testing.T) {
	link := &netlink.Dummy{}
	c := &Client{}
	_, err := c.LinkStat(link, StatRxBytes)
	assert.Error(t, err)
}

func TestFamilyForPicksV4OrV6(t *testing.T) {
	assert.Equal(t, netlink.FAMILY_V4, familyFor(net.ParseIP("10.0.0.1")))
	assert.Equal(t, netlink.FAMILY_V6, familyFor(net.ParseIP("fd00::1")))
}
