package childinit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerkit/netcore/pkg/nerr"
)

func TestApplySysctlRejectsMissingEquals(t *testing.T) {
	err := applySysctl("net.ipv4.ip_forward")
	require.Error(t, err)
}

func TestApplySysctlTranslatesDotsToSlashes(t *testing.T) {
	// applySysctl builds the /proc/sys path but we can't actually write
	// it without root/a real mount namespace; just check it gets past
	// the key=value split and attempts the write (returning the stat
	// error from the nonexistent sysctl rather than a parse error).
	err := applySysctl("net.ipv4.conf.does-not-exist.forwarding=1")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "invalid sysctl entry")
}

func TestErrnoOfExtractsWrappedErrno(t *testing.T) {
	wrapped := nerr.Wrap(nerr.Permission, 17, errors.New("denied"), "setuid")
	assert.EqualValues(t, 17, errnoOf(wrapped))
}

func TestErrnoOfReturnsZeroForPlainError(t *testing.T) {
	assert.EqualValues(t, 0, errnoOf(errors.New("plain")))
}
