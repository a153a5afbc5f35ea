package nshandle

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNsTypeMapsEveryKindToItsCloneFlag(t *testing.T) {
	cases := map[Kind]int{
		Net: unix.CLONE_NEWNET,
		IPC: unix.CLONE_NEWIPC,
		UTS: unix.CLONE_NEWUTS,
		PID: unix.CLONE_NEWPID,
		Mnt: unix.CLONE_NEWNS,
	}
	for kind, want := range cases {
		assert.Equal(t, want, nsType(kind), "kind %s", kind)
	}
}

func TestNsTypeUnknownKindIsZero(t *testing.T) {
	assert.Equal(t, 0, nsType(Kind("bogus")))
}

func TestFromFDWrapsDescriptorWithoutOpeningAPath(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	h := FromFD(Net, int(r.Fd()))
	defer h.Close()

	assert.Equal(t, int(r.Fd()), h.Fd())
	assert.Equal(t, Net, h.kind)
}

func TestInodeReadsRealFstat(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	h := FromFD(IPC, int(r.Fd()))
	defer h.Close()

	ino, err := h.Inode()
	require.NoError(t, err)
	assert.NotZero(t, ino)
}

func TestCloseIsIdempotent(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	h := FromFD(Net, int(r.Fd()))
	require.NoError(t, h.Close())
	assert.NoError(t, h.Close())
}
