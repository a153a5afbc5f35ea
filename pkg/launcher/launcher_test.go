package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestCloneFlagsAlwaysIncludesSigchld(t *testing.T) {
	flags := cloneFlags(&TaskEnv{})
	assert.EqualValues(t, unix.SIGCHLD, flags)
}

func TestCloneFlagsIsolateAddsPidAndIpcNamespaces(t *testing.T) {
	flags := cloneFlags(&TaskEnv{Isolate: true})
	assert.NotZero(t, flags&unix.CLONE_NEWPID)
	assert.NotZero(t, flags&unix.CLONE_NEWIPC)
	assert.NotZero(t, flags&unix.CLONE_NEWUTS, "isolate forces a new uts namespace too")
}

func TestCloneFlagsNewMountNsAddsNewns(t *testing.T) {
	flags := cloneFlags(&TaskEnv{NewMountNS: true})
	assert.NotZero(t, flags&unix.CLONE_NEWNS)
	assert.Zero(t, flags&unix.CLONE_NEWPID)
}

func TestCloneFlagsNewUtsNsWithoutIsolate(t *testing.T) {
	flags := cloneFlags(&TaskEnv{NewUTSNS: true})
	assert.NotZero(t, flags&unix.CLONE_NEWUTS)
	assert.Zero(t, flags&unix.CLONE_NEWPID)
}

func TestJoinNULEmptyList(t *testing.T) {
	assert.Equal(t, "", joinNUL(nil))
}

func TestJoinNULSingleElement(t *testing.T) {
	assert.Equal(t, "echo", joinNUL([]string{"echo"}))
}

func TestJoinNULMultipleElementsSeparatedByNul(t *testing.T) {
	assert.Equal(t, "echo\x00hello\x00world", joinNUL([]string{"echo", "hello", "world"}))
}

func TestEncodeNsFdsBuildsMappingStartingAtIndexOne(t *testing.T) {
	mapping, files := encodeNsFds(map[string]int{"net": 10})
	assert.Equal(t, "CONTAINERKIT_NSFDS=net=1", mapping)
	assert.Len(t, files, 1)
}

func TestEncodeNsFdsEmptyMapProducesNoFiles(t *testing.T) {
	mapping, files := encodeNsFds(nil)
	assert.Equal(t, "CONTAINERKIT_NSFDS=", mapping)
	assert.Empty(t, files)
}

func TestEncodeTaskEnvIncludesHostnameAndCommand(t *testing.T) {
	env := &TaskEnv{Hostname: "box", Command: []string{"/bin/sh", "-c", "true"}}
	encoded := encodeTaskEnv(env)
	assert.Contains(t, encoded, "CONTAINERKIT_HOSTNAME=box")
	assert.Contains(t, encoded, "CONTAINERKIT_COMMAND=/bin/sh\x00-c\x00true")
}
