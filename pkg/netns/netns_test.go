package netns

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAcquireReturnsSameInstanceWhileReferenced(t *testing.T) {
	r := NewRegistry()
	builds := 0

	build := func() (*NetworkNamespace, error) {
		builds++
		return &NetworkNamespace{Inode: 42}, nil
	}

	first, err := r.Acquire(42, build)
	require.NoError(t, err)
	second, err := r.Acquire(42, build)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)
	runtime.KeepAlive(first)
	runtime.KeepAlive(second)
}

func TestRegistryAcquireRebuildsAfterCollection(t *testing.T) {
	r := NewRegistry()
	builds := 0
	build := func() (*NetworkNamespace, error) {
		builds++
		return &NetworkNamespace{Inode: 7}, nil
	}

	ns, err := r.Acquire(7, build)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ns.Inode)
	ns = nil

	for i := 0; i < 20 && r.Len() != 0; i++ {
		runtime.GC()
	}

	ns2, err := r.Acquire(7, build)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ns2.Inode)
}

func TestNextIfaceSeqIsMonotonic(t *testing.T) {
	ns := &NetworkNamespace{}
	assert.EqualValues(t, 1, ns.NextIfaceSeq())
	assert.EqualValues(t, 2, ns.NextIfaceSeq())
	assert.EqualValues(t, 3, ns.NextIfaceSeq())
}
