// Package bitmap implements a fixed-size free/used bitmap allocator used
// for NAT address slot allocation (spec §4.4).
//
// Grounded on the teacher's pkg/ipam/allocator.go findNextIP scan
// (lowest-free-slot-first semantics), lifted out of the file-backed
// IPAM state into a pure in-memory structure.
package bitmap

import (
	"sync"

	"github.com/containerkit/netcore/pkg/nerr"
)

// Allocator is a fixed-size [0, size) free/used bitmap.
type Allocator struct {
	mu   sync.Mutex
	used []bool
	size int
}

// New returns an allocator over [0, size).
func New(size int) *Allocator {
	return &Allocator{used: make([]bool, size), size: size}
}

// Get returns the lowest free slot, marking it used.
func (a *Allocator) Get() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < a.size; i++ {
		if !a.used[i] {
			a.used[i] = true
			return i, nil
		}
	}
	return -1, nerr.New(nerr.ResourceNotAvailable, "no free slots in bitmap of size %d", a.size)
}

// Put releases a previously-allocated slot. Releasing an already-free
// slot is a no-op that returns nil; an out-of-range slot returns an
// InvalidValue error. Neither case panics.
func (a *Allocator) Put(slot int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot < 0 || slot >= a.size {
		return nerr.New(nerr.InvalidValue, "slot %d out of range [0,%d)", slot, a.size)
	}
	a.used[slot] = false
	return nil
}

// InUse reports whether a slot is currently allocated.
func (a *Allocator) InUse(slot int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot < 0 || slot >= a.size {
		return false
	}
	return a.used[slot]
}

// Size returns the bitmap's fixed capacity.
func (a *Allocator) Size() int { return a.size }

// Used returns the number of currently-allocated slots.
func (a *Allocator) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, u := range a.used {
		if u {
			n++
		}
	}
	return n
}
