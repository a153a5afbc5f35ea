// Package natpool implements the NAT address pool (spec §4.4) and
// gateway discovery (spec §4.5).
//
// Grounded on the teacher's pkg/ipam.Allocator interface shape
// (Allocate/Release pair with a matching Get/Put counterpart) composed
// with pkg/addr and pkg/bitmap; gateway discovery is new domain logic
// with no direct teacher analogue, using the same net.IP scanning idiom
// the teacher's config.go uses for subnet/broadcast computation.
package natpool

import (
	"github.com/containerkit/netcore/pkg/addr"
	"github.com/containerkit/netcore/pkg/bitmap"
	"github.com/containerkit/netcore/pkg/nerr"
)

// Pool hands out NAT addresses from configured v4/v6 bases over a
// shared bitmap of nat_count slots.
type Pool struct {
	bitmap  *bitmap.Allocator
	baseV4  *addr.NetAddr
	baseV6  *addr.NetAddr
}

// New constructs a pool. baseV4/baseV6 may be nil if that family is not
// configured, but at least one must be set.
func New(count int, baseV4, baseV6 *addr.NetAddr) (*Pool, error) {
	if baseV4 == nil && baseV6 == nil {
		return nil, nerr.New(nerr.InvalidValue, "nat pool requires at least one of nat_first_ipv4/nat_first_ipv6")
	}
	return &Pool{bitmap: bitmap.New(count), baseV4: baseV4, baseV6: baseV6}, nil
}

// Addrs is the set of addresses returned by one NAT allocation.
type Addrs struct {
	V4 *addr.NetAddr
	V6 *addr.NetAddr
}

// Get allocates the lowest free slot and returns the corresponding
// address(es).
func (p *Pool) Get() (Addrs, error) {
	slot, err := p.bitmap.Get()
	if err != nil {
		return Addrs{}, err
	}
	return p.addrsForSlot(slot), nil
}

// Put releases the slot matching the given addresses' offset from the
// configured base of the matching family.
func (p *Pool) Put(a Addrs) error {
	var slot = -1
	if a.V4 != nil && p.baseV4 != nil {
		slot = int(a.V4.OffsetFrom(*p.baseV4))
	} else if a.V6 != nil && p.baseV6 != nil {
		slot = int(a.V6.OffsetFrom(*p.baseV6))
	}
	if slot < 0 {
		return nerr.New(nerr.InvalidValue, "addrs do not match any configured NAT base")
	}
	return p.bitmap.Put(slot)
}

// InUse returns the number of currently-allocated NAT slots, for metrics.
func (p *Pool) InUse() int { return p.bitmap.Used() }

// Capacity returns the pool's configured nat_count.
func (p *Pool) Capacity() int { return p.bitmap.Size() }

func (p *Pool) addrsForSlot(slot int) Addrs {
	var out Addrs
	if p.baseV4 != nil {
		a := p.baseV4.Add(uint64(slot))
		out.V4 = &a
	}
	if p.baseV6 != nil {
		a := p.baseV6.Add(uint64(slot))
		out.V6 = &a
	}
	return out
}
