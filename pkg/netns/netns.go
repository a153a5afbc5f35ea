// Package netns models a single network namespace's state: its
// netlink client, device inventory, and NAT allocator (spec §4,
// NetworkNamespace), plus a process-wide registry enforcing "at most
// one instance per netns_inode" via weak references.
//
// Grounded on the teacher's pkg/ipam/store.go per-network state
// ownership (one state per named network, file-locked so a second
// load/store can't observe a half-written structure) — here the
// equivalent invariant ("at most one live NetworkNamespace per inode")
// is enforced with a registry mutex and weak.Pointer instead of flock,
// since the resource being shared is in-process, not on disk.
package netns

import (
	"sync"
	"weak"

	"github.com/containerkit/netcore/pkg/addr"
	"github.com/containerkit/netcore/pkg/config"
	"github.com/containerkit/netcore/pkg/device"
	"github.com/containerkit/netcore/pkg/iproute2"
	"github.com/containerkit/netcore/pkg/natpool"
	"github.com/containerkit/netcore/pkg/netlinkclient"
	"github.com/containerkit/netcore/pkg/nerr"
)

// NetworkNamespace is a shared handle bound to one netns inode; it owns
// one NetlinkClient, one device Inventory, and one NAT allocator.
type NetworkNamespace struct {
	mu sync.Mutex

	Inode   uint64
	Managed bool

	netlink  *netlinkclient.Client
	devices  *device.Inventory
	nat      *natpool.Pool
	ifaceSeq uint32
}

// Netlink returns the namespace's netlink client.
func (n *NetworkNamespace) Netlink() *netlinkclient.Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.netlink
}

// Devices returns the namespace's device inventory.
func (n *NetworkNamespace) Devices() *device.Inventory {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.devices
}

// NAT returns the namespace's NAT allocator, or nil if this namespace
// has no NAT pool configured.
func (n *NetworkNamespace) NAT() *natpool.Pool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nat
}

// NextIfaceSeq returns the next monotonic sequence number used to name
// generated veth/L3 peers (spec §4.6 "portove-<container_id>-<sequence>",
// "L3-<sequence>").
func (n *NetworkNamespace) NextIfaceSeq() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ifaceSeq++
	return n.ifaceSeq
}

// Refresh reloads the device cache (spec §4.2 refresh_devices).
func (n *NetworkNamespace) Refresh() error {
	n.mu.Lock()
	inv := n.devices
	n.mu.Unlock()
	return inv.RefreshDevices()
}

// Close releases the namespace's netlink handle. The registry still
// holds a weak reference; a fresh NetworkNamespace is constructed on
// the next Acquire once this one is garbage collected.
func (n *NetworkNamespace) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.netlink != nil {
		n.netlink.Disconnect()
	}
}

// Registry is the process-wide weak-reference table enforcing
// "at most one NetworkNamespace instance per netns_inode" (spec §4
// invariant). Strong references live only with callers; the registry
// itself holds weak.Pointer so an unreferenced namespace can be
// collected and its entry pruned on next lookup.
type Registry struct {
	mu      sync.Mutex
	entries map[uint64]weak.Pointer[NetworkNamespace]
}

// NewRegistry builds an empty namespace registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[uint64]weak.Pointer[NetworkNamespace]{}}
}

// Acquire returns the live NetworkNamespace for inode if one is still
// referenced elsewhere, otherwise constructs and registers a new one
// via build.
func (r *Registry) Acquire(inode uint64, build func() (*NetworkNamespace, error)) (*NetworkNamespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wp, ok := r.entries[inode]; ok {
		if ns := wp.Value(); ns != nil {
			return ns, nil
		}
		delete(r.entries, inode)
	}

	ns, err := build()
	if err != nil {
		return nil, err
	}
	if ns.Inode != inode {
		return nil, nerr.New(nerr.InvalidState, "built namespace inode %d does not match requested %d", ns.Inode, inode)
	}
	r.entries[inode] = weak.Make(ns)
	return ns, nil
}

// Len reports how many entries currently have a live referent, pruning
// dead entries as a side effect.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := 0
	for inode, wp := range r.entries {
		if wp.Value() == nil {
			delete(r.entries, inode)
			continue
		}
		live++
	}
	return live
}

// Snapshot returns the currently live namespaces, pruning dead entries
// as a side effect. Used by pkg/metrics to sample per-namespace device
// and NAT pool occupancy without needing a separate notification path.
func (r *Registry) Snapshot() []*NetworkNamespace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*NetworkNamespace, 0, len(r.entries))
	for inode, wp := range r.entries {
		ns := wp.Value()
		if ns == nil {
			delete(r.entries, inode)
			continue
		}
		out = append(out, ns)
	}
	return out
}

// Build constructs a new NetworkNamespace bound to inode, wiring a
// fresh netlink client, device inventory, and (if natCount > 0 and at
// least one NAT base address is given) a NAT allocator.
func Build(inode uint64, nl *netlinkclient.Client, cfg *config.Config, groups iproute2.Groups, hostNetns bool,
	natBaseV4, natBaseV6 *addr.NetAddr, natCount int) (*NetworkNamespace, error) {

	ns := &NetworkNamespace{
		Inode:   inode,
		Managed: !hostNetns,
		netlink: nl,
		devices: device.New(nl, cfg, groups, hostNetns),
	}

	if natCount > 0 && (natBaseV4 != nil || natBaseV6 != nil) {
		pool, err := natpool.New(natCount, natBaseV4, natBaseV6)
		if err != nil {
			return nil, err
		}
		ns.nat = pool
	}

	return ns, nil
}
