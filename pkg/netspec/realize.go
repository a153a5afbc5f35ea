package netspec

import (
	"net"

	"github.com/vishvananda/netlink"

	"github.com/containerkit/netcore/pkg/addr"
	"github.com/containerkit/netcore/pkg/macgen"
	"github.com/containerkit/netcore/pkg/natpool"
	"github.com/containerkit/netcore/pkg/netlinkclient"
	"github.com/containerkit/netcore/pkg/nerr"
)

// Context carries everything Materialize needs to realise a Spec
// against one container's network namespace.
type Context struct {
	Host      *netlinkclient.Client // parent (host-side) netlink client
	Container *netlinkclient.Client // container-side netlink client
	ContainerNsFd int
	ContainerID   string // used in the "portove-<container_id>-<sequence>" host-side veth name
	Hostname      string // fed to macgen.GenerateMAC

	NextSeq     func() uint32
	HostExists  macgen.Exists // device-name collision check in the parent netns
	NAT         *natpool.Pool
	Addresses   map[string][]addr.NetAddr // declared link name -> addresses to assign
	Locals      []natpool.LocalAddr        // parent-netns candidates for gateway discovery

	// HostIfindex records, per declared container-side link name, the
	// ifindex of its host-side veth peer (populated by realizeVeth and
	// realizeL3) so assignGateways knows where to install proxy-neighbour
	// entries in the parent netns.
	HostIfindex map[string]int
}

// Materialize realises a parsed Spec in realisation order: steal →
// ipvlan → macvlan → veth → L3/NAT → loopback up → assign IPs →
// gateways (spec §4.6). Callers are expected to have already run
// DeviceInventory.RefreshDevices in the container netns once all links
// have landed there, per the spec's "(refresh)" step — Materialize
// does not refresh the inventory itself since it has no Inventory
// reference here.
func Materialize(spec *Spec, ctx *Context) error {
	switch spec.Mode {
	case ModeNone, ModeInherited, ModeContainer, ModeNetns:
		return nil // no links to create; container/netns resolution happens at NetworkNamespace construction
	}

	for _, l := range spec.Links {
		if l.Kind != KindSteal {
			continue
		}
		if err := realizeSteal(ctx, l); err != nil {
			return err
		}
	}
	for _, l := range spec.Links {
		if l.Kind != KindIPvlan {
			continue
		}
		if err := realizeIPvlan(ctx, l); err != nil {
			return err
		}
	}
	for _, l := range spec.Links {
		if l.Kind != KindMacvlan {
			continue
		}
		if err := realizeMacvlan(ctx, l); err != nil {
			return err
		}
	}
	for _, l := range spec.Links {
		if l.Kind != KindVeth {
			continue
		}
		if err := realizeVeth(ctx, l); err != nil {
			return err
		}
	}
	for _, l := range spec.Links {
		if l.Kind != KindL3 {
			continue
		}
		if err := realizeL3(ctx, l); err != nil {
			return err
		}
	}

	if err := realizeNAT(ctx, spec); err != nil {
		return err
	}

	if err := bringUpLoopback(ctx); err != nil {
		return err
	}

	if err := assignAddresses(ctx, spec); err != nil {
		return err
	}

	return assignGateways(ctx, spec)
}

func realizeSteal(ctx *Context, l *LinkSpec) error {
	if err := ctx.Host.ChangeNs(l.Name, ctx.ContainerNsFd); err != nil {
		return err
	}
	return finishContainerLink(ctx, l)
}

func realizeIPvlan(ctx *Context, l *LinkSpec) error {
	mode := netlink.IPVLAN_MODE_L2
	if l.Type == "l3" {
		mode = netlink.IPVLAN_MODE_L3
	}
	tmpName, err := reserveHostName(ctx, "piv")
	if err != nil {
		return err
	}
	if err := ctx.Host.AddIPvlan(l.Master, tmpName, mode, l.MTU); err != nil {
		return err
	}
	return moveAndFinish(ctx, tmpName, l)
}

func realizeMacvlan(ctx *Context, l *LinkSpec) error {
	mode := netlink.MACVLAN_MODE_BRIDGE
	switch l.Type {
	case "private":
		mode = netlink.MACVLAN_MODE_PRIVATE
	case "vepa":
		mode = netlink.MACVLAN_MODE_VEPA
	case "passthru":
		mode = netlink.MACVLAN_MODE_PASSTHRU
	}
	tmpName, err := reserveHostName(ctx, "pmv")
	if err != nil {
		return err
	}
	hw, err := hwAddrFor(l, l.Name, ctx.Hostname)
	if err != nil {
		return err
	}
	if err := ctx.Host.AddMacvlan(l.Master, tmpName, mode, hw, l.MTU); err != nil {
		return err
	}
	return moveAndFinish(ctx, tmpName, l)
}

func realizeVeth(ctx *Context, l *LinkSpec) error {
	seq := ctx.NextSeq()
	hostName, err := macgen.NewDeviceName("portove-"+ctx.ContainerID+"-", int(seq), 16, ctx.HostExists)
	if err != nil {
		return err
	}
	hw, err := hwAddrFor(l, l.Name, ctx.Hostname)
	if err != nil {
		return err
	}
	if err := ctx.Host.AddVeth(hostName, l.Name, hw, l.MTU, ctx.ContainerNsFd); err != nil {
		return err
	}
	if l.Master != "" {
		hostLink, err := ctx.Host.LinkByName(hostName)
		if err != nil {
			return err
		}
		if err := attachToBridge(ctx, hostLink, l.Master); err != nil {
			return err
		}
	}
	hostLink, err := ctx.Host.LinkByName(hostName)
	if err != nil {
		return err
	}
	if err := ctx.Host.Up(hostLink); err != nil {
		return err
	}
	recordHostIfindex(ctx, l.Name, hostLink)
	return finishContainerLink(ctx, l)
}

func realizeL3(ctx *Context, l *LinkSpec) error {
	seq := ctx.NextSeq()
	hostName, err := macgen.NewDeviceName("L3-", int(seq), 16, ctx.HostExists)
	if err != nil {
		return err
	}
	name := l.Name
	if name == "" {
		name = "eth0"
	}
	hw, err := hwAddrFor(l, name, ctx.Hostname)
	if err != nil {
		return err
	}
	if err := ctx.Host.AddVeth(hostName, name, hw, l.MTU, ctx.ContainerNsFd); err != nil {
		return err
	}
	l.Name = name
	hostLink, err := ctx.Host.LinkByName(hostName)
	if err != nil {
		return err
	}
	if err := ctx.Host.Up(hostLink); err != nil {
		return err
	}
	recordHostIfindex(ctx, l.Name, hostLink)
	return finishContainerLink(ctx, l)
}

// realizeNAT implements the NAT half of the "L3/NAT" realisation step
// (spec §4.4/§4.6): every NAT-flagged link gets the lowest free slot
// from the namespace's NAT pool, and the resulting address(es) are
// folded into ctx.Addresses for assignAddresses/assignGateways to pick
// up like any other declared address.
func realizeNAT(ctx *Context, spec *Spec) error {
	for _, l := range spec.Links {
		if !l.NAT {
			continue
		}
		if ctx.NAT == nil {
			return nerr.New(nerr.InvalidState, "NAT directive on %q but no NAT pool is configured", l.Name)
		}
		nat, err := ctx.NAT.Get()
		if err != nil {
			return err
		}
		if ctx.Addresses == nil {
			ctx.Addresses = map[string][]addr.NetAddr{}
		}
		if nat.V4 != nil {
			ctx.Addresses[l.Name] = append(ctx.Addresses[l.Name], *nat.V4)
		}
		if nat.V6 != nil {
			ctx.Addresses[l.Name] = append(ctx.Addresses[l.Name], *nat.V6)
		}
	}
	return nil
}

func attachToBridge(ctx *Context, hostLink netlink.Link, bridge string) error {
	bridgeLink, err := ctx.Host.LinkByName(bridge)
	if err != nil {
		return err
	}
	if _, ok := bridgeLink.(*netlink.Bridge); !ok {
		return nerr.New(nerr.InvalidState, "%s is not a bridge", bridge)
	}
	return ctx.Host.SetMaster(hostLink, bridgeLink)
}

func recordHostIfindex(ctx *Context, containerLinkName string, hostLink netlink.Link) {
	if ctx.HostIfindex == nil {
		ctx.HostIfindex = map[string]int{}
	}
	ctx.HostIfindex[containerLinkName] = hostLink.Attrs().Index
}

// moveAndFinish moves a link created under a temporary host-side name
// into the container namespace, renames it to its declared name, and
// brings it up.
func moveAndFinish(ctx *Context, tmpName string, l *LinkSpec) error {
	if err := ctx.Host.ChangeNs(tmpName, ctx.ContainerNsFd); err != nil {
		return err
	}
	link, err := ctx.Container.LinkByName(tmpName)
	if err != nil {
		return err
	}
	if l.Name != "" && l.Name != tmpName {
		if err := ctx.Container.SetName(link, l.Name); err != nil {
			return err
		}
		link, err = ctx.Container.LinkByName(l.Name)
		if err != nil {
			return err
		}
	} else {
		l.Name = tmpName
	}
	return ctx.Container.Up(link)
}

// finishContainerLink brings an already-correctly-named link up inside
// the container namespace (used for steal/veth/L3, which never need a
// post-move rename).
func finishContainerLink(ctx *Context, l *LinkSpec) error {
	link, err := ctx.Container.LinkByName(l.Name)
	if err != nil {
		return err
	}
	return ctx.Container.Up(link)
}

func reserveHostName(ctx *Context, prefix string) (string, error) {
	seq := ctx.NextSeq()
	return macgen.NewDeviceName(prefix, int(seq), 16, ctx.HostExists)
}

func hwAddrFor(l *LinkSpec, name, hostname string) (net.HardwareAddr, error) {
	if l.HW != "" {
		return net.ParseMAC(l.HW)
	}
	if hostname == "" {
		return nil, nil
	}
	return net.ParseMAC(macgen.GenerateMAC(name, hostname))
}

func bringUpLoopback(ctx *Context) error {
	lo, err := ctx.Container.LinkByName("lo")
	if err != nil {
		return err
	}
	return ctx.Container.Up(lo)
}

func assignAddresses(ctx *Context, spec *Spec) error {
	for name, addrs := range ctx.Addresses {
		l := spec.linkByName(name)
		if l == nil {
			continue
		}
		link, err := ctx.Container.LinkByName(name)
		if err != nil {
			return err
		}
		for _, a := range addrs {
			prefixLen := a.PrefixLen
			if l.Kind == KindL3 && !a.IsHostAddress() {
				return nerr.New(nerr.InvalidValue, "L3 link %q requires host addresses, got %s", name, a.String())
			}
			if err := ctx.Container.SetIP(link, a.IP(), prefixLen); err != nil {
				return err
			}
		}
	}
	return nil
}

func assignGateways(ctx *Context, spec *Spec) error {
	for name, addrs := range ctx.Addresses {
		l := spec.linkByName(name)
		if l == nil || l.Kind != KindL3 {
			continue
		}
		link, err := ctx.Container.LinkByName(name)
		if err != nil {
			return err
		}
		result := natpool.GateAddress(addrs, ctx.Locals)
		for _, gw := range []*addr.NetAddr{result.Gate4, result.Gate6} {
			if gw == nil {
				continue
			}
			if err := ctx.Container.AddDirectRoute(link, gw.IP()); err != nil {
				return err
			}
			if err := ctx.Container.SetDefaultGw(link, gw.IP()); err != nil {
				return err
			}
			if hostIdx, ok := ctx.HostIfindex[name]; ok {
				if err := ctx.Host.ProxyNeighbour(hostIdx, gw.IP(), true); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
