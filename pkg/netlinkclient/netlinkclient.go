// Package netlinkclient wraps a route-netlink socket and its caches
// (spec §4.1 NetlinkClient). Every call returns an error classified into
// the kernel-error categories the spec requires (not_found, busy,
// exists, permission, invalid, other), on top of which higher layers
// (pkg/device, pkg/traffic) build retry/idempotency behavior.
//
// Grounded on the teacher's pkg/netops.NetOps interface shape
// (one method per link-level operation), reimplemented over
// github.com/vishvananda/netlink instead of shelling out to ip(1), per
// the cocoon config_linux.go and micro-segment tc_traffic_capture.go
// examples in the retrieval pack.
package netlinkclient

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// ErrClass is the kernel-error category taxonomy from spec §4.1.
type ErrClass int

const (
	ClassOther ErrClass = iota
	ClassNotFound
	ClassBusy
	ClassExists
	ClassPermission
	ClassInvalid
)

// Error wraps a netlink operation failure with its classified kind.
type Error struct {
	Op    string
	Errno int
	Class ErrClass
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("netlink %s: %v (errno %d, class %v)", e.Op, e.Err, e.Errno, e.Class)
}

func (e *Error) Unwrap() error { return e.Err }

// ClassifyErr maps a raw error (usually a unix.Errno from the kernel) to
// the §4.1 category taxonomy.
func ClassifyErr(err error) ErrClass {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return ClassOther
	}
	switch errno {
	case unix.ENOENT, unix.ESRCH, unix.ENODEV:
		return ClassNotFound
	case unix.EBUSY:
		return ClassBusy
	case unix.EEXIST:
		return ClassExists
	case unix.EPERM, unix.EACCES:
		return ClassPermission
	case unix.EINVAL:
		return ClassInvalid
	default:
		return ClassOther
	}
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	errors.As(err, &errno)
	return &Error{Op: op, Errno: int(errno), Class: ClassifyErr(err), Err: err}
}

// IsNotFound reports whether err is a classified not-found error (used
// to swallow ENOENT-equivalents during delete, per spec §7).
func IsNotFound(err error) bool {
	var ne *Error
	return errors.As(err, &ne) && ne.Class == ClassNotFound
}

// IsBusy reports whether err is a classified busy error.
func IsBusy(err error) bool {
	var ne *Error
	return errors.As(err, &ne) && ne.Class == ClassBusy
}

// Client owns a route-netlink handle and translates every operation's
// kernel errors.
type Client struct {
	handle *netlink.Handle
}

// Connect acquires a scoped netlink handle.
func Connect() (*Client, error) {
	h, err := netlink.NewHandle(unix.NETLINK_ROUTE)
	if err != nil {
		return nil, wrapErr("connect", err)
	}
	return &Client{handle: h}, nil
}

// ConnectInNs acquires a handle bound to the given network namespace fd,
// used when a NetworkNamespace owns a non-default netns.
func ConnectInNs(nsFd int) (*Client, error) {
	h, err := netlink.NewHandleAt(netlink.NsHandle(nsFd), unix.NETLINK_ROUTE)
	if err != nil {
		return nil, wrapErr("connect-in-ns", err)
	}
	return &Client{handle: h}, nil
}

// Disconnect releases the handle. Safe to call multiple times.
func (c *Client) Disconnect() {
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}
}

// OpenLinks enumerates links. When all is false, IFF_LOOPBACK links are
// always skipped, and in the host netns links without IFF_RUNNING are
// also skipped (spec §4.1).
func (c *Client) OpenLinks(all bool, hostNetns bool) ([]netlink.Link, error) {
	links, err := c.handle.LinkList()
	if err != nil {
		return nil, wrapErr("open_links", err)
	}
	if all {
		return links, nil
	}
	out := links[:0]
	for _, l := range links {
		attrs := l.Attrs()
		if attrs.Flags&net.FlagLoopback != 0 {
			continue
		}
		if hostNetns && attrs.Flags&net.FlagRunning == 0 {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// LinkByName looks up a single link.
func (c *Client) LinkByName(name string) (netlink.Link, error) {
	l, err := c.handle.LinkByName(name)
	if err != nil {
		return nil, wrapErr("link_by_name", err)
	}
	return l, nil
}

// AddVeth creates a veth pair; if netnsFd is non-zero the peer end is
// created directly inside that namespace.
func (c *Client) AddVeth(name, peer string, hw net.HardwareAddr, mtu int, netnsFd int) error {
	attrs := netlink.NewLinkAttrs()
	attrs.Name = name
	if hw != nil {
		attrs.HardwareAddr = hw
	}
	if mtu > 0 {
		attrs.MTU = mtu
	}
	veth := &netlink.Veth{LinkAttrs: attrs, PeerName: peer}
	if netnsFd != 0 {
		veth.PeerNamespace = netlink.NsFd(netnsFd)
	}
	if err := c.handle.LinkAdd(veth); err != nil {
		return wrapErr("add_veth", err)
	}
	return nil
}

// AddMacvlan creates a macvlan interface over master.
func (c *Client) AddMacvlan(master, name string, mode netlink.MacvlanMode, hw net.HardwareAddr, mtu int) error {
	masterLink, err := c.LinkByName(master)
	if err != nil {
		return err
	}
	attrs := netlink.NewLinkAttrs()
	attrs.Name = name
	attrs.ParentIndex = masterLink.Attrs().Index
	if hw != nil {
		attrs.HardwareAddr = hw
	}
	if mtu > 0 {
		attrs.MTU = mtu
	}
	mv := &netlink.Macvlan{LinkAttrs: attrs, Mode: mode}
	if err := c.handle.LinkAdd(mv); err != nil {
		return wrapErr("add_macvlan", err)
	}
	return nil
}

// AddIPvlan creates an ipvlan interface over master.
func (c *Client) AddIPvlan(master, name string, mode netlink.IPVlanMode, mtu int) error {
	masterLink, err := c.LinkByName(master)
	if err != nil {
		return err
	}
	attrs := netlink.NewLinkAttrs()
	attrs.Name = name
	attrs.ParentIndex = masterLink.Attrs().Index
	if mtu > 0 {
		attrs.MTU = mtu
	}
	iv := &netlink.IPVlan{LinkAttrs: attrs, Mode: mode}
	if err := c.handle.LinkAdd(iv); err != nil {
		return wrapErr("add_ipvlan", err)
	}
	return nil
}

// ChangeNs moves a link into the namespace identified by netnsFd.
func (c *Client) ChangeNs(name string, netnsFd int) error {
	link, err := c.LinkByName(name)
	if err != nil {
		return err
	}
	if err := c.handle.LinkSetNsFd(link, netnsFd); err != nil {
		return wrapErr("change_ns", err)
	}
	return nil
}

// Remove deletes a link.
func (c *Client) Remove(link netlink.Link) error {
	if err := c.handle.LinkDel(link); err != nil {
		return wrapErr("remove", err)
	}
	return nil
}

// SetMaster enslaves link to master (e.g. attaching a veth to a bridge).
func (c *Client) SetMaster(link, master netlink.Link) error {
	if err := c.handle.LinkSetMaster(link, master); err != nil {
		return wrapErr("set_master", err)
	}
	return nil
}

// SetName renames a link. The link must be down for the kernel to
// accept a rename.
func (c *Client) SetName(link netlink.Link, name string) error {
	if err := c.handle.LinkSetName(link, name); err != nil {
		return wrapErr("set_name", err)
	}
	return nil
}

// SetHardwareAddr assigns an explicit MAC address to a link.
func (c *Client) SetHardwareAddr(link netlink.Link, hw net.HardwareAddr) error {
	if err := c.handle.LinkSetHardwareAddr(link, hw); err != nil {
		return wrapErr("set_hardware_addr", err)
	}
	return nil
}

// Up brings a link up.
func (c *Client) Up(link netlink.Link) error {
	if err := c.handle.LinkSetUp(link); err != nil {
		return wrapErr("up", err)
	}
	return nil
}

// SetIP assigns an address to a link.
func (c *Client) SetIP(link netlink.Link, ip net.IP, prefixLen int) error {
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	ipnet := &net.IPNet{IP: ip, Mask: net.CIDRMask(prefixLen, bits)}
	if err := c.handle.AddrAdd(link, &netlink.Addr{IPNet: ipnet}); err != nil {
		return wrapErr("set_ip", err)
	}
	return nil
}

// SetDefaultGw installs a default route via gw on link.
func (c *Client) SetDefaultGw(link netlink.Link, gw net.IP) error {
	dst := &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)}
	if gw.To4() == nil {
		dst = &net.IPNet{IP: net.IPv6zero, Mask: net.CIDRMask(0, 128)}
	}
	route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: dst, Gw: gw}
	if err := c.handle.RouteAdd(route); err != nil {
		return wrapErr("set_default_gw", err)
	}
	return nil
}

// AddDirectRoute adds a host route (no gateway) on link, used for L3
// interfaces (spec §4.6).
func (c *Client) AddDirectRoute(link netlink.Link, ip net.IP) error {
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)},
		Scope:     netlink.SCOPE_LINK,
	}
	if err := c.handle.RouteAdd(route); err != nil {
		return wrapErr("add_direct_route", err)
	}
	return nil
}

// ProxyNeighbour adds or removes a proxy-ARP/ND entry on ifindex for ip
// so the parent netns answers ARP/ND on behalf of the container
// (spec §4.6).
func (c *Client) ProxyNeighbour(ifindex int, ip net.IP, add bool) error {
	n := &netlink.Neigh{
		LinkIndex: ifindex,
		Family:    familyFor(ip),
		Flags:     netlink.NTF_PROXY,
		IP:        ip,
	}
	var err error
	if add {
		err = c.handle.NeighAdd(n)
	} else {
		err = c.handle.NeighDel(n)
	}
	if err != nil {
		if !add && ClassifyErr(err) == ClassNotFound {
			return nil
		}
		return wrapErr("proxy_neighbour", err)
	}
	return nil
}

func familyFor(ip net.IP) int {
	if ip.To4() != nil {
		return netlink.FAMILY_V4
	}
	return netlink.FAMILY_V6
}

// LinkStatKind enumerates the counters §4.1's link_stat exposes.
type LinkStatKind int

const (
	StatRxBytes LinkStatKind = iota
	StatTxBytes
	StatRxPackets
	StatTxPackets
	StatRxDropped
	StatTxDropped
)

// LinkStat reads one counter from a link's kernel statistics.
func (c *Client) LinkStat(link netlink.Link, kind LinkStatKind) (uint64, error) {
	stats := link.Attrs().Statistics
	if stats == nil {
		return 0, wrapErr("link_stat", unix.ENODEV)
	}
	switch kind {
	case StatRxBytes:
		return stats.RxBytes, nil
	case StatTxBytes:
		return stats.TxBytes, nil
	case StatRxPackets:
		return stats.RxPackets, nil
	case StatTxPackets:
		return stats.TxPackets, nil
	case StatRxDropped:
		return stats.RxDropped, nil
	case StatTxDropped:
		return stats.TxDropped, nil
	default:
		return 0, wrapErr("link_stat", unix.EINVAL)
	}
}

// Handle returns the underlying *netlink.Handle for callers (pkg/traffic)
// that need direct access to qdisc/class/filter operations.
func (c *Client) Handle() *netlink.Handle { return c.handle }
