package traffic

import (
	"github.com/rs/zerolog/log"
	"github.com/vishvananda/netlink"

	"github.com/containerkit/netcore/pkg/nerr"
	"github.com/containerkit/netcore/pkg/netlinkclient"
)

// Tree installs and mutates the per-device HTB hierarchy.
type Tree struct {
	nl *netlinkclient.Client
}

// New wraps a netlink client in a traffic tree installer.
func New(nl *netlinkclient.Client) *Tree {
	return &Tree{nl: nl}
}

// DeviceLimits are the pattern-matched rates/qdisc settings resolved for
// one device before SetupQueue runs (spec §4.3 steps 1-6).
type DeviceLimits struct {
	DeviceRate       int64
	DefaultRate      int64
	PortoRate        int64
	Quantum          int64
	RBuffer          int64
	CBuffer          int64
	DefaultQdiscKind string
	DefaultQdiscLimit int64
	DefaultQdiscQuantum int64
}

// SetupQueue installs the skeleton HTB hierarchy on one device
// (spec §4.3): root qdisc, cgroup filter, ROOT_CLASS, DEFAULT_CLASS
// (+ leaf qdisc if host netns), PORTO_ROOT_CLASS. All steps are
// idempotent against existing kernel state.
func (t *Tree) SetupQueue(ifindex int, mtu int, hostNetns bool, limits DeviceLimits) error {
	if err := t.ensureRootQdisc(ifindex, mtu); err != nil {
		return err
	}
	if err := t.replaceCgroupFilter(ifindex); err != nil {
		return err
	}

	deviceMax := limits.DeviceRate
	if err := t.ClassAdd(ifindex, RootClass, RootQdisc, deviceMax, deviceMax, deviceMax, 0, mtu,
		limits.Quantum, limits.RBuffer, limits.CBuffer); err != nil {
		return err
	}

	if err := t.ClassAdd(ifindex, DefaultClass, RootClass, limits.DefaultRate, deviceMax, deviceMax, 0, mtu,
		limits.Quantum, limits.RBuffer, limits.CBuffer); err != nil {
		return err
	}

	if hostNetns {
		if err := t.attachLeafQdisc(ifindex, mtu, limits); err != nil {
			return err
		}
	}

	if err := t.ClassAdd(ifindex, PortoRootClass, RootClass, limits.PortoRate, deviceMax, deviceMax, 0, mtu,
		limits.Quantum, limits.RBuffer, limits.CBuffer); err != nil {
		return err
	}

	return nil
}

// QdiscCheck reports whether ifindex's current root qdisc already
// matches the expected HTB skeleton (handle + default class), allowing
// setup_queue to skip a rebuild.
func (t *Tree) QdiscCheck(ifindex int) (bool, error) {
	qdiscs, err := t.nl.Handle().QdiscList(linkStub(ifindex))
	if err != nil {
		return false, wrapTC("qdisc_check", err)
	}
	for _, q := range qdiscs {
		htb, ok := q.(*netlink.Htb)
		if !ok {
			continue
		}
		if q.Attrs().Handle == RootQdisc.Packed() && htb.Defcls == uint32(DefaultClass.Minor) {
			return true, nil
		}
	}
	return false, nil
}

func (t *Tree) ensureRootQdisc(ifindex int, mtu int) error {
	ok, err := t.QdiscCheck(ifindex)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	link := linkStub(ifindex)
	// Delete whatever is there; ENOENT is fine.
	_ = t.nl.Handle().QdiscDel(&netlink.GenericQdisc{
		QdiscAttrs: netlink.QdiscAttrs{LinkIndex: ifindex, Handle: RootQdisc.Packed(), Parent: netlink.HANDLE_ROOT},
		QdiscType:  "htb",
	})

	htb := netlink.NewHtb(netlink.QdiscAttrs{
		LinkIndex: ifindex,
		Handle:    RootQdisc.Packed(),
		Parent:    netlink.HANDLE_ROOT,
	})
	htb.Defcls = uint32(DefaultClass.Minor)
	htb.Rate2Quantum = 10

	if err := t.nl.Handle().QdiscAdd(htb); err != nil {
		return wrapTC("qdisc_add(root htb)", err)
	}
	_ = link
	return nil
}

func (t *Tree) replaceCgroupFilter(ifindex int) error {
	_ = t.nl.Handle().FilterDel(&netlink.GenericFilter{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: ifindex,
			Parent:    RootQdisc.Packed(),
			Priority:  10,
			Handle:    1,
		},
		FilterType: "cgroup",
	})

	filter := &netlink.GenericFilter{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: ifindex,
			Parent:    RootQdisc.Packed(),
			Priority:  10,
			Handle:    1,
			Protocol:  unixETHPALL,
		},
		FilterType: "cgroup",
	}
	if err := t.nl.Handle().FilterAdd(filter); err != nil {
		return wrapTC("cgroup_filter_add", err)
	}
	return nil
}

func (t *Tree) attachLeafQdisc(ifindex int, mtu int, limits DeviceLimits) error {
	kind := limits.DefaultQdiscKind
	if kind == "" {
		kind = "sfq"
	}
	quantum := limits.DefaultQdiscQuantum
	if quantum <= 0 {
		quantum = int64(2 * mtu)
	}

	qdisc := &netlink.GenericQdisc{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: ifindex,
			Handle:    netlink.MakeHandle(2, 0),
			Parent:    DefaultClass.Packed(),
		},
		QdiscType: kind,
	}
	if err := t.nl.Handle().QdiscAdd(qdisc); err != nil {
		if netlinkclient.ClassifyErr(err) != netlinkclient.ClassExists {
			return wrapTC("qdisc_add(default leaf)", err)
		}
	}
	return nil
}

// ClassAdd installs an HTB class, deriving kernel parameters per
// spec §4.3.
func (t *Tree) ClassAdd(ifindex int, handle, parent Handle, rate, ceil, deviceMax int64, prio uint32, mtu int,
	cfgQuantum, cfgRBuffer, cfgCBuffer int64) error {

	params := DeriveClassParams(rate, ceil, deviceMax, prio, mtu, cfgQuantum, cfgRBuffer, cfgCBuffer)

	class := netlink.NewHtbClass(netlink.ClassAttrs{
		LinkIndex: ifindex,
		Parent:    parent.Packed(),
		Handle:    handle.Packed(),
	}, netlink.HtbClassAttrs{
		Rate:    params.Rate,
		Ceil:    params.Ceil,
		Buffer:  params.RBuffer,
		Cbuffer: params.CBuffer,
		Quantum: params.Quantum,
		Prio:    params.Prio,
	})

	if err := t.nl.Handle().ClassAdd(class); err != nil {
		if netlinkclient.ClassifyErr(err) == netlinkclient.ClassExists {
			if err := t.nl.Handle().ClassChange(class); err != nil {
				return wrapTC("class_change", err)
			}
			return nil
		}
		return wrapTC("class_add", err)
	}
	return nil
}

// ClassDel deletes a class. On kernel EBUSY it performs a recursive
// reverse-order delete: collect all descendants of handle from the
// class cache, then delete leaf-first (spec §4.3 scenario 4). ENOENT on
// any step is ignored.
func (t *Tree) ClassDel(ifindex int, handle Handle) error {
	err := t.deleteOneClass(ifindex, handle)
	if err == nil {
		return nil
	}
	if netlinkclient.ClassifyErr(err) != netlinkclient.ClassBusy {
		if netlinkclient.IsNotFound(err) {
			return nil
		}
		return err
	}

	order, err2 := t.collectDescendantsLeafFirst(ifindex, handle)
	if err2 != nil {
		return err2
	}
	var firstErr error
	for _, h := range order {
		if delErr := t.deleteOneClass(ifindex, h); delErr != nil && !netlinkclient.IsNotFound(delErr) {
			if firstErr == nil {
				firstErr = delErr
			}
			log.Error().Err(delErr).Str("handle", h.String()).Msg("class delete failed during recursive teardown")
		}
	}
	return firstErr
}

func (t *Tree) deleteOneClass(ifindex int, handle Handle) error {
	class := &netlink.HtbClass{ClassAttrs: netlink.ClassAttrs{LinkIndex: ifindex, Handle: handle.Packed()}}
	if err := t.nl.Handle().ClassDel(class); err != nil {
		if netlinkclient.ClassifyErr(err) == netlinkclient.ClassNotFound {
			return nil
		}
		return wrapTC("class_del", err)
	}
	return nil
}

// collectDescendantsLeafFirst walks the kernel class cache for ifindex
// and returns every class handle rooted at `handle` (handle included),
// ordered leaf-first (deepest descendants before their parents), so a
// reverse-order delete never hits a "class has children" EBUSY again.
func (t *Tree) collectDescendantsLeafFirst(ifindex int, handle Handle) ([]Handle, error) {
	classes, err := t.nl.Handle().ClassList(linkStub(ifindex), 0)
	if err != nil {
		return nil, wrapTC("class_list", err)
	}

	children := map[uint32][]uint32{}
	for _, c := range classes {
		attrs := c.Attrs()
		children[attrs.Parent] = append(children[attrs.Parent], attrs.Handle)
	}

	var order []Handle
	var walk func(h uint32)
	walk = func(h uint32) {
		kids := children[h]
		for i := len(kids) - 1; i >= 0; i-- {
			walk(kids[i])
		}
		order = append(order, handleFromPacked(h))
	}
	walk(handle.Packed())
	return order, nil
}

func handleFromPacked(p uint32) Handle {
	return Handle{Major: uint16(p >> 16), Minor: uint16(p & 0xffff)}
}

func linkStub(ifindex int) netlink.Link {
	attrs := netlink.NewLinkAttrs()
	attrs.Index = ifindex
	return &netlink.Dummy{LinkAttrs: attrs}
}

func wrapTC(op string, err error) error {
	return nerr.Wrap(classifyToKind(netlinkclient.ClassifyErr(err)), 0, err, "%s", op)
}

func classifyToKind(c netlinkclient.ErrClass) nerr.Kind {
	switch c {
	case netlinkclient.ClassNotFound:
		return nerr.ContainerDoesNotExist
	case netlinkclient.ClassBusy:
		return nerr.Busy
	case netlinkclient.ClassExists:
		return nerr.ContainerAlreadyExists
	case netlinkclient.ClassPermission:
		return nerr.Permission
	case netlinkclient.ClassInvalid:
		return nerr.InvalidValue
	default:
		return nerr.Unknown
	}
}

// unixETHPALL is ETH_P_ALL in host byte order (the netlink library
// swaps a filter's protocol to network order itself), the protocol
// filters attach to when they should see every frame.
const unixETHPALL = 0x0003
