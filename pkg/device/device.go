// Package device maintains the cache of links inside one network
// namespace and reconciles it against the kernel (spec §4.2
// DeviceInventory). It is new domain logic grounded on the teacher's
// pkg/netops.NetOps link-lookup shapes, driving pkg/netlinkclient
// instead of shelling out to ip(1), with managed/unmanaged
// classification borrowed from the cocoon config_linux.go group-id
// pattern.
package device

import (
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vishvananda/netlink"

	"github.com/containerkit/netcore/pkg/config"
	"github.com/containerkit/netcore/pkg/iproute2"
	"github.com/containerkit/netcore/pkg/netlinkclient"
	"github.com/containerkit/netcore/pkg/traffic"
)

// ReservedPrefixes are the internally generated veth-endpoint name
// prefixes refresh_devices always filters out, regardless of cache
// order (spec §4.2 testable property, §4.6).
var ReservedPrefixes = []string{"portove-", "L3-"}

// Device mirrors spec §4 "NetworkDevice".
type Device struct {
	Name            string
	Type            string
	Index           int
	LinkParentIndex int
	Group           int
	MTU             int
	Managed         bool
	Prepared        bool
	Missing         bool
	Dirty           bool
}

func isReserved(name string) bool {
	for _, p := range ReservedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Inventory is the per-namespace device cache.
type Inventory struct {
	nl        *netlinkclient.Client
	tree      *traffic.Tree
	cfg       *config.Config
	groups    iproute2.Groups
	hostNetns bool

	devices []*Device
}

// New builds an inventory bound to a netlink client and config. groups
// may be nil if /etc/iproute2/group could not be read.
func New(nl *netlinkclient.Client, cfg *config.Config, groups iproute2.Groups, hostNetns bool) *Inventory {
	return &Inventory{
		nl:        nl,
		tree:      traffic.New(nl),
		cfg:       cfg,
		groups:    groups,
		hostNetns: hostNetns,
	}
}

// Devices returns the current device list (managed and unmanaged).
func (inv *Inventory) Devices() []*Device {
	return inv.devices
}

func (inv *Inventory) find(name string, index int) *Device {
	for _, d := range inv.devices {
		if d.Name == name && d.Index == index {
			return d
		}
	}
	return nil
}

// RefreshDevices reloads the link cache and reconciles it against the
// prior list per spec §4.2 steps 1-6. The first per-device setup_queue
// error is returned, but every managed unprepared device is still
// attempted.
func (inv *Inventory) RefreshDevices() error {
	for _, d := range inv.devices {
		d.Missing = true
	}

	links, err := inv.nl.OpenLinks(false, inv.hostNetns)
	if err != nil {
		return err
	}

	for _, l := range links {
		attrs := l.Attrs()
		if isReserved(attrs.Name) {
			continue
		}

		existing := inv.find(attrs.Name, attrs.Index)
		if existing != nil {
			existing.Missing = false
			existing.MTU = attrs.MTU
			existing.LinkParentIndex = attrs.ParentIndex
			if existing.Managed {
				ok, err := inv.tree.QdiscCheck(attrs.Index)
				if err != nil {
					log.Error().Err(err).Str("device", attrs.Name).Msg("qdisc check failed")
				} else if !ok {
					log.Warn().Str("device", attrs.Name).Msg("managed device qdisc is not htb, scheduling rebuild")
					existing.Prepared = false
				}
			}
			continue
		}

		d := &Device{
			Name:            attrs.Name,
			Type:            linkType(l),
			Index:           attrs.Index,
			LinkParentIndex: attrs.ParentIndex,
			Group:           int(groupOf(l)),
			MTU:             attrs.MTU,
			Managed:         inv.classify(attrs.Name, int(groupOf(l))),
		}
		inv.devices = append(inv.devices, d)
	}

	kept := inv.devices[:0]
	for _, d := range inv.devices {
		if d.Missing {
			continue
		}
		kept = append(kept, d)
	}
	inv.devices = kept

	var firstErr error
	for _, d := range inv.devices {
		if !d.Managed || d.Prepared {
			continue
		}
		limits := inv.limitsFor(d.Name)
		if err := inv.tree.SetupQueue(d.Index, d.MTU, inv.hostNetns, limits); err != nil {
			log.Error().Err(err).Str("device", d.Name).Msg("setup_queue failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.Prepared = true
		d.Dirty = true
	}

	return firstErr
}

// classify implements spec §4.2 "Managedness": in a container-owned
// netns every device is managed; in the host netns a device is
// unmanaged iff its name matches an unmanaged pattern or its group id
// is in the unmanaged group set.
func (inv *Inventory) classify(name string, group int) bool {
	if !inv.hostNetns {
		return true
	}
	if inv.cfg != nil {
		for _, g := range inv.cfg.UnmanagedGroups {
			if g == group {
				return false
			}
		}
		for _, pat := range inv.cfg.UnmanagedPatterns {
			if matched, _ := filepath.Match(pat, name); matched {
				return false
			}
		}
	}
	return true
}

func (inv *Inventory) limitsFor(name string) traffic.DeviceLimits {
	if inv.cfg == nil {
		return traffic.DeviceLimits{}
	}
	return traffic.DeviceLimits{
		DeviceRate:          inv.cfg.DeviceRateFor(name),
		DefaultRate:         inv.cfg.DefaultRate.Lookup(name, 0),
		PortoRate:           inv.cfg.PortoRate.Lookup(name, 0),
		Quantum:             inv.cfg.DeviceQuantum.Lookup(name, 0),
		RBuffer:             inv.cfg.HTBRBuffer.Lookup(name, 0),
		CBuffer:             inv.cfg.HTBCBuffer.Lookup(name, 0),
		DefaultQdiscKind:    inv.cfg.DefaultQdisc.Lookup(name, "sfq"),
		DefaultQdiscLimit:   inv.cfg.DefaultQdiscLimit.Lookup(name, 0),
		DefaultQdiscQuantum: inv.cfg.DefaultQdiscQuantum.Lookup(name, 0),
	}
}

func linkType(l netlink.Link) string {
	return l.Type()
}

func groupOf(l netlink.Link) uint32 {
	return l.Attrs().Group
}
