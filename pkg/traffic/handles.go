// Package traffic installs and mutates the per-device HTB hierarchy
// (spec §3 "TC Handles", §4.3 TrafficTree). It is new domain logic (the
// teacher has no TC code at all), grounded on github.com/vishvananda/netlink's
// Htb/HtbClass/qdisc/filter types as used in the cocoon
// config_linux.go and micro-segment tc_traffic_capture.go examples for
// qdisc/class/filter construction.
package traffic

import "github.com/vishvananda/netlink"

// Handle is the 16-bit-major/16-bit-minor TC handle pair from spec §3.
type Handle struct {
	Major uint16
	Minor uint16
}

// Packed returns the handle packed the way netlink wants it.
func (h Handle) Packed() uint32 {
	return netlink.MakeHandle(h.Major, h.Minor)
}

func (h Handle) String() string {
	return handleString(h.Major, h.Minor)
}

func handleString(major, minor uint16) string {
	return hex16(major) + ":" + hex16(minor)
}

func hex16(v uint16) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Well-known handles from spec §3.
var (
	RootQdisc      = Handle{1, 0}
	RootClass      = Handle{1, 1}
	DefaultClass   = Handle{1, 2}
	PortoRootClass = Handle{1, 3}
)

// ContainerClass returns the handle for a container class; containerID
// must be >= 4 per spec §3.
func ContainerClass(containerID uint16) Handle {
	return Handle{1, containerID}
}
