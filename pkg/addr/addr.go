// Package addr implements the NetAddr value: a family-tagged IPv4/IPv6
// address with a prefix length, bignum offset arithmetic, and prefix
// containment tests.
//
// Grounded on the teacher's IPv4-only uint32 arithmetic in
// pkg/config/config.go (ipv4ToUint/uintToIPv4/networkAndBroadcast) and
// pkg/ipam/allocator.go (findNextIP wraparound), generalized to both
// address families with a byte-slice representation instead of a
// fixed uint32, since the spec requires dual-family support.
package addr

import (
	"fmt"
	"math/big"
	"net"

	"github.com/containerkit/netcore/pkg/nerr"
)

// Family identifies the address family of a NetAddr.
type Family int

const (
	V4 Family = iota
	V6
)

func (f Family) String() string {
	if f == V6 {
		return "v6"
	}
	return "v4"
}

// Width returns the bit width of the family.
func (f Family) Width() int {
	if f == V6 {
		return 128
	}
	return 32
}

// NetAddr is (family, bytes, prefix_len).
type NetAddr struct {
	Family   Family
	Bytes    []byte
	PrefixLen int
}

// FromIP builds a NetAddr from a net.IP and explicit prefix length.
func FromIP(ip net.IP, prefixLen int) (NetAddr, error) {
	if v4 := ip.To4(); v4 != nil {
		if prefixLen > 32 {
			return NetAddr{}, nerr.New(nerr.InvalidValue, "prefix length %d exceeds v4 width", prefixLen)
		}
		return NetAddr{Family: V4, Bytes: append([]byte(nil), v4...), PrefixLen: prefixLen}, nil
	}
	if v6 := ip.To16(); v6 != nil {
		if prefixLen > 128 {
			return NetAddr{}, nerr.New(nerr.InvalidValue, "prefix length %d exceeds v6 width", prefixLen)
		}
		return NetAddr{Family: V6, Bytes: append([]byte(nil), v6...), PrefixLen: prefixLen}, nil
	}
	return NetAddr{}, nerr.New(nerr.InvalidValue, "invalid IP %q", ip)
}

// Parse parses "<ip>/<prefix>" or a bare IP (treated as a host address).
func Parse(s string) (NetAddr, error) {
	ip, ipnet, err := net.ParseCIDR(s)
	if err == nil {
		ones, _ := ipnet.Mask.Size()
		return FromIP(ip, ones)
	}
	ip2 := net.ParseIP(s)
	if ip2 == nil {
		return NetAddr{}, nerr.New(nerr.InvalidValue, "invalid address %q", s)
	}
	width := 32
	if ip2.To4() == nil {
		width = 128
	}
	return FromIP(ip2, width)
}

// IP returns the net.IP view of the address.
func (a NetAddr) IP() net.IP {
	return net.IP(append([]byte(nil), a.Bytes...))
}

// IsHostAddress reports whether PrefixLen equals the family width.
func (a NetAddr) IsHostAddress() bool {
	return a.PrefixLen == a.Family.Width()
}

// IsEmpty reports whether the address carries no bytes.
func (a NetAddr) IsEmpty() bool {
	return len(a.Bytes) == 0
}

// AsHostRoute returns a copy with PrefixLen forced to the family width
// (used by gateway discovery, spec §4.5).
func (a NetAddr) AsHostRoute() NetAddr {
	b := a
	b.PrefixLen = a.Family.Width()
	return b
}

// Add returns a new NetAddr whose bytes are a.Bytes + n (bignum add,
// wrapping within the family width). PrefixLen is copied unchanged.
func (a NetAddr) Add(n uint64) NetAddr {
	base := new(big.Int).SetBytes(a.Bytes)
	base.Add(base, new(big.Int).SetUint64(n))

	width := len(a.Bytes)
	mod := new(big.Int).Lsh(big.NewInt(1), uint(width*8))
	base.Mod(base, mod)

	out := make([]byte, width)
	base.FillBytes(out)
	return NetAddr{Family: a.Family, Bytes: out, PrefixLen: a.PrefixLen}
}

// OffsetFrom returns a - base as a uint64, the inverse of Add: for all
// reachable n, a.Add(n).OffsetFrom(a) == n.
func (a NetAddr) OffsetFrom(base NetAddr) uint64 {
	x := new(big.Int).SetBytes(a.Bytes)
	y := new(big.Int).SetBytes(base.Bytes)
	x.Sub(x, y)
	if x.Sign() < 0 {
		width := len(a.Bytes)
		mod := new(big.Int).Lsh(big.NewInt(1), uint(width*8))
		x.Add(x, mod)
	}
	return x.Uint64()
}

// CmpPrefix reports whether a's network (masked to PrefixLen) equals
// other's network masked to the same length — i.e. whether the two
// addresses share the same /PrefixLen network.
func (a NetAddr) CmpPrefix(other NetAddr) bool {
	if a.Family != other.Family {
		return false
	}
	return a.networkBytes(a.PrefixLen) == other.networkBytes(a.PrefixLen)
}

// Contains reports whether a's network (its own PrefixLen) contains
// candidate as a more-specific or equal address.
func (a NetAddr) Contains(candidate NetAddr) bool {
	if a.Family != candidate.Family || candidate.PrefixLen < a.PrefixLen {
		return false
	}
	return a.networkBytes(a.PrefixLen) == candidate.networkBytes(a.PrefixLen)
}

func (a NetAddr) networkBytes(prefixLen int) string {
	out := make([]byte, len(a.Bytes))
	copy(out, a.Bytes)
	maskApply(out, prefixLen)
	return string(out)
}

func maskApply(b []byte, prefixLen int) {
	full := prefixLen / 8
	rem := prefixLen % 8
	for i := full; i < len(b); i++ {
		if i == full && rem > 0 {
			b[i] &= ^byte(0xFF >> rem)
			continue
		}
		if i >= full {
			b[i] = 0
		}
	}
}

func (a NetAddr) String() string {
	return fmt.Sprintf("%s/%d", a.IP(), a.PrefixLen)
}
