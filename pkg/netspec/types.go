// Package netspec parses the textual NetConfig grammar and realises it
// against a network namespace (spec §4.6).
//
// Grounded on the teacher's pkg/config.Parse validation style (explicit
// field checks, wrapped nerr errors) applied to a line/token grammar
// instead of JSON; link creation calls reuse pkg/netlinkclient, naming
// reuses pkg/macgen, address arithmetic reuses pkg/addr.
package netspec

// Mode is the top-level disposition of a NetConfig: an exclusive
// none/inherited declaration, or an ordered list of link directives.
type Mode int

const (
	ModeLinks Mode = iota
	ModeNone
	ModeInherited
	ModeContainer
	ModeNetns
)

// LinkKind enumerates the directive kinds that produce or reference a
// virtual link.
type LinkKind int

const (
	KindSteal LinkKind = iota
	KindMacvlan
	KindIPvlan
	KindVeth
	KindL3
)

func (k LinkKind) String() string {
	switch k {
	case KindSteal:
		return "steal"
	case KindMacvlan:
		return "macvlan"
	case KindIPvlan:
		return "ipvlan"
	case KindVeth:
		return "veth"
	case KindL3:
		return "L3"
	default:
		return "unknown"
	}
}

// LinkSpec is one steal/macvlan/ipvlan/veth/L3 directive, in
// declaration order.
type LinkSpec struct {
	Kind LinkKind

	Name   string
	Master string // macvlan/ipvlan master, veth bridge, L3 master
	Type   string // macvlan type, or ipvlan mode
	MTU    int    // 0 = unset
	HW     string // explicit MAC, empty = generate

	NAT      bool // a "NAT" directive referenced this link
	Autoconf bool // an "autoconf" directive referenced this link
}

// Spec is a fully parsed and validated NetConfig, not yet realised.
type Spec struct {
	Mode Mode

	// Populated when Mode is ModeContainer/ModeNetns.
	Target string

	Links []*LinkSpec
}

func (s *Spec) linkByName(name string) *LinkSpec {
	for _, l := range s.Links {
		if l.Name == name {
			return l
		}
	}
	return nil
}
