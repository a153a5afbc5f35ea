package natpool

import "github.com/containerkit/netcore/pkg/addr"

// LocalAddr is a candidate local address used for gateway discovery:
// the address itself plus which link it lives on (for MTU selection)
// and whether its scope is "host" (loopback-style, excluded).
type LocalAddr struct {
	Addr       addr.NetAddr
	LinkMTU    int
	HostScoped bool
}

// GateResult is the outcome of gate_address (spec §4.5).
type GateResult struct {
	Gate4 *addr.NetAddr
	Gate6 *addr.NetAddr
	MTU   int
}

// GateAddress scans candidates (the local address cache) for the best
// gateway to reach each requested candidate address family, following
// spec §4.5:
//   - skip host-scoped addresses
//   - prefer the most specific local address whose prefix contains the
//     requested candidate
//   - fall back to any non-host address of the same family
//   - the selected gateway's prefix length is forced to a host route
//   - MTU is the minimum MTU across all links that contributed a
//     selected gateway
func GateAddress(candidates []addr.NetAddr, locals []LocalAddr) GateResult {
	var res GateResult
	mtuSet := false

	for _, c := range candidates {
		best, bestMTU, ok := bestGatewayFor(c, locals)
		if !ok {
			continue
		}
		hostRoute := best.AsHostRoute()
		switch c.Family {
		case addr.V4:
			if res.Gate4 == nil {
				res.Gate4 = &hostRoute
			}
		case addr.V6:
			if res.Gate6 == nil {
				res.Gate6 = &hostRoute
			}
		}
		if !mtuSet || bestMTU < res.MTU {
			res.MTU = bestMTU
			mtuSet = true
		}
	}
	return res
}

func bestGatewayFor(candidate addr.NetAddr, locals []LocalAddr) (addr.NetAddr, int, bool) {
	var (
		best     addr.NetAddr
		bestMTU  int
		bestLen  = -1
		fallback addr.NetAddr
		fbMTU    int
		haveFB   bool
	)

	for _, l := range locals {
		if l.HostScoped || l.Addr.Family != candidate.Family {
			continue
		}
		if !haveFB {
			fallback, fbMTU, haveFB = l.Addr, l.LinkMTU, true
		}
		if l.Addr.Contains(candidate) && l.Addr.PrefixLen > bestLen {
			best, bestMTU, bestLen = l.Addr, l.LinkMTU, l.Addr.PrefixLen
		}
	}

	if bestLen >= 0 {
		return best, bestMTU, true
	}
	if haveFB {
		return fallback, fbMTU, true
	}
	return addr.NetAddr{}, 0, false
}
