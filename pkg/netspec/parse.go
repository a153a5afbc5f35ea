package netspec

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/containerkit/netcore/pkg/nerr"
)

var macRE = regexp.MustCompile(`^([0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2}$`)

var macvlanTypes = map[string]bool{"private": true, "bridge": true, "vepa": true, "passthru": true}
var ipvlanModes = map[string]bool{"l2": true, "l3": true}

// Parse reads the line-separated, whitespace-split NetConfig grammar
// (spec §4.6) and validates it.
func Parse(r io.Reader) (*Spec, error) {
	spec := &Spec{Mode: ModeLinks}
	sawNoneOrInherited := false
	sawOther := false

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		kw := strings.ToLower(fields[0])
		args := fields[1:]

		switch kw {
		case "none":
			if len(args) != 0 {
				return nil, lineErr(lineNo, "none takes no arguments")
			}
			spec.Mode = ModeNone
			sawNoneOrInherited = true

		case "inherited":
			if len(args) != 0 {
				return nil, lineErr(lineNo, "inherited takes no arguments")
			}
			spec.Mode = ModeInherited
			sawNoneOrInherited = true

		case "host":
			switch len(args) {
			case 0:
				spec.Mode = ModeInherited
				sawNoneOrInherited = true
			case 1:
				sawOther = true
				if err := addLink(spec, KindSteal, args[0], "", "", 0, ""); err != nil {
					return nil, wrapLineErr(lineNo, err)
				}
			default:
				return nil, lineErr(lineNo, "host takes zero or one argument")
			}

		case "container":
			if len(args) != 1 {
				return nil, lineErr(lineNo, "container requires exactly one argument")
			}
			spec.Mode = ModeContainer
			spec.Target = args[0]
			sawOther = true

		case "netns":
			if len(args) != 1 {
				return nil, lineErr(lineNo, "netns requires exactly one argument")
			}
			spec.Mode = ModeNetns
			spec.Target = args[0]
			sawOther = true

		case "steal":
			if len(args) != 1 {
				return nil, lineErr(lineNo, "steal requires exactly one argument")
			}
			sawOther = true
			if err := addLink(spec, KindSteal, args[0], "", "", 0, ""); err != nil {
				return nil, wrapLineErr(lineNo, err)
			}

		case "macvlan":
			if len(args) < 2 || len(args) > 5 {
				return nil, lineErr(lineNo, "macvlan requires <master> <name> [type [mtu [hw]]]")
			}
			master, name := args[0], args[1]
			typ := "bridge"
			mtu := 0
			hw := ""
			if len(args) >= 3 {
				typ = strings.ToLower(args[2])
				if !macvlanTypes[typ] {
					return nil, lineErr(lineNo, "invalid macvlan type %q", args[2])
				}
			}
			if len(args) >= 4 {
				var err error
				mtu, err = strconv.Atoi(args[3])
				if err != nil {
					return nil, lineErr(lineNo, "invalid macvlan mtu %q", args[3])
				}
			}
			if len(args) >= 5 {
				hw = strings.ToUpper(args[4])
				if !macRE.MatchString(hw) {
					return nil, lineErr(lineNo, "invalid macvlan hw address %q", args[4])
				}
			}
			sawOther = true
			if err := addLink(spec, KindMacvlan, name, master, typ, mtu, hw); err != nil {
				return nil, wrapLineErr(lineNo, err)
			}

		case "ipvlan":
			if len(args) < 2 || len(args) > 4 {
				return nil, lineErr(lineNo, "ipvlan requires <master> <name> [mode [mtu]]")
			}
			master, name := args[0], args[1]
			mode := "l2"
			mtu := 0
			if len(args) >= 3 {
				mode = strings.ToLower(args[2])
				if !ipvlanModes[mode] {
					return nil, lineErr(lineNo, "invalid ipvlan mode %q", args[2])
				}
			}
			if len(args) >= 4 {
				var err error
				mtu, err = strconv.Atoi(args[3])
				if err != nil {
					return nil, lineErr(lineNo, "invalid ipvlan mtu %q", args[3])
				}
			}
			sawOther = true
			if err := addLink(spec, KindIPvlan, name, master, mode, mtu, ""); err != nil {
				return nil, wrapLineErr(lineNo, err)
			}

		case "veth":
			if len(args) < 2 || len(args) > 4 {
				return nil, lineErr(lineNo, "veth requires <name> <bridge> [mtu [hw]]")
			}
			name, bridge := args[0], args[1]
			mtu := 0
			hw := ""
			if len(args) >= 3 {
				var err error
				mtu, err = strconv.Atoi(args[2])
				if err != nil {
					return nil, lineErr(lineNo, "invalid veth mtu %q", args[2])
				}
			}
			if len(args) >= 4 {
				hw = strings.ToUpper(args[3])
				if !macRE.MatchString(hw) {
					return nil, lineErr(lineNo, "invalid veth hw address %q", args[3])
				}
			}
			sawOther = true
			if err := addLink(spec, KindVeth, name, bridge, "", mtu, hw); err != nil {
				return nil, wrapLineErr(lineNo, err)
			}

		case "l3":
			if len(args) > 2 {
				return nil, lineErr(lineNo, "L3 takes at most <name> <master>")
			}
			name, master := "", ""
			if len(args) >= 1 {
				name = args[0]
			}
			if len(args) >= 2 {
				master = args[1]
			}
			sawOther = true
			if err := addLink(spec, KindL3, name, master, "", 0, ""); err != nil {
				return nil, wrapLineErr(lineNo, err)
			}

		case "nat":
			if len(args) > 1 {
				return nil, lineErr(lineNo, "NAT takes at most one argument")
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			l := resolveTarget(spec, name)
			if l == nil {
				return nil, lineErr(lineNo, "NAT references unknown link %q", name)
			}
			l.NAT = true
			sawOther = true

		case "mtu":
			if len(args) != 2 {
				return nil, lineErr(lineNo, "MTU requires <name> <int>")
			}
			mtu, err := strconv.Atoi(args[1])
			if err != nil || mtu <= 0 {
				return nil, lineErr(lineNo, "invalid MTU value %q", args[1])
			}
			l := spec.linkByName(args[0])
			if l == nil {
				return nil, lineErr(lineNo, "MTU references unknown link %q", args[0])
			}
			l.MTU = mtu
			sawOther = true

		case "autoconf":
			if len(args) != 1 {
				return nil, lineErr(lineNo, "autoconf requires exactly one argument")
			}
			l := resolveTarget(spec, args[0])
			if l == nil {
				return nil, lineErr(lineNo, "autoconf references unknown link %q", args[0])
			}
			l.Autoconf = true
			sawOther = true

		default:
			return nil, lineErr(lineNo, "unrecognised directive %q", fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nerr.Wrap(nerr.InvalidData, 0, err, "scan netconfig")
	}

	if sawNoneOrInherited && sawOther {
		return nil, nerr.New(nerr.InvalidData, "none/inherited cannot be combined with any other directive")
	}

	return spec, nil
}

// resolveTarget resolves a NAT/autoconf reference: an explicit name, or
// (when name is empty) the most recently declared link.
func resolveTarget(spec *Spec, name string) *LinkSpec {
	if name != "" {
		return spec.linkByName(name)
	}
	if len(spec.Links) == 0 {
		return nil
	}
	return spec.Links[len(spec.Links)-1]
}

func addLink(spec *Spec, kind LinkKind, name, master, typ string, mtu int, hw string) error {
	if name != "" && spec.linkByName(name) != nil {
		return nerr.New(nerr.InvalidData, "duplicate link name %q", name)
	}
	if hw != "" && !macRE.MatchString(hw) {
		return nerr.New(nerr.InvalidData, "invalid hw address %q", hw)
	}
	spec.Links = append(spec.Links, &LinkSpec{
		Kind: kind, Name: name, Master: master, Type: typ, MTU: mtu, HW: hw,
	})
	return nil
}

func lineErr(lineNo int, format string, args ...any) error {
	msg := nerr.New(nerr.InvalidData, format, args...).Error()
	return nerr.New(nerr.InvalidData, "netconfig line %d: %s", lineNo, msg)
}

func wrapLineErr(lineNo int, err error) error {
	return nerr.Wrap(nerr.InvalidData, 0, err, "netconfig line %d", lineNo)
}
