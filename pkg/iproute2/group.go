// Package iproute2 parses /etc/iproute2/group (spec §6), which drives
// the unmanaged-group configuration used by DeviceInventory.
//
// Grounded on the teacher's pkg/ipam/store.go line-oriented state
// handling, generalized from JSON to the kernel tool's flat
// "<id> <name>" + "#"-comment grammar.
package iproute2

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/containerkit/netcore/pkg/nerr"
)

// Groups maps group id -> name, as read from /etc/iproute2/group.
type Groups map[int]string

// Parse reads "<id> <name>" lines, skipping blank lines and "#" comments.
func Parse(r io.Reader) (Groups, error) {
	groups := Groups{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, nerr.New(nerr.InvalidData, "iproute2/group line %d: expected \"<id> <name>\", got %q", lineNo, line)
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, nerr.New(nerr.InvalidData, "iproute2/group line %d: invalid group id %q", lineNo, fields[0])
		}
		groups[id] = fields[1]
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan iproute2/group: %w", err)
	}
	return groups, nil
}

// IDForName returns the group id for name, or false if not found.
func (g Groups) IDForName(name string) (int, bool) {
	for id, n := range g {
		if n == name {
			return id, true
		}
	}
	return 0, false
}
