// Package macgen generates deterministic MAC addresses and interface
// names for virtual links created by the network engine (spec §4.6,
// §8 scenario 5).
//
// Grounded on the teacher's pkg/atomicni/names.go deterministicName
// (hash-derived deterministic interface naming), generalized from a
// sha1-hex veth name scheme to the spec's literal crc32 MAC formula and
// a retrying device-name generator.
package macgen

import (
	"fmt"
	"hash/crc32"

	"github.com/containerkit/netcore/pkg/nerr"
)

// GenerateMAC returns a locally-administered MAC ("02:...") derived from
// name and hostname per spec §8 scenario 5:
//
//	byte0 = crc32(name)      & 0xff
//	byte1 = (crc32(host)>>24) & 0xff
//	byte2 = (crc32(host)>>16) & 0xff
//	byte3 = (crc32(host)>>8)  & 0xff
//	byte4 = crc32(host)      & 0xff
func GenerateMAC(name, hostname string) string {
	nameCRC := crc32.ChecksumIEEE([]byte(name))
	hostCRC := crc32.ChecksumIEEE([]byte(hostname))

	b0 := byte(nameCRC & 0xff)
	b1 := byte((hostCRC >> 24) & 0xff)
	b2 := byte((hostCRC >> 16) & 0xff)
	b3 := byte((hostCRC >> 8) & 0xff)
	b4 := byte(hostCRC & 0xff)

	return fmt.Sprintf("02:%02x:%02x:%02x:%02x:%02x", b0, b1, b2, b3, b4)
}

// Exists reports whether a candidate name is already taken; supplied by
// the caller (e.g. the device inventory) so this package stays free of
// netlink dependencies.
type Exists func(name string) bool

// NewDeviceName retries a deterministic prefix+seq scheme up to
// maxRetries times before giving up. Resolves the spec §9 open question
// (the original retries 100 times then silently returns prefix+"0"
// regardless, risking a collision) in favor of surfacing a failure: once
// retries are exhausted, ResourceNotAvailable is returned instead of a
// name that might already be in use.
func NewDeviceName(prefix string, seq int, maxRetries int, exists Exists) (string, error) {
	for i := 0; i < maxRetries; i++ {
		candidate := fmt.Sprintf("%s%d", prefix, seq+i)
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", nerr.New(nerr.ResourceNotAvailable, "exhausted %d attempts generating a free %q-prefixed device name", maxRetries, prefix)
}
