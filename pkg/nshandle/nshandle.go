// Package nshandle provides scoped acquisition of a /proc/<tid>/ns/<kind>
// descriptor and namespace-entry operations (spec §4, NamespaceHandle).
//
// Grounded on the teacher's use of
// github.com/containernetworking/plugins/pkg/ns (ns.GetNS/WithNetNSPath),
// generalized to the five namespace kinds the spec's External
// Interfaces table names, and on the cocoon config_linux.go
// createNetns/WithNetNSPath LockOSThread discipline (netns.Set is not
// safe to call without pinning the calling goroutine to its OS thread).
package nshandle

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/containerkit/netcore/pkg/nerr"
)

// Kind is one of the namespace kinds spec's External Interfaces table
// lists under /proc/<tid>/ns/.
type Kind string

const (
	Net  Kind = "net"
	IPC  Kind = "ipc"
	UTS  Kind = "uts"
	PID  Kind = "pid"
	Mnt  Kind = "mnt"
)

// Handle is an open descriptor on one namespace kind for one tid.
type Handle struct {
	kind Kind
	file *os.File
}

// Open acquires a descriptor for /proc/<tid>/ns/<kind>. tid == 0 means
// the calling thread ("thread-self" via /proc/thread-self/ns, which
// resolves per the reading thread under Linux's procfs semantics for a
// multi-threaded process — pass the OS thread id explicitly when
// operating across goroutines).
func Open(tid int, kind Kind) (*Handle, error) {
	path := fmt.Sprintf("/proc/thread-self/ns/%s", kind)
	if tid != 0 {
		path = fmt.Sprintf("/proc/%d/ns/%s", tid, kind)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nerr.Wrap(nerr.ContainerDoesNotExist, 0, err, "open namespace handle %s", path)
	}
	return &Handle{kind: kind, file: f}, nil
}

// FromFD wraps an already-open descriptor (typically one inherited
// across a re-exec via ExtraFiles) as a Handle for the given kind,
// taking ownership of it.
func FromFD(kind Kind, fd int) *Handle {
	return &Handle{kind: kind, file: os.NewFile(uintptr(fd), fmt.Sprintf("ns-%s", kind))}
}

// OpenPath acquires a descriptor at an explicit path, used for
// /var/run/netns/<name> bind-mounted namespaces (spec §4.6 "netns
// <name>").
func OpenPath(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nerr.Wrap(nerr.ContainerDoesNotExist, 0, err, "open namespace handle %s", path)
	}
	return &Handle{kind: Net, file: f}, nil
}

// Fd returns the underlying file descriptor.
func (h *Handle) Fd() int { return int(h.file.Fd()) }

// Inode returns the namespace's inode number, the identity the spec
// uses to key NetworkNamespace instances (spec §4, "at most one
// NetworkNamespace per netns_inode").
func (h *Handle) Inode() (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(h.file.Fd()), &st); err != nil {
		return 0, nerr.Wrap(nerr.Unknown, int(err.(unix.Errno)), err, "fstat namespace handle %s", h.kind)
	}
	return st.Ino, nil
}

// Close releases the descriptor. Safe to call multiple times.
func (h *Handle) Close() error {
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

// Enter calls setns(2) on the calling OS thread for this handle's
// namespace kind. The caller must have already called
// runtime.LockOSThread.
func (h *Handle) Enter() error {
	if err := unix.Setns(h.Fd(), nsType(h.kind)); err != nil {
		return nerr.Wrap(nerr.Unknown, int(err.(unix.Errno)), err, "setns(%s)", h.kind)
	}
	return nil
}

// Guard locks the calling goroutine to its OS thread, enters the
// target namespace, and returns a restore function that re-enters the
// namespace captured at Guard time and unlocks the thread. Use as:
//
//	restore, err := target.Guard()
//	if err != nil { return err }
//	defer restore()
func (h *Handle) Guard() (func() error, error) {
	runtime.LockOSThread()

	orig, err := Open(0, h.kind)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}

	if err := h.Enter(); err != nil {
		orig.Close()
		runtime.UnlockOSThread()
		return nil, err
	}

	return func() error {
		defer runtime.UnlockOSThread()
		defer orig.Close()
		return orig.Enter()
	}, nil
}

func nsType(kind Kind) int {
	switch kind {
	case Net:
		return unix.CLONE_NEWNET
	case IPC:
		return unix.CLONE_NEWIPC
	case UTS:
		return unix.CLONE_NEWUTS
	case PID:
		return unix.CLONE_NEWPID
	case Mnt:
		return unix.CLONE_NEWNS
	default:
		return 0
	}
}
