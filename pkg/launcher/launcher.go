// Package launcher implements the supervisor side of the task start
// protocol (spec §4.7 TaskLauncher): a fork/clone sequence that lands
// the configured command in its own namespace set, reporting progress
// back over a control socket pair.
//
// Go cannot raw-fork(2) a running multi-threaded process the way the
// spec's fork → (optional triple-fork) → clone choreography assumes
// (runtime goroutines and GC workers would be left in an inconsistent
// state in the child). Every Go container engine in the retrieval pack
// (the toy-docker example's internal/run.Run, grounded below) instead
// re-execs its own binary with os/exec's SysProcAttr.Cloneflags, which
// the kernel performs as a single clone(2) + execve(2): the stages the
// spec describes as happening "in the intermediary" and "in the clone
// child" collapse into the re-exec'd process's own startup path,
// implemented by pkg/childinit and dispatched from cmd/'s
// "__containerkit_init__" marker argument. This is documented as an Open
// Question resolution in DESIGN.md; pid/ack/error sequencing across
// the control socket pair is preserved exactly as specified.
package launcher

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/containerkit/netcore/pkg/controlsock"
	"github.com/containerkit/netcore/pkg/nerr"
)

const reexecMarker = "__containerkit_init__"

// TaskEnv describes one task launch (spec §4.7's TaskEnv).
type TaskEnv struct {
	Command []string
	Cwd     string
	Env     []string

	Hostname string

	Uid uint32
	Gid uint32

	Isolate    bool // NEWPID|NEWIPC
	NewMountNS bool // NEWNS
	NewUTSNS   bool // forced on regardless of Isolate when Hostname differs

	NsFds map[string]int // kind name -> fd, entered via setns before other ChildConfigurator steps

	QuadroFork bool
	// PortoinitPath is the re-exec'd binary's own path, passed through
	// so childinit's quadro-fork stand-in (a second self re-exec) can
	// invoke it again rather than needing a separate init binary.
	PortoinitPath string

	Rlimits     map[int]unix.Rlimit
	Sysctls     []string // "key=value", applied only when NewMountNS
	ResolvConf  string
	AmbientCaps []uint

	// Cgroups are absolute cgroup directory paths the task's pid is
	// attached to by writing to each "<path>/cgroup.procs".
	Cgroups []string

	OomScoreAdj *int
	Nice        *int
	SchedPolicy *int
	SchedPrio   *int
	IOPrioClass *int
	IOPrioData  *int

	Devices    []DeviceNode
	MountSetup []MountSpec

	// Umask is the container's own umask (step 11), applied right
	// before exec; distinct from the umask(0) ChildConfigurator step 2
	// always performs first.
	Umask *int

	AutoconfInterfaces []string
	AutoconfTimeout    time.Duration

	StartTimeoutMS int
	Stdin, Stdout, Stderr *os.File
}

// DeviceNode describes one device-special file ChildConfigurator
// creates before the container's command runs (spec §4.8 step 4).
type DeviceNode struct {
	Path        string
	Type        rune // 'c' (character) or 'b' (block)
	Major       uint32
	Minor       uint32
	Mode        uint32
}

// MountSpec is one bind/remount entry applied during mount setup (spec
// §4.8 step 3, "apply mount setup (delegated)").
type MountSpec struct {
	Source string
	Target string
	Fstype string
	Flags  uintptr
	Data   string
}

// Handle is a running launch: the reaped pid state and a reference to
// the control socket's supervisor end, kept open until Wait.
type Handle struct {
	WPid int32
	VPid int32
	cmd  *exec.Cmd
	master *controlsock.Conn
}

// Launch implements the supervisor sequence from spec §4.7 steps 1 and
// 6: create the control socket pair, start the re-exec'd child with
// the namespace/credential/priority attributes SysProcAttr can express
// directly, then run the pid/ack/error handshake.
func Launch(env *TaskEnv) (*Handle, error) {
	master, sock, err := controlsock.NewPair()
	if err != nil {
		return nil, err
	}

	self, err := os.Executable()
	if err != nil {
		master.Close()
		sock.Close()
		return nil, nerr.Wrap(nerr.Unknown, 0, err, "locate self executable for re-exec")
	}

	if env.PortoinitPath == "" {
		env.PortoinitPath = self
	}

	cmd := exec.Command(self, reexecMarker)
	cmd.Dir = env.Cwd
	cmd.Stdin = env.Stdin
	cmd.Stdout = env.Stdout
	cmd.Stderr = env.Stderr
	cmd.ExtraFiles = []*os.File{sockFile(sock)}

	nsEnv, nsFiles := encodeNsFds(env.NsFds)
	cmd.ExtraFiles = append(cmd.ExtraFiles, nsFiles...)
	cmd.Env = append(append(append([]string{}, env.Env...), encodeTaskEnv(env)...), nsEnv)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags(env),
		Setsid:     true,
		Pdeathsig:  unix.SIGKILL,
		Credential: &syscall.Credential{Uid: env.Uid, Gid: env.Gid},
	}

	if err := cmd.Start(); err != nil {
		master.Close()
		sock.Close()
		return nil, nerr.Wrap(nerr.Unknown, 0, err, "start re-exec'd child")
	}
	sock.Close() // the child's ExtraFiles copy keeps its fd open

	if env.StartTimeoutMS > 0 {
		if err := master.SetRecvTimeout(time.Duration(env.StartTimeoutMS) * time.Millisecond); err != nil {
			killAndWait(cmd)
			master.Close()
			return nil, err
		}
	}

	wpid, err := master.RecvPid()
	if err != nil {
		killAndWait(cmd)
		master.Close()
		return nil, nerr.Wrap(nerr.Unknown, 0, err, "recv WPid")
	}
	if err := master.SendAck(); err != nil {
		killAndWait(cmd)
		master.Close()
		return nil, err
	}

	vpid, err := master.RecvPid()
	if err != nil {
		killAndWait(cmd)
		master.Close()
		return nil, nerr.Wrap(nerr.Unknown, 0, err, "recv VPid")
	}
	if err := master.SendAck(); err != nil {
		killAndWait(cmd)
		master.Close()
		return nil, err
	}

	errPayload, err := master.RecvError()
	if err != nil {
		killAndWait(cmd)
		master.Close()
		return nil, nerr.Wrap(nerr.Unknown, 0, err, "recv stage-2 error")
	}
	if errPayload.Kind != nerr.Success {
		killAndWait(cmd)
		master.Close()
		return nil, nerr.Wrap(errPayload.Kind, int(errPayload.Errno), nil, "%s", errPayload.Text)
	}

	return &Handle{WPid: wpid, VPid: vpid, cmd: cmd, master: master}, nil
}

// Wait reaps the launched process and wraps an abnormal exit as an
// Unknown-kind error. It reads nothing from the control socket: a
// child-reported start error is returned by Launch, before a Handle
// exists.
func (h *Handle) Wait() error {
	defer h.master.Close()
	err := h.cmd.Wait()
	if err != nil {
		return nerr.Wrap(nerr.Unknown, 0, err, "task %d exited abnormally", h.WPid)
	}
	return nil
}

func killAndWait(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}
}

// cloneFlags implements spec §4.7 step 3's flag derivation.
func cloneFlags(env *TaskEnv) uintptr {
	var flags uintptr = unix.SIGCHLD
	if env.Isolate {
		flags |= unix.CLONE_NEWPID | unix.CLONE_NEWIPC
	}
	if env.NewMountNS {
		flags |= unix.CLONE_NEWNS
	}
	if env.NewUTSNS || env.Isolate {
		flags |= unix.CLONE_NEWUTS
	}
	return flags
}

// sockFile exposes the control socket's underlying *os.File for
// ExtraFiles; it always lands at fd 3 in the child (first ExtraFiles
// entry), which pkg/childinit reads back via controlsock.FromFile.
func sockFile(c *controlsock.Conn) *os.File {
	return os.NewFile(c.Fd(), "control-sock")
}

// encodeTaskEnv carries everything pkg/childinit's Config needs across
// the re-exec boundary as env vars — the only channel available once
// the child has replaced its own argv via SysProcAttr.
func encodeTaskEnv(env *TaskEnv) []string {
	out := []string{
		fmt.Sprintf("CONTAINERKIT_HOSTNAME=%s", env.Hostname),
		fmt.Sprintf("CONTAINERKIT_COMMAND=%s", joinNUL(env.Command)),
		fmt.Sprintf("CONTAINERKIT_UID=%d", env.Uid),
		fmt.Sprintf("CONTAINERKIT_GID=%d", env.Gid),
		fmt.Sprintf("CONTAINERKIT_NEWMOUNTNS=%t", env.NewMountNS),
		fmt.Sprintf("CONTAINERKIT_QUADROFORK=%t", env.QuadroFork),
		fmt.Sprintf("CONTAINERKIT_PORTOINIT=%s", env.PortoinitPath),
		fmt.Sprintf("CONTAINERKIT_SYSCTLS=%s", joinNUL(env.Sysctls)),
		fmt.Sprintf("CONTAINERKIT_RESOLVCONF=%s", base64.StdEncoding.EncodeToString([]byte(env.ResolvConf))),
		fmt.Sprintf("CONTAINERKIT_AMBIENT_CAPS=%s", joinUints(env.AmbientCaps)),
		fmt.Sprintf("CONTAINERKIT_RLIMITS=%s", encodeRlimits(env.Rlimits)),
		fmt.Sprintf("CONTAINERKIT_CGROUPS=%s", joinNUL(env.Cgroups)),
		fmt.Sprintf("CONTAINERKIT_OOM_SCORE_ADJ=%s", encodeOptInt(env.OomScoreAdj)),
		fmt.Sprintf("CONTAINERKIT_NICE=%s", encodeOptInt(env.Nice)),
		fmt.Sprintf("CONTAINERKIT_SCHED=%s", encodeOptIntPair(env.SchedPolicy, env.SchedPrio)),
		fmt.Sprintf("CONTAINERKIT_IOPRIO=%s", encodeOptIntPair(env.IOPrioClass, env.IOPrioData)),
		fmt.Sprintf("CONTAINERKIT_UMASK=%s", encodeOptInt(env.Umask)),
		fmt.Sprintf("CONTAINERKIT_DEVICES=%s", encodeDevices(env.Devices)),
		fmt.Sprintf("CONTAINERKIT_MOUNTS=%s", encodeMounts(env.MountSetup)),
		fmt.Sprintf("CONTAINERKIT_AUTOCONF_IFACES=%s", joinNUL(env.AutoconfInterfaces)),
		fmt.Sprintf("CONTAINERKIT_AUTOCONF_TIMEOUT_MS=%d", env.AutoconfTimeout.Milliseconds()),
	}
	return out
}

// encodeOptInt encodes an optional int as its decimal value, or the
// empty string when unset.
func encodeOptInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// encodeOptIntPair encodes a "policy:priority"-shaped pair (sched,
// ioprio), empty when either half is unset.
func encodeOptIntPair(a, b *int) string {
	if a == nil || b == nil {
		return ""
	}
	return fmt.Sprintf("%d:%d", *a, *b)
}

// encodeDevices serializes as NUL-joined "path:type:major:minor:mode"
// entries (spec §4.8 step 4).
func encodeDevices(devices []DeviceNode) string {
	parts := make([]string, len(devices))
	for i, d := range devices {
		parts[i] = fmt.Sprintf("%s:%c:%d:%d:%d", d.Path, d.Type, d.Major, d.Minor, d.Mode)
	}
	return joinNUL(parts)
}

// encodeMounts serializes as NUL-joined entries, each with unit-
// separator-delimited fields so paths may themselves contain colons
// (spec §4.8 step 3's delegated mount setup).
func encodeMounts(mounts []MountSpec) string {
	parts := make([]string, len(mounts))
	for i, m := range mounts {
		parts[i] = strings.Join([]string{m.Source, m.Target, m.Fstype, strconv.FormatUint(uint64(m.Flags), 10), m.Data}, "\x1f")
	}
	return joinNUL(parts)
}

func joinUints(vs []uint) string {
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += ","
		}
		out += strconv.FormatUint(uint64(v), 10)
	}
	return out
}

// encodeRlimits serializes as "resource:cur:max,resource:cur:max,...".
func encodeRlimits(rlimits map[int]unix.Rlimit) string {
	out := ""
	first := true
	for resource, lim := range rlimits {
		if !first {
			out += ","
		}
		first = false
		out += fmt.Sprintf("%d:%d:%d", resource, lim.Cur, lim.Max)
	}
	return out
}

func joinNUL(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\x00"
		}
		out += p
	}
	return out
}

// encodeNsFds appends each configured namespace fd to ExtraFiles (after
// the control socket at index 0) and returns a "kind=index" env
// variable so pkg/childinit knows which inherited fd to setns(2) into
// for each kind (spec §4.7 step 2).
func encodeNsFds(nsFds map[string]int) (string, []*os.File) {
	mapping := ""
	var files []*os.File
	i := 1 // index 0 is the control socket
	for kind, fd := range nsFds {
		if mapping != "" {
			mapping += ","
		}
		mapping += fmt.Sprintf("%s=%d", kind, i)
		files = append(files, os.NewFile(uintptr(fd), kind+"-ns"))
		i++
	}
	return "CONTAINERKIT_NSFDS=" + mapping, files
}
