// Package childinit implements the steps that run inside the re-exec'd
// process before it becomes the configured command (spec §4.8
// ChildConfigurator and ChildExec), plus the spec §4.9 autoconf wait
// that follows exec-setup.
//
// Grounded on the teacher's explicit, sequential error-wrapped setup
// style (pkg/atomicni/plugin.go's Add/Del step lists), generalized from
// CNI-ADD bridge/veth steps to the spec's rlimit/sysctl/hostname/
// capability/exec sequence. QuadroFork's extra fork is realised as a
// second self re-exec rather than a raw fork(2) — see pkg/launcher's
// package doc for why Go cannot safely fork after runtime init.
package childinit

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unsafe"

	"github.com/mattn/go-shellwords"
	"github.com/moby/sys/capability"
	"github.com/rs/zerolog/log"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/containerkit/netcore/pkg/controlsock"
	"github.com/containerkit/netcore/pkg/nerr"
	"github.com/containerkit/netcore/pkg/nshandle"
)

// reexecMarker mirrors cmd.ReexecMarker/pkg/launcher's own copy (three
// independent copies of the same literal across the re-exec boundary's
// three participants: the supervisor that re-execs, main's dispatcher,
// and this package building the portoinit re-exec's argv). WaitFlag is
// the second argv word cmd.RunReexec checks to tell a QuadroFork
// portoinit invocation apart from a normal child-init one.
const reexecMarker = "__containerkit_init__"

// WaitFlag is the argv[2] value a QuadroFork-spawned portoinit stand-in
// is re-exec'd with, recognised by cmd.RunReexec to route to
// RunPortoinitWait instead of the normal configure+exec sequence.
const WaitFlag = "--wait"

// DeviceNode mirrors pkg/launcher.DeviceNode across the re-exec
// boundary (spec §4.8 step 4).
type DeviceNode struct {
	Path  string
	Type  rune
	Major uint32
	Minor uint32
	Mode  uint32
}

// MountSpec mirrors pkg/launcher.MountSpec across the re-exec boundary
// (spec §4.8 step 3's delegated mount setup).
type MountSpec struct {
	Source string
	Target string
	Fstype string
	Flags  uintptr
	Data   string
}

// Config is the fully resolved per-task configuration the supervisor
// encodes across the re-exec boundary (env vars + inherited fds).
type Config struct {
	Command  []string
	Hostname string
	Cwd      string

	Rlimits map[int]unix.Rlimit

	NewMountNS bool
	Sysctls    []string
	MountSetup []MountSpec

	ResolvConf string
	Uid, Gid   uint32
	AmbientCaps []uint

	QuadroFork    bool
	PortoinitPath string

	// NsFds maps a namespace kind (spec's IPC/UTS/NET/PID/MNT set, the
	// same names pkg/nshandle.Kind uses) to the fd inherited from the
	// supervisor via ExtraFiles, entered via setns before any other
	// ChildConfigurator step that could depend on being inside them.
	NsFds map[string]int

	Cgroups []string

	OomScoreAdj *int
	Nice        *int
	SchedPolicy *int
	SchedPrio   *int
	IOPrioClass *int
	IOPrioData  *int

	Devices []DeviceNode
	Umask   *int

	AutoconfInterfaces []string
	AutoconfTimeout    time.Duration

	Sock *controlsock.Conn
}

// nsEntryOrder is the order ChildConfigurator enters inherited
// namespace fds (spec §4.7 step 2: "enter IPC/UTS/NET/PID/MNT
// namespaces via fds"). PID must be entered before MNT so later mount
// operations see the right /proc.
var nsEntryOrder = []nshandle.Kind{nshandle.IPC, nshandle.UTS, nshandle.Net, nshandle.PID, nshandle.Mnt}

// FromEnviron reconstructs a Config from the env vars and inherited fd
// the supervisor set up in pkg/launcher.
func FromEnviron() (*Config, error) {
	cfg := &Config{
		Hostname:      os.Getenv("CONTAINERKIT_HOSTNAME"),
		PortoinitPath: os.Getenv("CONTAINERKIT_PORTOINIT"),
		NewMountNS:    os.Getenv("CONTAINERKIT_NEWMOUNTNS") == "true",
		QuadroFork:    os.Getenv("CONTAINERKIT_QUADROFORK") == "true",
	}
	if raw := os.Getenv("CONTAINERKIT_COMMAND"); raw != "" {
		cfg.Command = strings.Split(raw, "\x00")
	}
	if raw := os.Getenv("CONTAINERKIT_SYSCTLS"); raw != "" {
		cfg.Sysctls = strings.Split(raw, "\x00")
	}
	if raw, err := base64.StdEncoding.DecodeString(os.Getenv("CONTAINERKIT_RESOLVCONF")); err == nil {
		cfg.ResolvConf = string(raw)
	}
	if uid, err := strconv.ParseUint(os.Getenv("CONTAINERKIT_UID"), 10, 32); err == nil {
		cfg.Uid = uint32(uid)
	}
	if gid, err := strconv.ParseUint(os.Getenv("CONTAINERKIT_GID"), 10, 32); err == nil {
		cfg.Gid = uint32(gid)
	}
	cfg.AmbientCaps = decodeUints(os.Getenv("CONTAINERKIT_AMBIENT_CAPS"))

	rlimits, err := decodeRlimits(os.Getenv("CONTAINERKIT_RLIMITS"))
	if err != nil {
		return nil, err
	}
	cfg.Rlimits = rlimits

	nsFds, err := decodeNsFds(os.Getenv("CONTAINERKIT_NSFDS"))
	if err != nil {
		return nil, err
	}
	cfg.NsFds = nsFds

	if raw := os.Getenv("CONTAINERKIT_CGROUPS"); raw != "" {
		cfg.Cgroups = strings.Split(raw, "\x00")
	}
	cfg.OomScoreAdj = decodeOptInt(os.Getenv("CONTAINERKIT_OOM_SCORE_ADJ"))
	cfg.Nice = decodeOptInt(os.Getenv("CONTAINERKIT_NICE"))
	cfg.SchedPolicy, cfg.SchedPrio = decodeOptIntPair(os.Getenv("CONTAINERKIT_SCHED"))
	cfg.IOPrioClass, cfg.IOPrioData = decodeOptIntPair(os.Getenv("CONTAINERKIT_IOPRIO"))
	cfg.Umask = decodeOptInt(os.Getenv("CONTAINERKIT_UMASK"))

	devices, err := decodeDevices(os.Getenv("CONTAINERKIT_DEVICES"))
	if err != nil {
		return nil, err
	}
	cfg.Devices = devices

	mounts, err := decodeMounts(os.Getenv("CONTAINERKIT_MOUNTS"))
	if err != nil {
		return nil, err
	}
	cfg.MountSetup = mounts

	if raw := os.Getenv("CONTAINERKIT_AUTOCONF_IFACES"); raw != "" {
		cfg.AutoconfInterfaces = strings.Split(raw, "\x00")
	}
	if ms, err := strconv.ParseInt(os.Getenv("CONTAINERKIT_AUTOCONF_TIMEOUT_MS"), 10, 64); err == nil {
		cfg.AutoconfTimeout = time.Duration(ms) * time.Millisecond
	}

	sockFile := os.NewFile(3, "control-sock")
	if sockFile == nil {
		return nil, nerr.New(nerr.InvalidState, "control socket fd 3 not inherited")
	}
	cfg.Sock = controlsock.FromFile(sockFile)
	return cfg, nil
}

func decodeUints(raw string) []uint {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]uint, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 0)
		if err != nil {
			continue
		}
		out = append(out, uint(v))
	}
	return out
}

// decodeRlimits parses "resource:cur:max,resource:cur:max,..." as
// encoded by pkg/launcher.encodeRlimits.
func decodeRlimits(raw string) (map[int]unix.Rlimit, error) {
	if raw == "" {
		return nil, nil
	}
	out := map[int]unix.Rlimit{}
	for _, entry := range strings.Split(raw, ",") {
		fields := strings.Split(entry, ":")
		if len(fields) != 3 {
			return nil, nerr.New(nerr.InvalidData, "malformed rlimit entry %q", entry)
		}
		resource, err1 := strconv.Atoi(fields[0])
		cur, err2 := strconv.ParseUint(fields[1], 10, 64)
		max, err3 := strconv.ParseUint(fields[2], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, nerr.New(nerr.InvalidData, "malformed rlimit entry %q", entry)
		}
		out[resource] = unix.Rlimit{Cur: cur, Max: max}
	}
	return out, nil
}

// decodeNsFds parses "kind=index,kind=index,..." as encoded by
// pkg/launcher.encodeNsFds, translating the ExtraFiles index (1-based,
// since index 0 is the control socket at fd 3) into the actual fd
// number landed in this process (3 + index).
func decodeNsFds(raw string) (map[string]int, error) {
	if raw == "" {
		return nil, nil
	}
	out := map[string]int{}
	for _, entry := range strings.Split(raw, ",") {
		fields := strings.SplitN(entry, "=", 2)
		if len(fields) != 2 {
			return nil, nerr.New(nerr.InvalidData, "malformed nsfd entry %q", entry)
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, nerr.New(nerr.InvalidData, "malformed nsfd entry %q", entry)
		}
		out[fields[0]] = 3 + idx
	}
	return out, nil
}

func decodeOptInt(raw string) *int {
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func decodeOptIntPair(raw string) (*int, *int) {
	if raw == "" {
		return nil, nil
	}
	fields := strings.SplitN(raw, ":", 2)
	if len(fields) != 2 {
		return nil, nil
	}
	a, err1 := strconv.Atoi(fields[0])
	b, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return nil, nil
	}
	return &a, &b
}

func decodeDevices(raw string) ([]DeviceNode, error) {
	if raw == "" {
		return nil, nil
	}
	entries := strings.Split(raw, "\x00")
	out := make([]DeviceNode, 0, len(entries))
	for _, entry := range entries {
		fields := strings.Split(entry, ":")
		if len(fields) != 5 || len(fields[1]) != 1 {
			return nil, nerr.New(nerr.InvalidData, "malformed device entry %q", entry)
		}
		major, err1 := strconv.ParseUint(fields[2], 10, 32)
		minor, err2 := strconv.ParseUint(fields[3], 10, 32)
		mode, err3 := strconv.ParseUint(fields[4], 8, 32)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, nerr.New(nerr.InvalidData, "malformed device entry %q", entry)
		}
		out = append(out, DeviceNode{
			Path:  fields[0],
			Type:  rune(fields[1][0]),
			Major: uint32(major),
			Minor: uint32(minor),
			Mode:  uint32(mode),
		})
	}
	return out, nil
}

func decodeMounts(raw string) ([]MountSpec, error) {
	if raw == "" {
		return nil, nil
	}
	entries := strings.Split(raw, "\x00")
	out := make([]MountSpec, 0, len(entries))
	for _, entry := range entries {
		fields := strings.Split(entry, "\x1f")
		if len(fields) != 5 {
			return nil, nerr.New(nerr.InvalidData, "malformed mount entry %q", entry)
		}
		flags, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return nil, nerr.New(nerr.InvalidData, "malformed mount entry %q", entry)
		}
		out = append(out, MountSpec{
			Source: fields[0],
			Target: fields[1],
			Fstype: fields[2],
			Flags:  uintptr(flags),
			Data:   fields[4],
		})
	}
	return out, nil
}

// Run executes spec §4.8's ChildConfigurator sequence, ChildExec, and
// (grouped with ChildExec, per spec §4.9) the post-exec-setup autoconf
// wait. It never returns on success (ChildExec replaces the process
// image); on failure it reports the stage-2 error over the control
// socket and returns the error for the caller (cmd/) to translate into
// a process exit code.
func Run(cfg *Config) error {
	if err := configure(cfg); err != nil {
		reportFailure(cfg, err)
		return err
	}
	if err := exec_(cfg); err != nil {
		reportFailure(cfg, err)
		return err
	}
	return nil // unreachable on a successful exec; kept for clarity
}

// configure runs ChildConfigurator steps 1-10 (step 11, the container's
// own umask, happens immediately before exec in exec_) plus the
// namespace-entry, cgroup, and scheduling attributes the spec's
// supervisor-sequence step 2 assigns to the now-collapsed intermediary.
func configure(cfg *Config) error {
	runtime.LockOSThread() // setns(2) below must stick to this OS thread

	// WPid report+ack: the first pid/ack exchange Launch waits for.
	if err := cfg.Sock.SendPid(int32(os.Getpid())); err != nil {
		return err
	}
	if err := cfg.Sock.RecvAck(); err != nil {
		return err
	}

	if err := enterNamespaces(cfg); err != nil {
		return err
	}

	for resource, lim := range cfg.Rlimits {
		l := lim
		if err := unix.Setrlimit(resource, &l); err != nil {
			return nerr.Wrap(nerr.Unknown, int(err.(unix.Errno)), err, "setrlimit(%d)", resource)
		}
	}

	if _, err := unix.Setsid(); err != nil {
		if err != unix.EPERM { // already a session leader
			return nerr.Wrap(nerr.Unknown, int(err.(unix.Errno)), err, "setsid")
		}
	}
	unix.Umask(0)

	if err := attachCgroups(cfg.Cgroups); err != nil {
		return err
	}
	if err := applyScheduling(cfg); err != nil {
		return err
	}

	if cfg.NewMountNS {
		if err := applyMountSetup(cfg.MountSetup); err != nil {
			return err
		}
		for _, sysctl := range cfg.Sysctls {
			if err := applySysctl(sysctl); err != nil {
				return err
			}
		}
	}

	if err := createDeviceNodes(cfg.Devices); err != nil {
		return err
	}

	if err := writeResolvAndHostname(cfg); err != nil {
		return err
	}

	if cfg.Cwd != "" {
		if err := unix.Chdir(cfg.Cwd); err != nil {
			return nerr.Wrap(nerr.InvalidValue, int(err.(unix.Errno)), err, "chdir(%s)", cfg.Cwd)
		}
	}

	if cfg.QuadroFork {
		if err := spawnPortoinit(cfg); err != nil {
			return err
		}
	}

	if err := reportVPid(cfg); err != nil {
		return err
	}

	return applyCredentials(cfg)
}

// enterNamespaces calls setns(2) on every inherited namespace fd (spec
// §4.7 step 2's "enter IPC/UTS/NET/PID/MNT namespaces via fds"), in an
// order where PID lands before MNT so the pid namespace is already
// switched by the time any mount-setup step that reads /proc runs.
func enterNamespaces(cfg *Config) error {
	for _, kind := range nsEntryOrder {
		fd, ok := cfg.NsFds[string(kind)]
		if !ok {
			continue
		}
		if err := nshandle.FromFD(kind, fd).Enter(); err != nil {
			return err
		}
	}
	return nil
}

// attachCgroups joins the task's pid to every configured cgroup
// directory by writing to its cgroup.procs (spec §4.7 step 2's "attach
// to all configured cgroups"; cgroup controller logic itself is an
// external collaborator per the spec's scope, this just joins it).
func attachCgroups(cgroups []string) error {
	pid := strconv.Itoa(os.Getpid())
	for _, dir := range cgroups {
		path := dir + "/cgroup.procs"
		if err := os.WriteFile(path, []byte(pid), 0); err != nil {
			return nerr.Wrap(nerr.Unknown, 0, err, "attach to cgroup %s", dir)
		}
	}
	return nil
}

// applyScheduling writes oom_score_adj and applies setpriority(2),
// sched_setscheduler(2), and ioprio_set(2) (spec §4.7 step 2).
func applyScheduling(cfg *Config) error {
	if cfg.OomScoreAdj != nil {
		path := "/proc/self/oom_score_adj"
		if err := os.WriteFile(path, []byte(strconv.Itoa(*cfg.OomScoreAdj)), 0o644); err != nil {
			return nerr.Wrap(nerr.Unknown, 0, err, "write %s", path)
		}
	}
	if cfg.Nice != nil {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, *cfg.Nice); err != nil {
			return nerr.Wrap(nerr.Unknown, int(err.(unix.Errno)), err, "setpriority(%d)", *cfg.Nice)
		}
	}
	if cfg.SchedPolicy != nil && cfg.SchedPrio != nil {
		if err := schedSetscheduler(*cfg.SchedPolicy, *cfg.SchedPrio); err != nil {
			return err
		}
	}
	if cfg.IOPrioClass != nil && cfg.IOPrioData != nil {
		if err := ioprioSet(*cfg.IOPrioClass, *cfg.IOPrioData); err != nil {
			return err
		}
	}
	return nil
}

// schedParam mirrors struct sched_param's single int field, the only
// one sched_setscheduler(2) reads.
type schedParam struct {
	Priority int32
}

func schedSetscheduler(policy, prio int) error {
	param := schedParam{Priority: int32(prio)}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, uintptr(0), uintptr(policy), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return nerr.Wrap(nerr.Unknown, int(errno), errno, "sched_setscheduler(%d, %d)", policy, prio)
	}
	return nil
}

// ioprioSet calls ioprio_set(2) on the calling process, combining class
// and data the way the kernel's IOPRIO_PRIO_VALUE macro does.
func ioprioSet(class, data int) error {
	const ioprioWhoProcess = 1
	value := (class << 13) | (data & 0x1fff)
	_, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, uintptr(ioprioWhoProcess), uintptr(0), uintptr(value))
	if errno != 0 {
		return nerr.Wrap(nerr.Unknown, int(errno), errno, "ioprio_set(class=%d, data=%d)", class, data)
	}
	return nil
}

// applyMountSetup performs the delegated mount setup (spec §4.8 step
// 3): each entry is a plain mount(2) call, used for the bind mounts
// and remounts rootfs assembly needs once inside the new mount
// namespace.
func applyMountSetup(mounts []MountSpec) error {
	for _, m := range mounts {
		if err := unix.Mount(m.Source, m.Target, m.Fstype, uintptr(m.Flags), m.Data); err != nil {
			return nerr.Wrap(nerr.Unknown, int(err.(unix.Errno)), err, "mount(%s -> %s)", m.Source, m.Target)
		}
	}
	return nil
}

// createDeviceNodes makes the configured device-special files (spec
// §4.8 step 4) via mknod(2).
func createDeviceNodes(devices []DeviceNode) error {
	for _, d := range devices {
		var mode uint32
		switch d.Type {
		case 'c':
			mode = unix.S_IFCHR
		case 'b':
			mode = unix.S_IFBLK
		default:
			return nerr.New(nerr.InvalidValue, "unknown device type %q for %s", d.Type, d.Path)
		}
		dev := unix.Mkdev(d.Major, d.Minor)
		if err := unix.Mknod(d.Path, mode|d.Mode, int(dev)); err != nil {
			if err == unix.EEXIST {
				continue
			}
			return nerr.Wrap(nerr.Unknown, int(err.(unix.Errno)), err, "mknod(%s)", d.Path)
		}
	}
	return nil
}

// spawnPortoinit starts a second self re-exec standing in for
// QuadroFork's extra fork (spec §4.8 step 7): the process already
// running this configure() sequence is the one that goes on to report
// its VPid, apply credentials, and exec the task's command — it does
// not block or hand that off. The new process instead becomes
// portoinit, re-invoked with the same marker main already dispatches
// on plus WaitFlag and this process's pid, so cmd.RunReexec can route
// it to RunPortoinitWait rather than the normal childinit sequence.
// Its only job from here is to keep the pid namespace populated with a
// reaper while the task's own process runs; nothing here waits on it.
func spawnPortoinit(cfg *Config) error {
	if cfg.PortoinitPath == "" {
		return nerr.New(nerr.InvalidState, "QuadroFork requested but no portoinit path was supplied")
	}
	initProc := exec.Command(cfg.PortoinitPath, reexecMarker, WaitFlag, strconv.Itoa(os.Getpid()))
	initProc.Stdin, initProc.Stdout, initProc.Stderr = os.Stdin, os.Stdout, os.Stderr
	initProc.Env = os.Environ()
	initProc.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: unix.SIGKILL}

	if err := initProc.Start(); err != nil {
		return nerr.Wrap(nerr.Unknown, 0, err, "start portoinit --wait")
	}
	return nil
}

// RunPortoinitWait is cmd.RunReexec's QuadroFork branch: it never
// shells out to a real portoinit binary (none ships in this tree), it
// just blocks until the given pid exits, the same observable contract
// a "portoinit --wait <pid>" invocation would have, using pidfd_open(2)
// since the target is not this process's child and so cannot be
// waitpid(2)'d directly.
func RunPortoinitWait(pid int) error {
	fd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		return nerr.Wrap(nerr.Unknown, int(err.(unix.Errno)), err, "pidfd_open(%d)", pid)
	}
	defer unix.Close(fd)

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return nerr.Wrap(nerr.Unknown, int(err.(unix.Errno)), err, "poll pidfd for %d", pid)
	}
}

func reportVPid(cfg *Config) error {
	if err := cfg.Sock.SendPid(int32(os.Getpid())); err != nil {
		return err
	}
	return cfg.Sock.RecvAck()
}

func applyCredentials(cfg *Config) error {
	if err := writeLoginuid(cfg.Uid); err != nil {
		return err
	}
	if len(cfg.AmbientCaps) > 0 {
		if err := setCapabilities(cfg.AmbientCaps); err != nil {
			return err
		}
	}
	if cfg.Gid != 0 {
		if err := unix.Setgid(int(cfg.Gid)); err != nil {
			return nerr.Wrap(nerr.Permission, int(err.(unix.Errno)), err, "setgid(%d)", cfg.Gid)
		}
	}
	if cfg.Uid != 0 {
		if err := unix.Setuid(int(cfg.Uid)); err != nil {
			return nerr.Wrap(nerr.Permission, int(err.(unix.Errno)), err, "setuid(%d)", cfg.Uid)
		}
	}
	return nil
}

func writeLoginuid(uid uint32) error {
	f, err := os.OpenFile("/proc/self/loginuid", os.O_WRONLY, 0)
	if err != nil {
		if os.IsPermission(err) || os.IsNotExist(err) {
			return nil // best-effort: not every sandbox exposes a writable loginuid
		}
		return nerr.Wrap(nerr.Unknown, 0, err, "open /proc/self/loginuid")
	}
	defer f.Close()
	_, err = f.WriteString(strconv.FormatUint(uint64(uid), 10))
	return err
}

func applySysctl(kv string) error {
	parts := strings.SplitN(kv, "=", 2)
	if len(parts) != 2 {
		return nerr.New(nerr.InvalidData, "invalid sysctl entry %q", kv)
	}
	path := "/proc/sys/" + strings.ReplaceAll(strings.TrimSpace(parts[0]), ".", "/")
	return os.WriteFile(path, []byte(strings.TrimSpace(parts[1])), 0o644)
}

func writeResolvAndHostname(cfg *Config) error {
	if cfg.Hostname != "" {
		if err := unix.Sethostname([]byte(cfg.Hostname)); err != nil {
			return nerr.Wrap(nerr.Unknown, int(err.(unix.Errno)), err, "sethostname(%s)", cfg.Hostname)
		}
		if err := os.WriteFile("/etc/hostname", []byte(cfg.Hostname+"\n"), 0o644); err != nil {
			log.Warn().Err(err).Msg("failed to write /etc/hostname")
		}
	}
	if cfg.ResolvConf != "" {
		if err := os.WriteFile("/etc/resolv.conf", []byte(cfg.ResolvConf), 0o644); err != nil {
			log.Warn().Err(err).Msg("failed to write /etc/resolv.conf")
		}
	}
	return nil
}

// exec_ implements ChildExec: word-split the command per the spec's
// "wordexp the command string with NOCMD|UNDEF" step, resolve the
// executable, wait for autoconf (spec §4.9) to settle, apply the
// container's own umask (step 11), mark fds 3..255 close-on-exec (the
// control socket on fd 3 included, so its close at exec reaches the
// supervisor as an empty, successful error report), and execve.
func exec_(cfg *Config) error {
	if len(cfg.Command) == 0 {
		return nerr.New(nerr.InvalidValue, "no command configured")
	}

	argv := cfg.Command
	if len(argv) == 1 {
		words, err := shellwords.Parse(argv[0])
		if err != nil {
			return nerr.Wrap(nerr.ResourceNotAvailable, 0, err, "word-split command %q", argv[0])
		}
		argv = words
	}
	if len(argv) == 0 {
		return nerr.New(nerr.InvalidValue, "command word-split to nothing")
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nerr.Wrap(nerr.ContainerDoesNotExist, 0, err, "resolve executable %q", argv[0])
	}

	if err := waitAutoconf(cfg); err != nil {
		return err
	}

	if cfg.Umask != nil {
		unix.Umask(*cfg.Umask)
	} else {
		unix.Umask(0o022)
	}
	closeExtraFds()

	if err := syscall.Exec(path, argv, os.Environ()); err != nil {
		return nerr.Wrap(nerr.Unknown, int(err.(syscall.Errno)), err, "execve(%s)", path)
	}
	return nil
}

// waitAutoconf implements spec §4.9: after exec-setup, wait for every
// configured interface to acquire a global-scope IPv6 address via
// router advertisement, each bounded by AutoconfTimeout. A timeout is a
// hard failure for that interface.
func waitAutoconf(cfg *Config) error {
	if len(cfg.AutoconfInterfaces) == 0 {
		return nil
	}
	timeout := cfg.AutoconfTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	pending := make(map[string]bool, len(cfg.AutoconfInterfaces))
	for _, name := range cfg.AutoconfInterfaces {
		pending[name] = true
	}
	// an interface that already carries a global IPv6 address (e.g. one
	// that raced the subscription below) is already satisfied.
	for name := range pending {
		link, err := netlink.LinkByName(name)
		if err != nil {
			continue
		}
		if hasGlobalV6(link) {
			delete(pending, name)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	updates := make(chan netlink.AddrUpdate)
	done := make(chan struct{})
	defer close(done)
	if err := netlink.AddrSubscribe(updates, done); err != nil {
		return nerr.Wrap(nerr.Unknown, 0, err, "subscribe to address updates for autoconf")
	}

	deadline := time.After(timeout)
	for len(pending) > 0 {
		select {
		case u := <-updates:
			if !u.NewAddr || u.LinkAddress.IP.To4() != nil || !u.LinkAddress.IP.IsGlobalUnicast() {
				continue
			}
			link, err := netlink.LinkByIndex(u.LinkIndex)
			if err != nil {
				continue
			}
			delete(pending, link.Attrs().Name)
		case <-deadline:
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			return nerr.New(nerr.ResourceNotAvailable, "autoconf wait timed out for interfaces %v", names)
		}
	}
	return nil
}

func hasGlobalV6(link netlink.Link) bool {
	addrs, err := netlink.AddrList(link, unix.AF_INET6)
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if a.IP.IsGlobalUnicast() {
			return true
		}
	}
	return false
}

func closeExtraFds() {
	for fd := 3; fd < 256; fd++ {
		unix.CloseOnExec(fd)
	}
}

func reportFailure(cfg *Config, err error) {
	if cfg.Sock == nil {
		return
	}
	kind := nerr.KindOf(err)
	payload := controlsock.ErrorPayload{Kind: kind, Errno: errnoOf(err), Text: err.Error()}
	if sendErr := cfg.Sock.SendError(payload); sendErr != nil {
		log.Error().Err(sendErr).Msg("failed to report child-side error over control socket")
	}
}

func errnoOf(err error) int32 {
	if ne, ok := err.(*nerr.Error); ok {
		return int32(ne.Errno)
	}
	return 0
}

// setCapabilities raises the requested capabilities into the
// inheritable, permitted, ambient, bounding, and (non-root only)
// effective sets so they survive the upcoming setuid(2) and execve(2)
// (spec §4.8 step 9: "ambient, bound, then (non-root only) effective
// capabilities"). Grounded on moby/sys/capability, the maintained
// successor to syndtr/gocapability used by the container engines in
// the retrieval pack for this same capability dance.
func setCapabilities(caps []uint) error {
	c, err := capability.NewPid2(0)
	if err != nil {
		return nerr.Wrap(nerr.Unknown, 0, err, "load process capabilities")
	}
	if err := c.Load(); err != nil {
		return nerr.Wrap(nerr.Unknown, 0, err, "load process capabilities")
	}
	values := make([]capability.Cap, len(caps))
	for i, v := range caps {
		values[i] = capability.Cap(v)
	}

	// ambient requires the cap to already sit in both the inheritable
	// and permitted sets before the AMBIENT raise will succeed.
	ambientSets := capability.INHERITABLE | capability.PERMITTED | capability.AMBIENT
	c.Set(ambientSets, values...)
	if err := c.Apply(ambientSets); err != nil {
		return nerr.Wrap(nerr.Permission, 0, err, "apply ambient capabilities")
	}

	c.Set(capability.BOUNDING, values...)
	if err := c.Apply(capability.BOUNDING); err != nil {
		return nerr.Wrap(nerr.Permission, 0, err, "apply bounding capabilities")
	}

	if unix.Getuid() != 0 {
		c.Set(capability.EFFECTIVE, values...)
		if err := c.Apply(capability.EFFECTIVE); err != nil {
			return nerr.Wrap(nerr.Permission, 0, err, "apply effective capabilities")
		}
	}
	return nil
}
