package cmd

import (
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/containerkit/netcore/pkg/childinit"
)

// ReexecMarker is the argv[1] value pkg/launcher re-execs the binary
// with; main checks for it before cobra ever parses flags, since this
// path is the clone(2)+execve(2) child's own startup, not a
// user-invoked subcommand (spec §4.7/§4.8).
const ReexecMarker = "__containerkit_init__"

// RunReexec dispatches to pkg/childinit and never returns on success
// (ChildExec replaces the process image). When childinit.Run fails it
// exits non-zero after childinit has reported the error over the
// control socket; when the config cannot be rebuilt from the
// environment it logs the error and exits non-zero without a report.
//
// A QuadroFork task's self re-exec lands here twice: once as the
// ordinary child-init invocation (argv[1] == ReexecMarker only), and
// once more as the portoinit stand-in spawned by
// pkg/childinit.spawnPortoinit (argv[2] == childinit.WaitFlag, argv[3]
// the pid to wait on). The latter never had a control socket or
// CONTAINERKIT_* env set up for it, so it must not fall through to
// childinit.FromEnviron.
func RunReexec() {
	if len(os.Args) > 2 && os.Args[2] == childinit.WaitFlag {
		runPortoinitWait()
		return
	}

	cfg, err := childinit.FromEnviron()
	if err != nil {
		log.Error().Err(err).Msg("failed to reconstruct child-init config")
		os.Exit(1)
	}
	if err := childinit.Run(cfg); err != nil {
		os.Exit(1)
	}
}

func runPortoinitWait() {
	if len(os.Args) < 4 {
		log.Error().Msg("portoinit --wait requires a pid argument")
		os.Exit(1)
	}
	pid, err := strconv.Atoi(os.Args[3])
	if err != nil {
		log.Error().Err(err).Str("arg", os.Args[3]).Msg("invalid pid for portoinit --wait")
		os.Exit(1)
	}
	if err := childinit.RunPortoinitWait(pid); err != nil {
		log.Error().Err(err).Msg("portoinit --wait failed")
		os.Exit(1)
	}
	os.Exit(0)
}
