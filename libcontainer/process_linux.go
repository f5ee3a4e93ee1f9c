// +build linux

package libcontainer

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/runcellio/runcell/libcontainer/namespace"
	"github.com/runcellio/runcell/libcontainer/system"
)

// GateMode selects how the init process's execve is released, resolving
// spec.md §9 open question (a): `run`/`create`+`start` share the same
// three-stage bootstrap, but differ in who produces the final go-ahead.
type GateMode string

const (
	// GateAck: the parent (still alive, foreground `run`) relays a real
	// ConfigAck down the sync channel as soon as it is ready.
	GateAck GateMode = "ack"
	// GateFifo: the parent has already returned (`create`); the
	// intermediate blocks on bundle/exec.fifo instead and manufactures
	// the ConfigAck itself once a later `start` opens the fifo.
	GateFifo GateMode = "fifo"
)

// bootstrap env var names. Only coordination data goes here — the user
// command's argv/env/cwd travel over the sync channel instead (see
// init_linux.go), because the init process calls os.Clearenv() for
// hygiene before it ever sees that data.
const (
	envStage      = "_RUNCELL_STAGE"
	envSyncFD     = "_RUNCELL_SYNCFD"
	envPtyFD      = "_RUNCELL_PTYFD"
	envContainer  = "_RUNCELL_ID"
	envRootfs     = "_RUNCELL_ROOTFS"
	envHostname   = "_RUNCELL_HOSTNAME"
	envGate       = "_RUNCELL_GATE"
	envBundle     = "_RUNCELL_BUNDLE"
	envNamespaces = "_RUNCELL_NAMESPACES"

	stageIntermediate = "intermediate"
	stageInit         = "init"

	bootstrapArg = "__runcell_bootstrap__"
)

// LaunchParams is everything the Lifecycle Coordinator already knows
// before the three-stage bootstrap begins.
type LaunchParams struct {
	ContainerID string
	BundlePath  string
	RootfsPath  string
	Hostname    string
	Namespaces  []namespace.Kind
	Gate        GateMode
	Spec        *Spec

	// PTYReplica, if non-nil, is handed to the init process so it can
	// become its controlling terminal (spec.md §4.5 step 2). Closed by
	// Launch once ownership has passed to the child processes.
	PTYReplica *os.File

	// Detach: when true, the intermediate's stdin, stdout and stderr
	// are /dev/null. It is not passed to the intermediate otherwise:
	// the intermediate still waits for init to exit and stays its
	// parent, so init is not reparented to host PID 1.
	Detach bool

	// OnPid is invoked once the intermediate reports init's host PID,
	// before the sync handshake proceeds further. Used by the
	// Lifecycle Coordinator to add the PID to the cgroup and persist
	// State{Status: Created} (spec.md §4.7 step 7, §4.3's host-side
	// cgroup placement tie-break).
	OnPid func(pid int) error
}

// LaunchResult is returned once the init PID is known and (for the ack
// gate / foreground path) the handshake has completed through ConfigAck.
type LaunchResult struct {
	InitPID        int
	StartTime      uint64
	NamespacePaths map[namespace.Kind]string

	intermediate *exec.Cmd
	exitStatus   *os.File // sp_PI parent end, kept open to read the final exit message
}

// Launcher drives the parent side of the three-stage bootstrap
// (spec.md §4.7).
type Launcher struct{}

func NewLauncher() *Launcher { return &Launcher{} }

func selfExe() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", NewError(ErrIoFailure, "resolve self executable", err)
	}
	return exe, nil
}

// Launch performs steps 1-7 of spec.md §4.7 from the parent's
// perspective: create the sync channel to the intermediate, spawn it,
// and carry the handshake through to either a real ConfigAck (GateAck)
// or the point where the intermediate takes over gating (GateFifo).
func (l *Launcher) Launch(p LaunchParams) (*LaunchResult, error) {
	exe, err := selfExe()
	if err != nil {
		return nil, err
	}

	spParent, spChild, err := syncSocketpair()
	if err != nil {
		return nil, err
	}

	extraFiles := []*os.File{spChild}
	ptyFD := 0
	if p.PTYReplica != nil {
		extraFiles = append(extraFiles, p.PTYReplica)
		ptyFD = 4
	}

	cmd := exec.Command(exe, bootstrapArg)
	cmd.ExtraFiles = extraFiles
	// Deliberately no Pdeathsig here: PR_SET_PDEATHSIG fires on ANY death
	// of this process, including the ordinary, successful exit `create`
	// and detached `run` both rely on (the parent returns control while
	// the intermediate and init keep running). A crash-safety net here
	// would kill every detached and created container the instant the
	// launching command's process exits.
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", envStage, stageIntermediate),
		fmt.Sprintf("%s=%d", envSyncFD, 3),
		fmt.Sprintf("%s=%s", envContainer, p.ContainerID),
		fmt.Sprintf("%s=%s", envRootfs, p.RootfsPath),
		fmt.Sprintf("%s=%s", envHostname, p.Hostname),
		fmt.Sprintf("%s=%s", envGate, p.Gate),
		fmt.Sprintf("%s=%s", envBundle, p.BundlePath),
		fmt.Sprintf("%s=%s", envNamespaces, joinKinds(p.Namespaces)),
	)
	if ptyFD != 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", envPtyFD, ptyFD))
	}
	switch {
	case p.Detach:
		devnull, _ := os.Open(os.DevNull)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = devnull, devnull, devnull
	case p.PTYReplica == nil:
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	}

	if err := cmd.Start(); err != nil {
		spParent.Close()
		return nil, NewError(ErrChildCrashed, "start intermediate", err)
	}
	// These fds are now owned by the intermediate; our copies must be
	// closed so reads on spParent reflect only the intermediate's writes
	// and EOF fires once it exits (spec.md §5's scoped-acquisition rule
	// applies to every socketpair end, not just the mutex-like ones).
	spChild.Close()
	if p.PTYReplica != nil {
		p.PTYReplica.Close()
	}

	res := &LaunchResult{intermediate: cmd, exitStatus: spParent}

	abort := func(err error) (*LaunchResult, error) {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}

	pid, err := recvPid(spParent, defaultSyncDeadline)
	if err != nil {
		return abort(err)
	}
	res.InitPID = pid

	if p.OnPid != nil {
		if err := p.OnPid(pid); err != nil {
			return abort(err)
		}
	}

	res.NamespacePaths = namespace.PathsFor(pid, p.Namespaces)

	// Relay the NeedConfig request: the init process asks (via the
	// intermediate) for the user command's Spec once it has cleared its
	// own environment and is ready for it (spec.md §4.7 steps 5-6).
	if err := l.serveConfig(spParent, p.Spec); err != nil {
		return abort(err)
	}

	if _, err := expectSyncMsg(spParent, msgProcReady, defaultSyncDeadline); err != nil {
		return abort(err)
	}

	st, err := system.StatPID(pid)
	if err != nil {
		return abort(NewError(ErrIsolationFailure, "stat init process", err))
	}
	res.StartTime = st.StartTime

	if p.Gate == GateAck {
		if err := sendConfigAck(spParent); err != nil {
			return abort(err)
		}
	}
	// GateFifo: the intermediate self-serves ConfigAck once `start`
	// opens the fifo; nothing more for the parent to do here.

	return res, nil
}

// serveConfig answers the intermediate's NeedConfig request with the
// Spec's JSON encoding, matching the teacher's own sendConfig/
// utils.WriteJSON pattern.
func (l *Launcher) serveConfig(spParent *os.File, spec *Spec) error {
	if _, err := expectSyncMsg(spParent, msgNeedConfig, defaultSyncDeadline); err != nil {
		return err
	}
	return writeConfigBlob(spParent, spec)
}

// Wait blocks for the intermediate to report the container's final exit
// status (spec.md §4.7 step 9, foreground path only — detached callers
// must not call Wait).
func (l *Launcher) Wait(res *LaunchResult) (int, error) {
	msg, err := readSyncMsg(res.exitStatus, 0)
	if err != nil {
		res.intermediate.Wait()
		return -1, err
	}
	res.intermediate.Wait()
	if msg.Type == msgExecFailed {
		return -1, NewExecFailed(msg.Errno)
	}
	return msg.Status, nil
}

// Signal forwards sig to the init process directly (used by the
// Lifecycle Coordinator's cancellation path, spec.md §5).
func Signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

func joinKinds(kinds []namespace.Kind) string {
	out := ""
	for i, k := range kinds {
		if i > 0 {
			out += ","
		}
		out += string(k)
	}
	return out
}

func splitKinds(s string) []namespace.Kind {
	if s == "" {
		return nil
	}
	var out []namespace.Kind
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, namespace.Kind(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

// logStage is a small helper so both bootstrap stages log consistently.
func logStage(stage string) *logrus.Entry {
	return logrus.WithField("stage", stage)
}
