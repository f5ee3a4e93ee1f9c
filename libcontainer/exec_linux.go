// +build linux

package libcontainer

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/runcellio/runcell/libcontainer/namespace"
	"github.com/runcellio/runcell/libcontainer/utils"
)

// exec's own bootstrap stages, parallel to the run/create stages in
// process_linux.go/init_linux.go but far smaller: no rootfs prep, no
// cgroup creation (the cgroup already exists), no fifo gating — exec is
// always released immediately. Still needs one more fork after the
// namespace join per spec.md §4.2 ("PID namespace join must precede any
// fork whose child should belong to that PID ns").
const (
	stageExecJoin   = "exec-join"
	stageExecTarget = "exec-target"
	execBootstrapArg = "__runcell_exec__"
)

// IsExecBootstrap reports whether this invocation is the re-exec used by
// ExecLauncher, distinct from the run/create bootstrap.
func IsExecBootstrap() bool {
	return len(os.Args) > 1 && os.Args[1] == execBootstrapArg
}

// RunExecBootstrap dispatches to the join-helper or target stage; like
// RunBootstrap it never returns.
func RunExecBootstrap() {
	runtime.LockOSThread()
	switch os.Getenv(envStage) {
	case stageExecJoin:
		runExecJoinStage()
	case stageExecTarget:
		runExecTargetStage()
	default:
		fmt.Fprintln(os.Stderr, "runcell: exec bootstrap invoked with unknown stage")
		os.Exit(1)
	}
	os.Exit(0)
}

// ExecParams describes one `exec` invocation (spec.md §4.8 exec).
type ExecParams struct {
	TargetPID  int
	Namespaces []namespace.Kind
	Spec       *Spec
	PTYReplica *os.File
	OnPid      func(pid int) error // cgroup AddPID for the new process
}

// ExecLauncher drives the caller side of the exec bootstrap.
type ExecLauncher struct{}

func NewExecLauncher() *ExecLauncher { return &ExecLauncher{} }

// Launch spawns the join helper, waits for it to fork the target, and
// carries the handshake through to the target's execve, then blocks
// until the target exits and returns its status (spec.md §4.8: "caller
// waits and forwards exit code").
func (l *ExecLauncher) Launch(p ExecParams) (int, error) {
	exe, err := selfExe()
	if err != nil {
		return -1, err
	}

	spParent, spChild, err := syncSocketpair()
	if err != nil {
		return -1, err
	}

	extraFiles := []*os.File{spChild}
	ptyFD := 0
	if p.PTYReplica != nil {
		extraFiles = append(extraFiles, p.PTYReplica)
		ptyFD = 4
	}

	cmd := exec.Command(exe, execBootstrapArg)
	cmd.ExtraFiles = extraFiles
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", envStage, stageExecJoin),
		fmt.Sprintf("%s=%d", envSyncFD, 3),
		fmt.Sprintf("_RUNCELL_TARGETPID=%d", p.TargetPID),
		fmt.Sprintf("_RUNCELL_EXEC_NS=%s", joinKinds(p.Namespaces)),
	)
	if ptyFD != 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", envPtyFD, ptyFD))
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	if err := cmd.Start(); err != nil {
		spParent.Close()
		return -1, NewError(ErrChildCrashed, "start exec-join helper", err)
	}
	spChild.Close()
	if p.PTYReplica != nil {
		p.PTYReplica.Close()
	}

	abort := func(err error) (int, error) {
		cmd.Process.Kill()
		cmd.Wait()
		return -1, err
	}

	pid, err := recvPid(spParent, defaultSyncDeadline)
	if err != nil {
		return abort(err)
	}
	if p.OnPid != nil {
		if err := p.OnPid(pid); err != nil {
			return abort(err)
		}
	}

	if _, err := expectSyncMsg(spParent, msgNeedConfig, defaultSyncDeadline); err != nil {
		return abort(err)
	}
	if err := writeConfigBlob(spParent, p.Spec); err != nil {
		return abort(err)
	}
	if _, err := expectSyncMsg(spParent, msgProcReady, defaultSyncDeadline); err != nil {
		return abort(err)
	}
	if err := sendConfigAck(spParent); err != nil {
		return abort(err)
	}

	msg, err := readSyncMsg(spParent, 0)
	cmd.Wait()
	if err != nil {
		return -1, err
	}
	if msg.Type == msgExecFailed {
		return -1, NewExecFailed(msg.Errno)
	}
	return msg.Status, nil
}

// runExecJoinStage is J: joins the target's namespaces, then forks the
// target process (K) so the PID-namespace join takes effect for it.
func runExecJoinStage() {
	runtime.LockOSThread()
	log := logStage("exec-join")

	toParent := os.NewFile(uintptr(mustAtoi(os.Getenv(envSyncFD))), "sync-to-parent")
	targetPID := mustAtoi(os.Getenv("_RUNCELL_TARGETPID"))
	nsKinds := splitKinds(os.Getenv("_RUNCELL_EXEC_NS"))

	var ptyReplica *os.File
	if v := os.Getenv(envPtyFD); v != "" {
		ptyReplica = os.NewFile(uintptr(mustAtoi(v)), "pty-replica")
	}

	fail := func(err error) {
		log.WithError(err).Error("exec-join stage failed")
		sendEarlyExit(toParent, 1)
		os.Exit(1)
	}

	if err := namespace.Join(targetPID, nsKinds); err != nil {
		fail(NewError(ErrIsolationFailure, "join namespaces", err))
		return
	}

	exe, err := selfExe()
	if err != nil {
		fail(err)
		return
	}

	jkParent, jkChild, err := syncSocketpair()
	if err != nil {
		fail(err)
		return
	}

	extraFiles := []*os.File{jkChild}
	childPtyFD := 0
	if ptyReplica != nil {
		extraFiles = append(extraFiles, ptyReplica)
		childPtyFD = 4
	}

	cmd := exec.Command(exe, execBootstrapArg)
	cmd.ExtraFiles = extraFiles
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", envStage, stageExecTarget),
		fmt.Sprintf("%s=%d", envSyncFD, 3),
	)
	if childPtyFD != 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", envPtyFD, childPtyFD))
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	if err := cmd.Start(); err != nil {
		fail(NewError(ErrChildCrashed, "start exec target", err))
		return
	}
	jkChild.Close()
	if ptyReplica != nil {
		ptyReplica.Close()
	}

	if err := sendPid(toParent, cmd.Process.Pid); err != nil {
		log.WithError(err).Error("failed to report exec target pid")
	}

	if _, err := expectSyncMsg(jkParent, msgNeedConfig, defaultSyncDeadline); err != nil {
		fail(err)
		return
	}
	if err := sendNeedConfig(toParent); err != nil {
		fail(err)
		return
	}
	spec, err := readConfigBlob(toParent, defaultSyncDeadline)
	if err != nil {
		fail(err)
		return
	}
	if err := writeConfigBlob(jkParent, spec); err != nil {
		fail(err)
		return
	}
	if _, err := expectSyncMsg(jkParent, msgProcReady, defaultSyncDeadline); err != nil {
		fail(err)
		return
	}
	if err := sendProcReady(toParent); err != nil {
		log.WithError(err).Error("failed to relay ProcReady")
	}
	if _, err := expectSyncMsg(toParent, msgConfigAck, defaultSyncDeadline); err != nil {
		fail(err)
		return
	}
	if err := sendConfigAck(jkParent); err != nil {
		fail(err)
		return
	}

	state, waitErr := cmd.Process.Wait()
	status := 1
	if waitErr == nil && state != nil {
		status = state.ExitCode()
	}
	sendEarlyExit(toParent, status)
}

// runExecTargetStage is K: PID-namespace member (not PID 1), execves the
// requested command once released.
func runExecTargetStage() {
	log := logStage("exec-target")

	toParent := os.NewFile(uintptr(mustAtoi(os.Getenv(envSyncFD))), "sync-to-join-helper")

	var ptyFD int
	if v := os.Getenv(envPtyFD); v != "" {
		ptyFD = mustAtoi(v)
	}

	fail := func(err error) {
		log.WithError(err).Error("exec-target stage failed")
		sendEarlyExit(toParent, 1)
		os.Exit(1)
	}

	if ptyFD != 0 {
		if err := attachControllingTerminal(ptyFD); err != nil {
			fail(NewError(ErrIsolationFailure, "attach controlling terminal", err))
			return
		}
	}

	os.Clearenv()

	if err := sendNeedConfig(toParent); err != nil {
		fail(err)
		return
	}
	spec, err := readConfigBlob(toParent, defaultSyncDeadline)
	if err != nil {
		fail(err)
		return
	}
	if err := sendProcReady(toParent); err != nil {
		fail(err)
		return
	}
	if _, err := expectSyncMsg(toParent, msgConfigAck, defaultSyncDeadline); err != nil {
		fail(err)
		return
	}

	if spec.Cwd != "" {
		if err := unix.Chdir(spec.Cwd); err != nil {
			fail(NewError(ErrExecFailed, "chdir", err))
			return
		}
	}
	if err := utils.CloseExecFrom(3); err != nil {
		log.WithError(err).Warn("failed to mark high fds close-on-exec")
	}

	if len(spec.Argv) == 0 {
		fail(NewError(ErrInvalidArgument, "exec", fmt.Errorf("empty argv")))
		return
	}
	for _, kv := range spec.Env {
		if len(kv) > 5 && kv[:5] == "PATH=" {
			os.Setenv("PATH", kv[5:])
			break
		}
	}
	binary, err := exec.LookPath(spec.Argv[0])
	if err != nil {
		binary = spec.Argv[0]
	}
	if err := unix.Exec(binary, spec.Argv, spec.Env); err != nil {
		errno := 0
		if e, ok := err.(unix.Errno); ok {
			errno = int(e)
		}
		sendExecFailed(toParent, errno)
		os.Exit(1)
	}
}

