// +build linux

package libcontainer

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/runcellio/runcell/libcontainer/fifo"
	"github.com/runcellio/runcell/libcontainer/namespace"
	"github.com/runcellio/runcell/libcontainer/rootfs"
	"github.com/runcellio/runcell/libcontainer/utils"
)

// IsBootstrap reports whether this process invocation is a re-exec of
// itself for the intermediate or init stage (spec.md §4.7), as opposed
// to an ordinary CLI invocation. main() must check this before
// constructing the CLI app, mirroring how runc's own main() special-
// cases its "init" re-exec ahead of any flag parsing.
func IsBootstrap() bool {
	return len(os.Args) > 1 && os.Args[1] == bootstrapArg
}

// RunBootstrap dispatches to the intermediate or init stage based on
// _RUNCELL_STAGE and never returns: both stages end the process, either
// via a successful execve into the user's command or os.Exit on error.
func RunBootstrap() {
	runtime.LockOSThread()

	switch os.Getenv(envStage) {
	case stageIntermediate:
		runIntermediateStage()
	case stageInit:
		runInitStage()
	default:
		fmt.Fprintln(os.Stderr, "runcell: bootstrap invoked with unknown stage")
		os.Exit(1)
	}
	os.Exit(0)
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// runIntermediateStage is process I: it unshares the requested
// namespaces (spec.md §4.2), forks the init process into them, relays
// the sync protocol between parent and init, and resolves the run-vs-
// create execve gate (spec.md §9 open question (a)).
func runIntermediateStage() {
	log := logStage("intermediate")

	toParent := os.NewFile(uintptr(mustAtoi(os.Getenv(envSyncFD))), "sync-to-parent")

	containerID := os.Getenv(envContainer)
	rootfsPath := os.Getenv(envRootfs)
	hostname := os.Getenv(envHostname)
	gate := GateMode(os.Getenv(envGate))
	bundlePath := os.Getenv(envBundle)
	nsKinds := splitKinds(os.Getenv(envNamespaces))

	var ptyReplica *os.File
	if v := os.Getenv(envPtyFD); v != "" {
		ptyReplica = os.NewFile(uintptr(mustAtoi(v)), "pty-replica")
	}

	fail := func(err error) {
		log.WithError(err).Error("intermediate stage failed")
		sendEarlyExit(toParent, 1)
		os.Exit(1)
	}

	// Unshare now: any namespace requiring CLONE_NEWPID only affects
	// processes forked after this call, so init (forked next) becomes
	// PID 1 in the new PID namespace while this process stays outside
	// it, exactly as spec.md §4.2 requires.
	if err := namespace.Create(nsKinds); err != nil {
		fail(NewError(ErrIsolationFailure, "unshare namespaces", err))
		return
	}

	exe, err := selfExe()
	if err != nil {
		fail(err)
		return
	}

	icParent, icChild, err := syncSocketpair()
	if err != nil {
		fail(err)
		return
	}

	extraFiles := []*os.File{icChild}
	childPtyFD := 0
	if ptyReplica != nil {
		extraFiles = append(extraFiles, ptyReplica)
		childPtyFD = 4
	}

	cmd := exec.Command(exe, bootstrapArg)
	cmd.ExtraFiles = extraFiles
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", envStage, stageInit),
		fmt.Sprintf("%s=%d", envSyncFD, 3),
		fmt.Sprintf("%s=%s", envContainer, containerID),
		fmt.Sprintf("%s=%s", envRootfs, rootfsPath),
		fmt.Sprintf("%s=%s", envHostname, hostname),
		fmt.Sprintf("%s=%s", envGate, gate),
		fmt.Sprintf("%s=%s", envBundle, bundlePath),
	)
	if childPtyFD != 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", envPtyFD, childPtyFD))
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	if err := cmd.Start(); err != nil {
		fail(NewError(ErrChildCrashed, "start init", err))
		return
	}
	icChild.Close()
	if ptyReplica != nil {
		ptyReplica.Close()
	}

	// Step 7: report init's host-visible PID to the parent. No separate
	// pidFirstChild double-fork dance is needed here (unlike the
	// cgo/nsenter-based teacher): since this process spawns init
	// directly via os/exec without an extra internal fork, its
	// cmd.Process.Pid already is init's real, host-visible PID.
	if err := sendPid(toParent, cmd.Process.Pid); err != nil {
		log.WithError(err).Error("failed to report init pid")
	}

	// init reports RootfsDone before it asks for its config.
	if _, err := expectSyncMsg(icParent, msgRootfsDone, defaultSyncDeadline); err != nil {
		fail(err)
		return
	}
	if _, err := expectSyncMsg(icParent, msgNeedConfig, defaultSyncDeadline); err != nil {
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
	if err := writeConfigBlob(icParent, spec); err != nil {
		fail(err)
		return
	}

	if _, err := expectSyncMsg(icParent, msgProcReady, defaultSyncDeadline); err != nil {
		fail(err)
		return
	}
	if err := sendProcReady(toParent); err != nil {
		log.WithError(err).Error("failed to relay ProcReady")
	}

	switch gate {
	case GateAck:
		if _, err := expectSyncMsg(toParent, msgConfigAck, defaultSyncDeadline); err != nil {
			fail(err)
			return
		}
	case GateFifo:
		// create/start: the parent has already returned. Block here,
		// inside the container's namespaces' lifetime but outside them
		// ourselves, until a later `start` opens bundle/exec.fifo
		// (spec.md §4.7 step 7, §4.8).
		fifoPath := bundlePath + "/" + fifo.Name
		if err := fifo.WaitForOpener(fifoPath); err != nil {
			fail(NewError(ErrIoFailure, "wait on exec fifo", err))
			return
		}
		if err := markRunning(containerID); err != nil {
			log.WithError(err).Warn("failed to persist Running state after fifo release")
		}
	}
	if err := sendConfigAck(icParent); err != nil {
		fail(err)
		return
	}

	// Foreground completion: wait for init to exit and forward its
	// status to the parent (spec.md §4.7 step 9). Detached callers
	// never call Launcher.Wait, so writing to a parent that already
	// went away is harmless (EPIPE, logged and ignored).
	state, waitErr := cmd.Process.Wait()
	status := 1
	if waitErr == nil && state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok {
			status = ws.ExitStatus()
			if ws.Signaled() {
				status = 128 + int(ws.Signal())
			}
		}
	}
	if err := sendEarlyExit(toParent, status); err != nil {
		log.WithError(err).Debug("failed to report final exit status (parent likely detached)")
	}
}

// runInitStage is process C: PID 1 of the new PID namespace. It
// prepares the rootfs, attaches its controlling terminal if any,
// receives the user command's Spec, waits for the execve gate, then
// replaces its own image with the user's command (spec.md §4.4, §4.7).
func runInitStage() {
	log := logStage("init")

	toParent := os.NewFile(uintptr(mustAtoi(os.Getenv(envSyncFD))), "sync-to-intermediate")
	rootfsPath := os.Getenv(envRootfs)
	hostname := os.Getenv(envHostname)

	var ptyFD int
	if v := os.Getenv(envPtyFD); v != "" {
		ptyFD = mustAtoi(v)
	}

	fail := func(err error) {
		log.WithError(err).Error("init stage failed")
		sendEarlyExit(toParent, 1)
		os.Exit(1)
	}

	if hostname != "" {
		if err := unix.Sethostname([]byte(hostname)); err != nil {
			fail(NewError(ErrIsolationFailure, "sethostname", err))
			return
		}
	}

	if err := rootfs.Prepare(rootfsPath); err != nil {
		fail(NewError(ErrIsolationFailure, "prepare rootfs", err))
		return
	}
	sendRootfsDone(toParent)

	if ptyFD != 0 {
		if err := attachControllingTerminal(ptyFD); err != nil {
			fail(NewError(ErrIsolationFailure, "attach controlling terminal", err))
			return
		}
	}

	// Environment hygiene: everything this stage still needs (the user
	// command's argv/env/cwd) arrives over the sync channel instead,
	// precisely so it does not need to survive in envp.
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
	// No deadline: GateFifo may leave this pending indefinitely until a
	// separate `start` invocation runs (spec.md §4.8).
	if _, err := expectSyncMsg(toParent, msgConfigAck, 0); err != nil {
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
	// exec.LookPath resolves against the calling process's own PATH, not
	// spec.Env's — set it here (env was wiped above) so lookup uses the
	// container command's PATH rather than whatever runcell itself had.
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

// attachControllingTerminal makes the PTY replica at fd the process's
// controlling terminal and wires it to stdio (spec.md §4.5 step 2).
func attachControllingTerminal(fd int) error {
	if _, err := unix.Setsid(); err != nil {
		return err
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCSCTTY, 0); err != nil {
		return err
	}
	for stdFD := 0; stdFD < 3; stdFD++ {
		if err := unix.Dup2(fd, stdFD); err != nil {
			return err
		}
	}
	if fd > 2 {
		unix.Close(fd)
	}
	return nil
}

// markRunning flips a container's persisted state from Created to
// Running once the exec.fifo gate releases it. Runs inside the
// intermediate process, which still has an ordinary view of the
// filesystem (the state directory lives outside any container
// namespace), so it can use the State Store directly.
func markRunning(containerID string) error {
	store := NewStore()
	st, err := store.Load(containerID)
	if err != nil {
		return err
	}
	st.Status = StatusRunning
	return store.Save(st)
}
