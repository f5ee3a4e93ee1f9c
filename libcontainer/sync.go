package libcontainer

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// syncMsgType tags the small messages exchanged over the sync channel
// between parent, intermediate and init, per spec.md §4.6.
type syncMsgType string

const (
	msgProcReady   syncMsgType = "ProcReady"
	msgRootfsDone  syncMsgType = "RootfsDone"
	msgNeedConfig  syncMsgType = "NeedConfig"
	msgConfigAck   syncMsgType = "ConfigAck"
	msgExecFailed  syncMsgType = "ExecFailed"
	msgPid         syncMsgType = "Pid"
	msgEarlyExit   syncMsgType = "EarlyExit"
)

// syncMsg is the wire shape for every sync channel message. Only the
// fields relevant to Type are populated; unused fields are omitted.
type syncMsg struct {
	Type  syncMsgType `json:"type"`
	Errno int         `json:"errno,omitempty"`
	Pid   int         `json:"pid,omitempty"`
	Status int        `json:"status,omitempty"`
}

// defaultSyncDeadline bounds every blocking sync channel read, per
// spec.md §4.6 ("default 30s").
const defaultSyncDeadline = 30 * time.Second

// syncSocketpair creates an AF_UNIX SOCK_SEQPACKET socketpair for use as
// a sync channel leg. SOCK_SEQPACKET preserves message boundaries so
// each write/read corresponds to exactly one JSON-encoded syncMsg, with
// no length framing required.
func syncSocketpair() (parent, child *os.File, err error) {
	// SOCK_NONBLOCK lets os.NewFile register the fds with the runtime
	// poller; without it SetReadDeadline is rejected on these files.
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, nil, NewError(ErrIoFailure, "socketpair", err)
	}
	parent = os.NewFile(uintptr(fds[0]), "sync-parent")
	child = os.NewFile(uintptr(fds[1]), "sync-child")
	return parent, child, nil
}

// writeSyncMsg marshals and writes one message to the channel.
func writeSyncMsg(f *os.File, msg syncMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return NewError(ErrIoFailure, "marshal sync message", err)
	}
	if _, err := f.Write(data); err != nil {
		return NewError(ErrIoFailure, "write sync message", err)
	}
	return nil
}

// readSyncMsg reads and unmarshals the next message from the channel,
// failing if none arrives within deadline. A deadline of 0 clears any
// earlier deadline on f and waits without bound.
func readSyncMsg(f *os.File, deadline time.Duration) (syncMsg, error) {
	var until time.Time
	if deadline > 0 {
		until = time.Now().Add(deadline)
	}
	if err := f.SetReadDeadline(until); err != nil {
		return syncMsg{}, NewError(ErrIoFailure, "set sync read deadline", err)
	}
	buf := make([]byte, 4096)
	n, err := f.Read(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return syncMsg{}, NewError(ErrSyncTimeout, "read sync message", err)
		}
		return syncMsg{}, NewError(ErrIoFailure, "read sync message", err)
	}
	var msg syncMsg
	if err := json.Unmarshal(buf[:n], &msg); err != nil {
		return syncMsg{}, NewError(ErrIoFailure, "unmarshal sync message", err)
	}
	return msg, nil
}

// expectSyncMsg reads the next message and requires it to have the given
// type. An ExecFailed or EarlyExit message becomes the matching
// ExecFailed or ChildCrashed *Error; any other unexpected type is a
// *Error(ErrChildCrashed) describing the mismatch.
func expectSyncMsg(f *os.File, want syncMsgType, deadline time.Duration) (syncMsg, error) {
	msg, err := readSyncMsg(f, deadline)
	if err != nil {
		return msg, err
	}
	switch msg.Type {
	case want:
		return msg, nil
	case msgExecFailed:
		return msg, NewExecFailed(msg.Errno)
	case msgEarlyExit:
		return msg, NewChildCrashed("init", msg.Status)
	default:
		return msg, NewError(ErrChildCrashed, "sync protocol",
			errors.Errorf("expected %s, got %s", want, msg.Type))
	}
}

func sendProcReady(f *os.File) error  { return writeSyncMsg(f, syncMsg{Type: msgProcReady}) }
func sendRootfsDone(f *os.File) error { return writeSyncMsg(f, syncMsg{Type: msgRootfsDone}) }
func sendNeedConfig(f *os.File) error { return writeSyncMsg(f, syncMsg{Type: msgNeedConfig}) }
func sendConfigAck(f *os.File) error  { return writeSyncMsg(f, syncMsg{Type: msgConfigAck}) }
func sendPid(f *os.File, pid int) error {
	return writeSyncMsg(f, syncMsg{Type: msgPid, Pid: pid})
}
func sendExecFailed(f *os.File, errno int) error {
	return writeSyncMsg(f, syncMsg{Type: msgExecFailed, Errno: errno})
}
func sendEarlyExit(f *os.File, status int) error {
	return writeSyncMsg(f, syncMsg{Type: msgEarlyExit, Status: status})
}

// recvPid waits for the Pid message (intermediate -> parent, step 7 of
// spec.md §4.7).
func recvPid(f *os.File, deadline time.Duration) (int, error) {
	msg, err := expectSyncMsg(f, msgPid, deadline)
	if err != nil {
		return 0, err
	}
	return msg.Pid, nil
}

// sendFD passes an open file descriptor across the sync channel using
// SCM_RIGHTS. Nothing in this tree calls it: the launchers hand the
// already-open PTY replica to their children through cmd.ExtraFiles
// instead. Passing an open fd rather than a path matters because the
// init process mounts its own devpts instance inside the container
// (spec.md §4.4 step 3, "newinstance"), where a path into the parent's
// devpts cannot be resolved. Mirrors the teacher's own
// recvSeccompFd/cmsg dance in process_linux.go, just for a different fd.
func sendFD(f *os.File, fd int) error {
	rights := unix.UnixRights(fd)
	return unix.Sendmsg(int(f.Fd()), []byte{0}, rights, nil, 0)
}

// writeConfigBlob and readConfigBlob carry the user command's Spec
// (argv/env/cwd/tty) across a sync channel leg as a single JSON write,
// separate from the small tagged syncMsg values above because its size
// is unbounded by comparison (matches the teacher's own split between
// tiny sync messages and a full initConfig blob).
func writeConfigBlob(f *os.File, spec *Spec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return NewError(ErrIoFailure, "marshal config blob", err)
	}
	if _, err := f.Write(data); err != nil {
		return NewError(ErrIoFailure, "write config blob", err)
	}
	return nil
}

func readConfigBlob(f *os.File, deadline time.Duration) (*Spec, error) {
	if deadline > 0 {
		if err := f.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return nil, NewError(ErrIoFailure, "set config read deadline", err)
		}
	}
	buf := make([]byte, 65536)
	n, err := f.Read(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, NewError(ErrSyncTimeout, "read config blob", err)
		}
		return nil, NewError(ErrIoFailure, "read config blob", err)
	}
	var spec Spec
	if err := json.Unmarshal(buf[:n], &spec); err != nil {
		return nil, NewError(ErrIoFailure, "unmarshal config blob", err)
	}
	return &spec, nil
}

// recvFD is the receiving half of sendFD.
func recvFD(f *os.File) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := unix.Recvmsg(int(f.Fd()), buf, oob, 0)
	if err != nil {
		return -1, NewError(ErrIoFailure, "recvmsg fd", err)
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(msgs) != 1 {
		return -1, NewError(ErrIoFailure, "parse control message", err)
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil || len(fds) != 1 {
		return -1, NewError(ErrIoFailure, "parse unix rights", err)
	}
	return fds[0], nil
}

