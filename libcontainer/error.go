package libcontainer

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrKind is the error taxonomy from the design: each lifecycle failure
// is tagged with one of these so callers (and the CLI) can react to the
// failure class without parsing strings.
type ErrKind int

const (
	// ErrInvalidArgument covers a bad container ID, missing rootfs, or an
	// unknown image scheme.
	ErrInvalidArgument ErrKind = iota
	// ErrNotFound covers a missing state or bundle for an operation that
	// requires one.
	ErrNotFound
	// ErrAlreadyExists covers creating an ID whose state file already
	// exists.
	ErrAlreadyExists
	// ErrIsolationFailure covers unshare/setns/pivot_root/mount failures.
	ErrIsolationFailure
	// ErrCgroupFailure covers cgroup mkdir/write failures.
	ErrCgroupFailure
	// ErrExecFailed covers an execve failure reported by init across the
	// sync channel.
	ErrExecFailed
	// ErrSyncTimeout covers a sync channel deadline exceeded.
	ErrSyncTimeout
	// ErrIoFailure covers file or socket I/O failures.
	ErrIoFailure
	// ErrChildCrashed covers an intermediate or init process dying before
	// completing the handshake.
	ErrChildCrashed
	// ErrInvalidState covers an operation attempted against a container
	// whose status does not support it (e.g. exec against Created).
	ErrInvalidState
)

func (k ErrKind) String() string {
	switch k {
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrIsolationFailure:
		return "IsolationFailure"
	case ErrCgroupFailure:
		return "CgroupFailure"
	case ErrExecFailed:
		return "ExecFailed"
	case ErrSyncTimeout:
		return "SyncTimeout"
	case ErrIoFailure:
		return "IoFailure"
	case ErrChildCrashed:
		return "ChildCrashed"
	case ErrInvalidState:
		return "InvalidState"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy-tagged error carrying the underlying cause. Errors
// crossing the sync channel (ExecFailed, ChildCrashed) also carry a raw
// status so the coordinator can compute exit codes per spec.md §6.
type Error struct {
	Kind   ErrKind
	Step   string
	Status int
	cause  error
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Step, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Cause implements github.com/pkg/errors' Causer so %+v chains still
// print the full stack captured at wrap time.
func (e *Error) Cause() error { return e.cause }

// NewError wraps cause with kind and an optional step label describing
// which bootstrap stage failed (used heavily by the namespace/rootfs/
// cgroup controllers to satisfy IsolationFailure's "which step"
// requirement).
func NewError(kind ErrKind, step string, cause error) *Error {
	if cause == nil {
		cause = errors.New(kind.String())
	}
	return &Error{Kind: kind, Step: step, cause: errors.WithStack(cause)}
}

// NewExecFailed builds an ExecFailed error carrying the errno reported by
// the init process across the sync channel.
func NewExecFailed(errno int) *Error {
	return &Error{
		Kind:   ErrExecFailed,
		Status: errno,
		cause:  fmt.Errorf("execve failed with errno %d", errno),
	}
}

// NewChildCrashed builds a ChildCrashed error from the wait status
// observed for an intermediate or init process that died mid-handshake.
func NewChildCrashed(who string, status int) *Error {
	return &Error{
		Kind:   ErrChildCrashed,
		Step:   who,
		Status: status,
		cause:  fmt.Errorf("%s exited with status %d before completing handshake", who, status),
	}
}

// KindOf extracts the taxonomy kind from err, if it (or something it
// wraps) is a *Error. Returns false otherwise.
func KindOf(err error) (ErrKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
