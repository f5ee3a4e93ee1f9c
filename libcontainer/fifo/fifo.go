// Package fifo implements the create/start synchronization gate from
// spec.md §4.7 step 7 and §4.8 ("create still blocks the intermediate on
// a FIFO at bundle/exec.fifo that start opens to unblock it").
package fifo

import (
	"os"

	"golang.org/x/sys/unix"
)

// Name is the fixed filename within the bundle directory (spec.md §6).
const Name = "exec.fifo"

// Create makes the named pipe. Called by the Lifecycle Coordinator
// before launching the intermediate process for `create`/`run`.
func Create(path string) error {
	if err := unix.Mkfifo(path, 0o622); err != nil && err != unix.EEXIST {
		return err
	}
	return nil
}

// WaitForOpener blocks the calling process (the intermediate, inside
// the container's namespaces) until a writer opens path, i.e. until
// `start` runs Open below. Opening a FIFO for read-only blocks until a
// writer appears, which is exactly the gate spec.md describes.
func WaitForOpener(path string) error {
	f, err := os.OpenFile(path, os.O_RDONLY, os.ModeNamedPipe)
	if err != nil {
		return err
	}
	// Read (and discard) the single byte Open writes, then close. The
	// writer's open was already released by this read-only open; reading
	// the byte ensures we don't return before the writer has written.
	buf := make([]byte, 1)
	f.Read(buf)
	return f.Close()
}

// Open is called by `start`: opening for write unblocks the reader in
// WaitForOpener, which is the signal the intermediate process is gated
// on before letting init proceed to execve.
func Open(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, os.ModeNamedPipe)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte{0})
	return err
}

// Remove deletes the fifo; part of bundle cleanup (spec.md §3
// invariant 2), called implicitly when the bundle directory is removed,
// kept here only for tests that want to clean up without removing the
// whole bundle.
func Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
