// Package pty is the PTY Broker from spec.md §4.5: allocates a
// master/replica pair, puts the caller's TTY into raw mode, relays bytes
// in both directions, and forwards SIGWINCH.
package pty

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/containerd/console"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Broker owns one allocated PTY pair for the lifetime of a container's
// foreground attach.
type Broker struct {
	master      console.Console
	replicaPath string

	callerIsTTY bool
	callerCon   console.Console

	wg       sync.WaitGroup
	sigwinch chan os.Signal
}

// Open allocates a master/replica pair (spec.md §4.5 step 1-2).
func Open() (*Broker, error) {
	pty, replicaPath, err := console.NewPty()
	if err != nil {
		return nil, err
	}
	return &Broker{master: pty, replicaPath: replicaPath}, nil
}

// ReplicaPath is the replica device path. The caller opens it and hands
// the open file to the init process through the launcher's ExtraFiles,
// where it becomes the controlling terminal (spec.md §4.5 step 2).
func (b *Broker) ReplicaPath() string { return b.replicaPath }

// Master exposes the master side, e.g. so the caller can pass its fd
// directly instead of re-opening the replica path.
func (b *Broker) Master() console.Console { return b.master }

// AttachCallerStdin puts the caller's stdin into raw mode if it is
// itself a TTY, recording the original state for restore (spec.md §4.5
// step 3). Safe to call even when stdin is not a TTY (no-op then).
func (b *Broker) AttachCallerStdin() error {
	con, err := console.ConsoleFromFile(os.Stdin)
	if err != nil {
		// Not a TTY; caller stdin is a pipe/file, nothing to raw-mode.
		return nil
	}
	if err := con.SetRaw(); err != nil {
		return err
	}
	b.callerCon = con
	b.callerIsTTY = true
	return nil
}

// Restore undoes AttachCallerStdin's raw mode change. Safe to call
// multiple times and on every exit path (normal return, panic, signal),
// per spec.md §5's scoped-acquisition requirement for termios.
func (b *Broker) Restore() {
	if b.callerIsTTY && b.callerCon != nil {
		if err := b.callerCon.Reset(); err != nil {
			logrus.WithError(err).Warn("failed to restore caller terminal state")
		}
	}
}

// Close closes the master fd (spec.md §4.5 step 5 / detach-mode note).
func (b *Broker) Close() error {
	if b.sigwinch != nil {
		signal.Stop(b.sigwinch)
	}
	return b.master.Close()
}

// RunForeground spawns the two copy loops (caller stdin -> master,
// master -> caller stdout) and blocks until both copy loops have ended
// or ctx is canceled. EOF in one direction alone does not end the wait
// (spec.md §5 "reads from caller stdin and from the PTY master are
// independent and never starve each other").
func (b *Broker) RunForeground(ctx context.Context) {
	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		io.Copy(b.master, os.Stdin)
	}()
	go func() {
		defer b.wg.Done()
		io.Copy(os.Stdout, b.master)
	}()

	b.ForwardResize(ctx)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// ForwardResize starts a goroutine that forwards SIGWINCH on the caller
// to a TIOCSWINSZ on the master (spec.md §4.5 step 5), stopping when ctx
// is done.
func (b *Broker) ForwardResize(ctx context.Context) {
	b.sigwinch = make(chan os.Signal, 1)
	signal.Notify(b.sigwinch, unix.SIGWINCH)

	// Apply the caller's current size immediately so the container
	// starts with the right dimensions rather than waiting for the
	// first resize event.
	b.resizeOnce()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-b.sigwinch:
				if !ok {
					return
				}
				b.resizeOnce()
			}
		}
	}()
}

func (b *Broker) resizeOnce() {
	callerCon, err := console.ConsoleFromFile(os.Stdin)
	if err != nil {
		return
	}
	size, err := callerCon.Size()
	if err != nil {
		return
	}
	if err := b.master.Resize(size); err != nil {
		logrus.WithError(err).Debug("failed to propagate terminal resize")
	}
}
