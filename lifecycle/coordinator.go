// Package lifecycle is the Lifecycle Coordinator from spec.md §4.8: the
// top-level run/create/start/exec/delete/list workflows, each driving
// the State Store, Cgroup Controller, Namespace Controller, Rootfs
// Preparer, PTY Broker and Process Launcher underneath.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	lc "github.com/runcellio/runcell/libcontainer"
	"github.com/runcellio/runcell/libcontainer/cgroups"
	"github.com/runcellio/runcell/libcontainer/fifo"
	"github.com/runcellio/runcell/libcontainer/namespace"
	"github.com/runcellio/runcell/libcontainer/pty"
)

// Coordinator implements spec.md §4.8's public operations.
type Coordinator struct {
	store *lc.Store
}

func New() *Coordinator {
	return &Coordinator{store: lc.NewStore()}
}

// nsKinds converts spec.Namespaces to the namespace package's Kind type.
func nsKinds(spec *lc.Spec) []namespace.Kind {
	out := make([]namespace.Kind, 0, len(spec.Namespaces))
	for _, k := range spec.Namespaces {
		out = append(out, namespace.Kind(k))
	}
	return out
}

func toNamespacePaths(in map[namespace.Kind]string) lc.NamespacePaths {
	out := make(lc.NamespacePaths, len(in))
	for k, v := range in {
		out[lc.NsKind(k)] = v
	}
	return out
}

func toLimits(spec *lc.Spec) cgroups.Limits {
	if spec.Resources != nil {
		var lim cgroups.Limits
		if spec.Resources.Memory != nil && spec.Resources.Memory.Limit != nil {
			lim.MemoryLimitBytes = *spec.Resources.Memory.Limit
		}
		if spec.Resources.CPU != nil {
			if spec.Resources.CPU.Quota != nil {
				lim.CPUQuotaUsec = *spec.Resources.CPU.Quota
			}
			if spec.Resources.CPU.Period != nil {
				lim.CPUPeriodUsec = int64(*spec.Resources.CPU.Period)
			}
		}
		return lim
	}
	return cgroups.Limits{
		MemoryLimitBytes: spec.Cgroup.MemoryLimitBytes,
		CPUQuotaUsec:     spec.Cgroup.CPUQuotaUsec,
		CPUPeriodUsec:    spec.Cgroup.CPUPeriodUsec,
	}
}

// prepareContainer is the shared setup for run and create: validates the
// ID, resolves the rootfs image source, writes the bundle, persists
// Creating state, and creates the cgroup. Returns the cgroup manager so
// the caller can wire OnPid.
func (c *Coordinator) prepareContainer(id, imageSrc string, spec *lc.Spec) (*cgroups.Manager, error) {
	if err := lc.ValidateID(id); err != nil {
		return nil, err
	}
	if c.store.Exists(id) {
		return nil, lc.NewError(lc.ErrAlreadyExists, "create", fmt.Errorf("container %q already exists", id))
	}

	rootfsPath, err := resolveImage(imageSrc, lc.ContainerDir(id))
	if err != nil {
		c.store.Remove(id)
		return nil, err
	}
	spec.RootfsPath = rootfsPath

	bundleDir := lc.BundleDir(id)
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		c.store.Remove(id)
		return nil, lc.NewError(lc.ErrIoFailure, "mkdir bundle", err)
	}
	if err := writeConfigJSON(filepath.Join(bundleDir, "config.json"), spec); err != nil {
		c.store.Remove(id)
		return nil, err
	}
	if err := fifo.Create(filepath.Join(bundleDir, fifo.Name)); err != nil {
		c.store.Remove(id)
		return nil, lc.NewError(lc.ErrIoFailure, "create exec fifo", err)
	}

	if err := c.store.Save(&lc.State{
		ID:         id,
		Status:     lc.StatusCreating,
		BundlePath: bundleDir,
		RootfsPath: rootfsPath,
		CreatedAt:  nowUnix(),
	}); err != nil {
		c.store.Remove(id)
		return nil, err
	}

	backend, err := cgroups.DetectBackend()
	if err != nil {
		c.store.Remove(id)
		return nil, lc.NewError(lc.ErrCgroupFailure, "detect cgroup backend", err)
	}
	mgr := cgroups.NewManager(backend, id)
	if err := mgr.Create(toLimits(spec)); err != nil {
		c.store.Remove(id)
		return nil, lc.NewError(lc.ErrCgroupFailure, "create cgroup", err)
	}
	return mgr, nil
}

func (c *Coordinator) launch(id string, spec *lc.Spec, gate lc.GateMode, detach bool, mgr *cgroups.Manager, ptyReplica *os.File) (*lc.LaunchResult, error) {
	bundleDir := lc.BundleDir(id)
	launcher := lc.NewLauncher()
	res, err := launcher.Launch(lc.LaunchParams{
		ContainerID: id,
		BundlePath:  bundleDir,
		RootfsPath:  spec.RootfsPath,
		Hostname:    spec.Hostname,
		Namespaces:  nsKinds(spec),
		Gate:        gate,
		Spec:        spec,
		PTYReplica:  ptyReplica,
		Detach:      detach,
		OnPid: func(pid int) error {
			if err := mgr.AddPID(pid); err != nil {
				return lc.NewError(lc.ErrCgroupFailure, "add pid to cgroup", err)
			}
			return c.store.Save(&lc.State{
				ID:         id,
				Status:     lc.StatusCreated,
				BundlePath: bundleDir,
				RootfsPath: spec.RootfsPath,
				CreatedAt:  nowUnix(),
				InitPID:    pid,
			})
		},
	})
	if err != nil {
		mgr.Destroy()
		c.store.Remove(id)
		return nil, err
	}
	return res, nil
}

// Create implements spec.md §4.8 create: through step 7 of the
// bootstrap, then the intermediate blocks on exec.fifo and this call
// returns with state Created.
func (c *Coordinator) Create(id, imageSrc string, spec *lc.Spec) error {
	mgr, err := c.prepareContainer(id, imageSrc, spec)
	if err != nil {
		return err
	}
	res, err := c.launch(id, spec, lc.GateFifo, false, mgr, nil)
	if err != nil {
		return err
	}
	return c.store.Save(&lc.State{
		ID:             id,
		Status:         lc.StatusCreated,
		BundlePath:     lc.BundleDir(id),
		RootfsPath:     spec.RootfsPath,
		CreatedAt:      nowUnix(),
		InitPID:        res.InitPID,
		InitStartTime:  res.StartTime,
		NamespacePaths: toNamespacePaths(res.NamespacePaths),
	})
}

// Start implements spec.md §4.8 start: opens exec.fifo to release the
// intermediate's gate, then waits (bounded) for the Running transition.
func (c *Coordinator) Start(id string) error {
	st, err := c.store.Load(id)
	if err != nil {
		return err
	}
	if st.Status != lc.StatusCreated {
		return lc.NewError(lc.ErrInvalidState, "start", fmt.Errorf("container %q is %s, not Created", id, st.Status))
	}

	if err := fifo.Open(filepath.Join(st.BundlePath, fifo.Name)); err != nil {
		return lc.NewError(lc.ErrIoFailure, "open exec fifo", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st, err := c.store.Load(id)
		if err == nil && st.Status == lc.StatusRunning {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return lc.NewError(lc.ErrSyncTimeout, "start", fmt.Errorf("container %q did not reach Running", id))
}

// Run implements spec.md §4.8 run: create -> start (immediate ConfigAck,
// no fifo) -> attach (unless detached) -> reconcile to Stopped on exit.
func (c *Coordinator) Run(id, imageSrc string, spec *lc.Spec) (int, error) {
	mgr, err := c.prepareContainer(id, imageSrc, spec)
	if err != nil {
		return -1, err
	}

	var broker *pty.Broker
	var replica *os.File
	if spec.TTY {
		broker, err = pty.Open()
		if err != nil {
			mgr.Destroy()
			c.store.Remove(id)
			return -1, lc.NewError(lc.ErrIsolationFailure, "open pty", err)
		}
		replica, err = os.OpenFile(broker.ReplicaPath(), os.O_RDWR, 0)
		if err != nil {
			mgr.Destroy()
			c.store.Remove(id)
			return -1, lc.NewError(lc.ErrIsolationFailure, "open pty replica", err)
		}
	}

	res, err := c.launch(id, spec, lc.GateAck, spec.Detach, mgr, replica)
	if err != nil {
		return -1, err
	}

	if err := c.store.Save(&lc.State{
		ID:             id,
		Status:         lc.StatusRunning,
		BundlePath:     lc.BundleDir(id),
		RootfsPath:     spec.RootfsPath,
		CreatedAt:      nowUnix(),
		InitPID:        res.InitPID,
		InitStartTime:  res.StartTime,
		NamespacePaths: toNamespacePaths(res.NamespacePaths),
	}); err != nil {
		return -1, err
	}

	if spec.Detach {
		return 0, nil
	}

	launcher := lc.NewLauncher()

	if broker != nil {
		if err := broker.AttachCallerStdin(); err != nil {
			logrus.WithError(err).Warn("failed to set caller terminal raw mode")
		}
		defer broker.Restore()
		defer broker.Close()

		ctx, cancel := context.WithCancel(context.Background())
		var status int
		var waitErr error
		go func() {
			status, waitErr = launcher.Wait(res)
			cancel()
		}()
		c.forwardSignals(ctx, res.InitPID)
		broker.RunForeground(ctx)
		c.reconcileStopped(id)
		return status, waitErr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.forwardSignals(ctx, res.InitPID)
	status, waitErr := launcher.Wait(res)
	cancel()
	c.reconcileStopped(id)
	return status, waitErr
}

// forwardSignals implements spec.md §5's cancellation contract: SIGINT/
// SIGTERM on this process forwards SIGTERM to init, escalating to
// SIGKILL after 10s, until ctx is done.
func (c *Coordinator) forwardSignals(ctx context.Context, initPID int) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
		}
		lc.Signal(initPID, syscall.SIGTERM)
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
			lc.Signal(initPID, syscall.SIGKILL)
		}
	}()
}

func (c *Coordinator) reconcileStopped(id string) {
	st, err := c.store.Load(id)
	if err != nil {
		return
	}
	st.Status = lc.StatusStopped
	st.InitPID = 0
	st.NamespacePaths = nil
	if err := c.store.Save(st); err != nil {
		logrus.WithError(err).WithField("id", id).Warn("failed to persist Stopped state")
	}
}

// Exec implements spec.md §4.8 exec: verifies the container is Running,
// joins its namespaces from a disposable helper, execve's the target,
// and forwards its exit code.
func (c *Coordinator) Exec(id string, spec *lc.Spec) (int, error) {
	st, err := c.store.Load(id)
	if err != nil {
		return -1, err
	}
	st = c.store.Reconcile(st, true)
	if st.Status != lc.StatusRunning {
		return -1, lc.NewError(lc.ErrInvalidState, "exec", fmt.Errorf("container %q is %s, not Running", id, st.Status))
	}

	backend, err := cgroups.DetectBackend()
	if err != nil {
		return -1, lc.NewError(lc.ErrCgroupFailure, "detect cgroup backend", err)
	}
	mgr := cgroups.NewManager(backend, id)

	var broker *pty.Broker
	var replica *os.File
	if spec.TTY {
		broker, err = pty.Open()
		if err != nil {
			return -1, lc.NewError(lc.ErrIsolationFailure, "open pty", err)
		}
		replica, err = os.OpenFile(broker.ReplicaPath(), os.O_RDWR, 0)
		if err != nil {
			return -1, lc.NewError(lc.ErrIsolationFailure, "open pty replica", err)
		}
	}

	execLauncher := lc.NewExecLauncher()
	params := lc.ExecParams{
		TargetPID:  st.InitPID,
		Namespaces: nsKinds(spec),
		Spec:       spec,
		PTYReplica: replica,
		OnPid: func(pid int) error {
			return mgr.AddPID(pid)
		},
	}

	if broker == nil {
		return execLauncher.Launch(params)
	}

	if err := broker.AttachCallerStdin(); err != nil {
		logrus.WithError(err).Warn("failed to set caller terminal raw mode")
	}
	defer broker.Restore()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var status int
	var waitErr error
	done := make(chan struct{})
	go func() {
		status, waitErr = execLauncher.Launch(params)
		close(done)
		cancel()
	}()
	broker.RunForeground(ctx)
	<-done
	return status, waitErr
}

// Delete implements spec.md §4.8 delete: idempotent, best-effort.
func (c *Coordinator) Delete(id string) error {
	st, err := c.store.Load(id)
	if err != nil {
		if kind, ok := lc.KindOf(err); ok && kind == lc.ErrNotFound {
			return nil
		}
		return err
	}
	st = c.store.Reconcile(st, false)

	if st.Status == lc.StatusRunning && st.InitPID > 0 {
		syscall.Kill(st.InitPID, syscall.SIGKILL)
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if err := syscall.Kill(st.InitPID, 0); err != nil {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		syscall.Kill(st.InitPID, syscall.SIGKILL)
	}

	if backend, err := cgroups.DetectBackend(); err == nil {
		if err := cgroups.NewManager(backend, id).Destroy(); err != nil {
			logrus.WithError(err).WithField("id", id).Warn("cgroup teardown failed, continuing with delete")
		}
	}

	return c.store.Remove(id)
}

// List implements spec.md §4.8 list.
func (c *Coordinator) List(all bool) ([]*lc.State, error) {
	states, err := c.store.List()
	if err != nil {
		return nil, err
	}
	if all {
		return states, nil
	}
	out := states[:0]
	for _, st := range states {
		if st.Status == lc.StatusRunning {
			out = append(out, st)
		}
	}
	return out, nil
}
