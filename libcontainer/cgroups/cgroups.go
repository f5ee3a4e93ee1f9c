// Package cgroups is the Cgroup Controller from spec.md §4.3: it
// detects the v1/v2 backend, creates/destroys the per-container cgroup,
// places PIDs into it, and applies optional CPU/memory limits.
package cgroups

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/moby/sys/mountinfo"
)

// Backend is the cgroup hierarchy kind (spec.md §9 open question (b)).
type Backend int

const (
	V1 Backend = iota
	V2
)

func (b Backend) String() string {
	if b == V2 {
		return "v2"
	}
	return "v1"
}

const cgroupRoot = "/sys/fs/cgroup"

// DetectBackend infers the cgroup backend by probing /proc/self/mountinfo
// for a cgroup2 unified mount at cgroupRoot, falling back to v1 if only
// the legacy per-controller mounts are present. Matches sysbox-runc's own
// (and real runc's) fs-vs-fs2 manager selection, just re-derived from
// mountinfo instead of relying on a build-time constant.
func DetectBackend() (Backend, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(cgroupRoot))
	if err != nil {
		return 0, fmt.Errorf("cgroups: reading mountinfo: %w", err)
	}
	for _, m := range mounts {
		if m.FSType == "cgroup2" {
			return V2, nil
		}
	}

	// v1: require at least the cpu and memory controllers to be mounted
	// somewhere under cgroupRoot.
	have := map[string]bool{}
	all, err := mountinfo.GetMounts(mountinfo.PrefixFilter(cgroupRoot))
	if err != nil {
		return 0, fmt.Errorf("cgroups: reading mountinfo: %w", err)
	}
	for _, m := range all {
		if m.FSType != "cgroup" {
			continue
		}
		for _, opt := range strings.Split(m.VFSOptions, ",") {
			have[opt] = true
		}
	}
	if have["cpu"] && have["memory"] {
		return V1, nil
	}
	return 0, fmt.Errorf("cgroups: neither a cgroup2 mount nor v1 cpu+memory controllers found under %s", cgroupRoot)
}

// Manager creates, populates and tears down the cgroup for one
// container.
type Manager struct {
	backend Backend
	path    string
}

// NewManager builds a Manager for containerID, rooted at
// <cgroup_root>/runcell/<container_id> per spec.md §4.3.
func NewManager(backend Backend, containerID string) *Manager {
	return &Manager{
		backend: backend,
		path:    filepath.Join(cgroupRoot, "runcell", containerID),
	}
}

// Path returns the cgroup directory.
func (m *Manager) Path() string { return m.path }

// Limits is the resolved set of limits to apply; zero fields mean
// "unset; don't write this file".
type Limits struct {
	MemoryLimitBytes int64
	CPUQuotaUsec     int64
	CPUPeriodUsec    int64
}

// ParseMemory parses a human memory string ("256m", "1g") into bytes
// using github.com/docker/go-units, the same library the teacher's
// go.mod carries for this purpose.
func ParseMemory(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return units.RAMInBytes(s)
}

// Create makes the cgroup directory and applies limits, per spec.md
// §4.3 ("On create: mkdir, write optional cpu.max / memory.max (v2) or
// equivalents (v1)").
func (m *Manager) Create(limits Limits) error {
	if err := os.MkdirAll(m.path, 0o755); err != nil {
		return fmt.Errorf("cgroups: mkdir %s: %w", m.path, err)
	}
	if m.backend == V2 {
		return m.applyV2(limits)
	}
	return m.applyV1(limits)
}

func (m *Manager) applyV2(limits Limits) error {
	if limits.MemoryLimitBytes > 0 {
		if err := m.write("memory.max", strconv.FormatInt(limits.MemoryLimitBytes, 10)); err != nil {
			return err
		}
	}
	if limits.CPUQuotaUsec > 0 {
		period := limits.CPUPeriodUsec
		if period == 0 {
			period = 100000
		}
		val := fmt.Sprintf("%d %d", limits.CPUQuotaUsec, period)
		if err := m.write("cpu.max", val); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) applyV1(limits Limits) error {
	if limits.MemoryLimitBytes > 0 {
		if err := m.write("memory.limit_in_bytes", strconv.FormatInt(limits.MemoryLimitBytes, 10)); err != nil {
			return err
		}
	}
	if limits.CPUQuotaUsec > 0 {
		period := limits.CPUPeriodUsec
		if period == 0 {
			period = 100000
		}
		if err := m.write("cpu.cfs_period_us", strconv.FormatInt(period, 10)); err != nil {
			return err
		}
		if err := m.write("cpu.cfs_quota_us", strconv.FormatInt(limits.CPUQuotaUsec, 10)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) write(file, value string) error {
	p := filepath.Join(m.path, file)
	if err := os.WriteFile(p, []byte(value), 0o644); err != nil {
		return fmt.Errorf("cgroups: writing %s: %w", p, err)
	}
	return nil
}

// AddPID places pid into the cgroup by writing cgroup.procs (spec.md
// §4.3, "Place PID by writing to cgroup.procs"). This is done from the
// host side (the parent process) to avoid permission issues from inside
// the new namespaces, per spec.md §4.7's tie-break note.
func (m *Manager) AddPID(pid int) error {
	return m.write("cgroup.procs", strconv.Itoa(pid))
}

// Contains reports whether pid is currently listed in cgroup.procs,
// supporting spec.md §3 invariant 3.
func (m *Manager) Contains(pid int) (bool, error) {
	data, err := os.ReadFile(filepath.Join(m.path, "cgroup.procs"))
	if err != nil {
		return false, err
	}
	target := strconv.Itoa(pid)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == target {
			return true, nil
		}
	}
	return false, nil
}

// drainDeadline bounds how long Destroy waits for cgroup.procs to empty
// (spec.md §4.3: "bounded, ~5s").
const drainDeadline = 5 * time.Second

// Destroy waits (bounded) for cgroup.procs to drain, then rmdir's the
// cgroup. Per spec.md §4.3 teardown failures are logged by the caller
// but never fail a container delete.
func (m *Manager) Destroy() error {
	deadline := time.Now().Add(drainDeadline)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(filepath.Join(m.path, "cgroup.procs"))
		if err != nil {
			break
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cgroups: rmdir %s: %w", m.path, err)
	}
	return nil
}
