package libcontainer

import (
	"fmt"
	"regexp"

	"github.com/opencontainers/runtime-spec/specs-go"
)

// Status is a container's lifecycle status (spec.md §3).
type Status string

const (
	StatusCreating Status = "Creating"
	StatusCreated  Status = "Created"
	StatusRunning  Status = "Running"
	StatusStopped  Status = "Stopped"
)

// NsKind is a namespace kind tag (spec.md §3/§4.2). The type itself
// accepts any string, including from JSON; namespace.CloneFlags rejects
// kinds other than the five constants below.
type NsKind string

const (
	NsMount NsKind = "mnt"
	NsPID   NsKind = "pid"
	NsNet   NsKind = "net"
	NsIPC   NsKind = "ipc"
	NsUTS   NsKind = "uts"
)

// idPattern enforces spec.md §3's "[A-Za-z0-9_.-], length <= 253".
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateID checks a container ID against spec.md §3.
func ValidateID(id string) error {
	if id == "" {
		return NewError(ErrInvalidArgument, "validate id", fmt.Errorf("container id must not be empty"))
	}
	if len(id) > 253 {
		return NewError(ErrInvalidArgument, "validate id", fmt.Errorf("container id %q exceeds 253 characters", id))
	}
	if !idPattern.MatchString(id) {
		return NewError(ErrInvalidArgument, "validate id", fmt.Errorf("container id %q contains characters outside [A-Za-z0-9_.-]", id))
	}
	return nil
}

// CgroupLimits is the optional resource configuration from spec.md §3's
// Spec ("optional cgroup resource limits"). Values are zero when unset.
// Memory is in bytes; CPUQuota/CPUPeriod are microseconds, matching
// both v1 cfs_quota_us/cfs_period_us and v2 cpu.max's two numbers.
type CgroupLimits struct {
	MemoryLimitBytes int64
	CPUQuotaUsec     int64
	CPUPeriodUsec    int64
}

// Spec is the ephemeral runtime configuration constructed from CLI args
// (spec.md §3: "Not persisted separately; derived into an on-disk
// config.json in the bundle").
type Spec struct {
	Argv        []string          `json:"argv"`
	Env         []string          `json:"env"`
	Cwd         string            `json:"cwd"`
	TTY         bool              `json:"tty"`
	Interactive bool              `json:"interactive"`
	Detach      bool              `json:"detach"`
	Namespaces  []NsKind          `json:"namespaces"`
	Cgroup      CgroupLimits      `json:"cgroup"`
	RootfsPath  string            `json:"rootfs_path"`
	Hostname    string            `json:"hostname"`
	ProcessLabel string           `json:"process_label,omitempty"`

	// Resources mirrors the OCI shape for the subset of limits we
	// actually enforce, so a real OCI config.json writer could populate
	// this directly instead of CgroupLimits. Optional; when set it wins
	// over CgroupLimits in the Cgroup Controller.
	Resources *specs.LinuxResources `json:"resources,omitempty"`
}

// NamespacePaths maps namespace kind to /proc/<init_pid>/ns/<kind>
// (spec.md §3).
type NamespacePaths map[NsKind]string

// State is the persisted per-container record (spec.md §3 and the
// state.json schema in §6).
type State struct {
	ID             string         `json:"id"`
	InitPID        int            `json:"init_process_pid"`
	InitStartTime  uint64         `json:"init_process_start_time"`
	Status         Status         `json:"status"`
	BundlePath     string         `json:"bundle"`
	RootfsPath     string         `json:"rootfs"`
	CreatedAt      int64          `json:"created"`
	NamespacePaths NamespacePaths `json:"namespace_paths"`
}

// liveNamespacePaths filters out entries that cannot be meaningful
// because the init process is gone, per spec.md §3 invariant 4.
func (s *State) liveNamespacePaths() NamespacePaths {
	if s.Status != StatusRunning && s.Status != StatusCreated {
		return nil
	}
	out := make(NamespacePaths, len(s.NamespacePaths))
	for k, v := range s.NamespacePaths {
		out[k] = v
	}
	return out
}
