// Package rootfs is the Rootfs Preparer from spec.md §4.4: it runs
// inside the new mount namespace, bind-mounts the rootfs, mounts the
// standard pseudo-filesystems and device nodes, and pivot_roots into the
// prepared tree.
package rootfs

import (
	"fmt"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/mrunalp/fileutils"
	"golang.org/x/sys/unix"
)

// mountSpec is one entry of standardMounts, the default filesystem set
// from spec.md §4.4 step 3.
type mountSpec struct {
	dest  string
	fstype string
	source string
	flags uintptr
	data  string
}

func standardMounts() []mountSpec {
	return []mountSpec{
		{dest: "/proc", fstype: "proc", source: "proc"},
		{dest: "/sys", fstype: "sysfs", source: "sysfs", flags: unix.MS_RDONLY},
		{dest: "/dev", fstype: "tmpfs", source: "tmpfs", flags: unix.MS_NOSUID | unix.MS_STRICTATIME, data: "mode=755"},
		{dest: "/dev/pts", fstype: "devpts", source: "devpts", data: "newinstance,ptmxmode=0666,mode=0620"},
		{dest: "/dev/shm", fstype: "tmpfs", source: "shm", flags: unix.MS_NOSUID | unix.MS_NODEV, data: "mode=1777"},
	}
}

// deviceNodes is the standard device set from spec.md §4.4 step 4,
// bind-mounted in from the host.
var deviceNodes = []string{"null", "zero", "full", "random", "urandom", "tty"}

// Prepare runs the full sequence from spec.md §4.4. It must be called
// from inside the container's new mount namespace, after
// namespace.Create has unshared CLONE_NEWNS.
func Prepare(rootfsPath string) error {
	if err := makeTreePrivate(); err != nil {
		return fmt.Errorf("rootfs: %w", err)
	}
	if err := bindRootfsOntoItself(rootfsPath); err != nil {
		return fmt.Errorf("rootfs: %w", err)
	}
	if err := mountStandardFilesystems(rootfsPath); err != nil {
		return fmt.Errorf("rootfs: %w", err)
	}
	if err := createDeviceNodes(rootfsPath); err != nil {
		return fmt.Errorf("rootfs: %w", err)
	}
	if err := seedHostFiles(rootfsPath); err != nil {
		return fmt.Errorf("rootfs: %w", err)
	}
	if err := pivotInto(rootfsPath); err != nil {
		return fmt.Errorf("rootfs: %w", err)
	}
	return nil
}

// makeTreePrivate is step 1: make the entire mount tree MS_PRIVATE
// (recursive) to prevent propagation to the host.
func makeTreePrivate() error {
	return unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, "")
}

// bindRootfsOntoItself is step 2: bind-mount rootfsPath onto itself so
// it becomes a mount point (required before pivot_root).
func bindRootfsOntoItself(rootfsPath string) error {
	return unix.Mount(rootfsPath, rootfsPath, "", unix.MS_BIND|unix.MS_REC, "")
}

// mountStandardFilesystems is step 3.
func mountStandardFilesystems(rootfsPath string) error {
	for _, m := range standardMounts() {
		dest, err := securejoin.SecureJoin(rootfsPath, m.dest)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", m.dest, err)
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dest, err)
		}
		if err := unix.Mount(m.source, dest, m.fstype, m.flags, m.data); err != nil {
			return fmt.Errorf("mount %s (%s): %w", dest, m.fstype, err)
		}
	}
	return nil
}

// createDeviceNodes is step 4: standard device nodes bind-mounted from
// the host. Each bind target is an empty regular file created fresh
// under the tmpfs /dev mount from step 3, exactly as real runc's
// rootfs_linux.go does for its default device set.
func createDeviceNodes(rootfsPath string) error {
	devDir, err := securejoin.SecureJoin(rootfsPath, "/dev")
	if err != nil {
		return fmt.Errorf("resolving /dev: %w", err)
	}
	for _, name := range deviceNodes {
		hostPath := filepath.Join("/dev", name)
		dest := filepath.Join(devDir, name)

		if err := ensureBindTarget(dest); err != nil {
			return err
		}
		if err := unix.Mount(hostPath, dest, "", unix.MS_BIND, ""); err != nil {
			return fmt.Errorf("bind mount device %s: %w", name, err)
		}
	}
	return nil
}

// ensureBindTarget creates an empty regular file at dest so a bind
// mount has something to land on.
func ensureBindTarget(dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dest, os.O_CREATE, 0o644)
	if err != nil && !os.IsExist(err) {
		return err
	}
	if f != nil {
		f.Close()
	}
	return nil
}

// hostSeedFiles are files copied in from the host when the image
// doesn't already provide them, so basic name resolution works inside
// the container without requiring a full network namespace setup. This
// supplements the distilled spec.md (which only describes isolation,
// not DNS/hosts plumbing) with a small, real-runtime feature: runc and
// sysbox-runc both bind-mount or copy these from the host by default.
var hostSeedFiles = []string{"/etc/hosts", "/etc/resolv.conf"}

// seedHostFiles copies hostSeedFiles into the rootfs when the host file
// exists and the image doesn't already have one, using
// github.com/mrunalp/fileutils.CopyFile. A file the image already has,
// including an empty placeholder, is left as it is; nothing is
// bind-mounted from the host.
func seedHostFiles(rootfsPath string) error {
	for _, hostPath := range hostSeedFiles {
		if _, err := os.Stat(hostPath); err != nil {
			continue
		}
		dest, err := securejoin.SecureJoin(rootfsPath, hostPath)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", hostPath, err)
		}
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("mkdir for %s: %w", dest, err)
		}
		if err := fileutils.CopyFile(hostPath, dest); err != nil {
			return fmt.Errorf("seeding %s: %w", hostPath, err)
		}
	}
	return nil
}

// pivotInto is step 5: pivot_root into the new rootfs.
func pivotInto(rootfsPath string) error {
	if err := unix.Chdir(rootfsPath); err != nil {
		return fmt.Errorf("chdir %s: %w", rootfsPath, err)
	}
	if err := unix.PivotRoot(".", "."); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}
	if err := unix.Unmount(".", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("umount old root: %w", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}
	return nil
}
