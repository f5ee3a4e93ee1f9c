package libcontainer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/runcellio/runcell/libcontainer/system"
	"github.com/runcellio/runcell/libcontainer/utils"
)

// StateRoot is the filesystem layout root from spec.md §6.
const StateRoot = "/tmp/runcell"

func statesDir() string      { return filepath.Join(StateRoot, "states") }
func bundlesDir() string     { return filepath.Join(StateRoot, "bundles") }
func containersDir() string  { return filepath.Join(StateRoot, "containers") }

// StateDir returns the per-container state directory.
func StateDir(id string) string { return filepath.Join(statesDir(), id) }

// BundleDir returns the per-container bundle directory.
func BundleDir(id string) string { return filepath.Join(bundlesDir(), id) }

// ContainerDir returns the per-container image/rootfs directory.
func ContainerDir(id string) string { return filepath.Join(containersDir(), id) }

func stateFile(id string) string { return filepath.Join(StateDir(id), "state.json") }

// Store is the State Store (spec.md §4.1): filesystem-backed,
// write-to-temp + atomic rename, no locking — state transitions are
// driven by a single coordinator per container (spec.md §4.1, §5).
type Store struct{}

// NewStore constructs a Store rooted at the fixed StateRoot.
func NewStore() *Store { return &Store{} }

// Save atomically persists state to <StateRoot>/states/<id>/state.json.
func (s *Store) Save(st *State) error {
	dir := StateDir(st.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return NewError(ErrIoFailure, "mkdir state dir", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json.tmp")
	if err != nil {
		return NewError(ErrIoFailure, "create temp state file", err)
	}
	tmpName := tmp.Name()
	if err := utils.WriteJSON(tmp, st); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return NewError(ErrIoFailure, "write temp state file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return NewError(ErrIoFailure, "close temp state file", err)
	}
	if err := os.Rename(tmpName, stateFile(st.ID)); err != nil {
		os.Remove(tmpName)
		return NewError(ErrIoFailure, "rename state file", err)
	}

	logrus.WithFields(logrus.Fields{"id": st.ID, "status": st.Status}).Debug("state saved")
	return nil
}

// Load reads the state for id. Returns a NotFound *Error if absent.
func (s *Store) Load(id string) (*State, error) {
	data, err := os.ReadFile(stateFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewError(ErrNotFound, "load state", fmt.Errorf("no state for container %q", id))
		}
		return nil, NewError(ErrIoFailure, "read state file", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, NewError(ErrIoFailure, "unmarshal state", err)
	}
	return &st, nil
}

// Exists reports whether a state file exists for id, without requiring
// it to parse successfully.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(stateFile(id))
	return err == nil
}

// Remove deletes the bundle, state and container directories for id, per
// spec.md §3 invariant 2. Idempotent: removing an unknown ID is a no-op
// success (spec.md §4.8 delete).
func (s *Store) Remove(id string) error {
	var firstErr error
	for _, dir := range []string{BundleDir(id), StateDir(id), ContainerDir(id)} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return NewError(ErrIoFailure, "remove container directories", firstErr)
	}
	return nil
}

// Reconcile performs the liveness reconciliation from spec.md §4.1 and
// §8 property 1: if st.Status is Running but init_pid is dead or its
// starttime no longer matches, the state is corrected to Stopped. When
// persist is true the corrected state is written back to disk.
func (s *Store) Reconcile(st *State, persist bool) *State {
	if st.Status != StatusRunning {
		return st
	}
	if aliveFn(st.InitPID, st.InitStartTime) {
		return st
	}

	corrected := *st
	corrected.Status = StatusStopped
	corrected.InitPID = 0
	corrected.NamespacePaths = nil

	if persist {
		if err := s.Save(&corrected); err != nil {
			logrus.WithError(err).WithField("id", st.ID).Warn("failed to persist reconciled state")
		}
	}
	return &corrected
}

// List enumerates every container's state, performing liveness
// reconciliation on each (spec.md §4.1, §4.8 list). Entries that fail to
// load are skipped with a warning rather than aborting the whole list.
func (s *Store) List() ([]*State, error) {
	entries, err := os.ReadDir(statesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewError(ErrIoFailure, "read states dir", err)
	}

	var out []*State
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := s.Load(e.Name())
		if err != nil {
			logrus.WithError(err).WithField("id", e.Name()).Warn("skipping unreadable state")
			continue
		}
		out = append(out, s.Reconcile(st, true))
	}
	return out, nil
}

// aliveFn is overridden in tests to avoid depending on real /proc state.
var aliveFn = system.Alive
