package libcontainer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testID(t *testing.T) string {
	return fmt.Sprintf("test-%s", t.Name())
}

func TestStoreSaveLoadRemove(t *testing.T) {
	id := testID(t)
	store := NewStore()
	t.Cleanup(func() { store.Remove(id) })

	assert.False(t, store.Exists(id))

	st := &State{ID: id, Status: StatusCreated, BundlePath: "/tmp/runcell/bundles/" + id}
	require.NoError(t, store.Save(st))
	assert.True(t, store.Exists(id))

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, loaded.Status)
	assert.Equal(t, st.BundlePath, loaded.BundlePath)

	require.NoError(t, store.Remove(id))
	assert.False(t, store.Exists(id))
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore()
	_, err := store.Load("does-not-exist-" + testID(t))
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrNotFound, kind)
}

func TestStoreReconcileDeadProcess(t *testing.T) {
	orig := aliveFn
	aliveFn = func(pid int, startTime uint64) bool { return false }
	t.Cleanup(func() { aliveFn = orig })

	id := testID(t)
	store := NewStore()
	t.Cleanup(func() { store.Remove(id) })

	st := &State{ID: id, Status: StatusRunning, InitPID: 99999, NamespacePaths: NamespacePaths{NsPID: "/proc/99999/ns/pid"}}
	require.NoError(t, store.Save(st))

	corrected := store.Reconcile(st, true)
	assert.Equal(t, StatusStopped, corrected.Status)
	assert.Equal(t, 0, corrected.InitPID)
	assert.Nil(t, corrected.NamespacePaths)

	reloaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, reloaded.Status)
}

func TestStoreReconcileAliveProcessUntouched(t *testing.T) {
	orig := aliveFn
	aliveFn = func(pid int, startTime uint64) bool { return true }
	t.Cleanup(func() { aliveFn = orig })

	st := &State{ID: testID(t), Status: StatusRunning, InitPID: 123}
	result := NewStore().Reconcile(st, false)
	assert.Equal(t, StatusRunning, result.Status)
	assert.Equal(t, 123, result.InitPID)
}

func TestStoreRemoveUnknownIsNoop(t *testing.T) {
	err := NewStore().Remove("never-existed-" + testID(t))
	assert.NoError(t, err)
}
