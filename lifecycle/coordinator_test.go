package lifecycle

import (
	"testing"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lc "github.com/runcellio/runcell/libcontainer"
)

func TestToLimitsPrefersResourcesOverCgroup(t *testing.T) {
	limit := int64(128 * 1024 * 1024)
	spec := &lc.Spec{
		Cgroup: lc.CgroupLimits{MemoryLimitBytes: 64 * 1024 * 1024},
		Resources: &specs.LinuxResources{
			Memory: &specs.LinuxMemory{Limit: &limit},
		},
	}
	assert.Equal(t, limit, toLimits(spec).MemoryLimitBytes)
}

func TestToLimitsFallsBackToCgroup(t *testing.T) {
	spec := &lc.Spec{Cgroup: lc.CgroupLimits{MemoryLimitBytes: 64 * 1024 * 1024}}
	assert.Equal(t, int64(64*1024*1024), toLimits(spec).MemoryLimitBytes)
}

func TestDeleteUnknownContainerIsNoop(t *testing.T) {
	c := New()
	assert.NoError(t, c.Delete("never-created-container"))
}

func TestStartRequiresCreatedState(t *testing.T) {
	c := New()
	store := lc.NewStore()
	id := "coordinator-start-test"
	t.Cleanup(func() { store.Remove(id) })

	require.NoError(t, store.Save(&lc.State{ID: id, Status: lc.StatusRunning}))

	err := c.Start(id)
	require.Error(t, err)
	kind, ok := lc.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, lc.ErrInvalidState, kind)
}

func TestListAllReturnsIdentifiedStates(t *testing.T) {
	c := New()
	states, err := c.List(true)
	require.NoError(t, err)
	for _, st := range states {
		assert.NotEmpty(t, st.ID)
	}
}
