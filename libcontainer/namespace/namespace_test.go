package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCloneFlagsCombines(t *testing.T) {
	flags, err := CloneFlags([]Kind{Mount, PID, UTS})
	require.NoError(t, err)
	assert.Equal(t, uintptr(unix.CLONE_NEWNS|unix.CLONE_NEWPID|unix.CLONE_NEWUTS), flags)
}

func TestCloneFlagsDedupesRepeatedKinds(t *testing.T) {
	flags, err := CloneFlags([]Kind{Mount, Mount, Mount})
	require.NoError(t, err)
	assert.Equal(t, uintptr(unix.CLONE_NEWNS), flags)
}

func TestCloneFlagsRejectsUnknownKind(t *testing.T) {
	_, err := CloneFlags([]Kind{"bogus"})
	assert.Error(t, err)
}

func TestCloneFlagsEmpty(t *testing.T) {
	flags, err := CloneFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0), flags)
}

func TestPathsFor(t *testing.T) {
	paths := PathsFor(42, []Kind{PID, Net})
	assert.Equal(t, "/proc/42/ns/pid", paths[PID])
	assert.Equal(t, "/proc/42/ns/net", paths[Net])
}
