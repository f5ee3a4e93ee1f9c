package rootfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureBindTargetCreatesFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "sub", "null")
	require.NoError(t, ensureBindTarget(dest))
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestEnsureBindTargetIdempotent(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "null")
	require.NoError(t, ensureBindTarget(dest))
	require.NoError(t, ensureBindTarget(dest))
}

func TestSeedHostFilesSkipsMissingHostFile(t *testing.T) {
	orig := hostSeedFiles
	hostSeedFiles = []string{"/no/such/host/file/ever"}
	defer func() { hostSeedFiles = orig }()

	require.NoError(t, seedHostFiles(t.TempDir()))
}

func TestSeedHostFilesSkipsExistingImageFile(t *testing.T) {
	hostFile := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(hostFile, []byte("127.0.0.1 host\n"), 0o644))

	orig := hostSeedFiles
	hostSeedFiles = []string{hostFile}
	defer func() { hostSeedFiles = orig }()

	rootfs := t.TempDir()
	dest := filepath.Join(rootfs, hostFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, []byte("already there\n"), 0o644))

	require.NoError(t, seedHostFiles(rootfs))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "already there\n", string(data))
}

func TestStandardMountsIncludesDevPts(t *testing.T) {
	var found bool
	for _, m := range standardMounts() {
		if m.dest == "/dev/pts" {
			found = true
		}
	}
	assert.True(t, found)
}
