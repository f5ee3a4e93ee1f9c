package lifecycle

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestTar(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	body := []byte("hello\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "etc/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "etc/motd", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))}))
	_, err = tw.Write(body)
	require.NoError(t, err)
}

func TestExtractTar(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "image.tar")
	writeTestTar(t, tarPath)

	dest := filepath.Join(dir, "rootfs")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, extractTar(tarPath, dest))

	data, err := os.ReadFile(filepath.Join(dest, "etc", "motd"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("hello\n"), data))
}

func TestExtractTarRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "evil.tar")

	f, err := os.Create(tarPath)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../../etc/passwd", Typeflag: tar.TypeReg, Mode: 0o644, Size: 0}))
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())

	dest := filepath.Join(dir, "rootfs")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	err = extractTar(tarPath, dest)
	assert.Error(t, err)
}

func TestResolveImageBarePath(t *testing.T) {
	dir := t.TempDir()
	rootfs, err := resolveImage(dir, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, dir, rootfs)
}

func TestResolveImageDirScheme(t *testing.T) {
	dir := t.TempDir()
	rootfs, err := resolveImage("dir://"+dir, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, dir, rootfs)
}

func TestResolveImageUnknownPath(t *testing.T) {
	_, err := resolveImage("/does/not/exist/at/all", t.TempDir())
	assert.Error(t, err)
}

func TestResolveImageFileScheme(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "image.tar")
	writeTestTar(t, tarPath)

	containerDir := filepath.Join(dir, "container")
	rootfs, err := resolveImage("file://"+tarPath, containerDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(containerDir, "rootfs"), rootfs)

	_, err = os.Stat(filepath.Join(rootfs, "etc", "motd"))
	assert.NoError(t, err)
}
