package fifo

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), Name)
	require.NoError(t, Create(path))
	require.NoError(t, Create(path))
}

func TestWaitForOpenerReleasesOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), Name)
	require.NoError(t, Create(path))

	done := make(chan error, 1)
	go func() { done <- WaitForOpener(path) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, Open(path))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForOpener did not unblock after Open")
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	assert.NoError(t, Remove(filepath.Join(t.TempDir(), "missing-fifo")))
}
