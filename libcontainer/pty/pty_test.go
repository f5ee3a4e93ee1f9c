package pty

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAllocatesReplicaPath(t *testing.T) {
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skip("no /dev/ptmx available in this environment")
	}

	b, err := Open()
	require.NoError(t, err)
	defer b.Close()

	assert.NotEmpty(t, b.ReplicaPath())
	_, err = os.Stat(b.ReplicaPath())
	assert.NoError(t, err)
}

func TestAttachCallerStdinNonTTYIsNoop(t *testing.T) {
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skip("no /dev/ptmx available in this environment")
	}
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	old := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = old }()

	b, err := Open()
	require.NoError(t, err)
	defer b.Close()

	assert.NoError(t, b.AttachCallerStdin())
	b.Restore()
}
