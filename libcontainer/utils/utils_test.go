package utils

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, map[string]int{"a": 1}))
	assert.JSONEq(t, `{"a":1}`, buf.String())
}

func TestCloseExecFromMarksFlag(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, CloseExecFrom(3))

	flags, _, errno := unix.Syscall(unix.SYS_FCNTL, w.Fd(), unix.F_GETFD, 0)
	require.Zero(t, errno)
	assert.NotZero(t, flags&unix.FD_CLOEXEC)
}
