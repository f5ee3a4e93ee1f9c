package libcontainer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMsgRoundTrip(t *testing.T) {
	parent, child, err := syncSocketpair()
	require.NoError(t, err)
	defer parent.Close()
	defer child.Close()

	require.NoError(t, sendPid(child, 4242))
	pid, err := recvPid(parent, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestExpectSyncMsgMismatchIsChildCrashed(t *testing.T) {
	parent, child, err := syncSocketpair()
	require.NoError(t, err)
	defer parent.Close()
	defer child.Close()

	require.NoError(t, sendProcReady(child))
	_, err = expectSyncMsg(parent, msgConfigAck, time.Second)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrChildCrashed, kind)
}

func TestExpectSyncMsgExecFailed(t *testing.T) {
	parent, child, err := syncSocketpair()
	require.NoError(t, err)
	defer parent.Close()
	defer child.Close()

	require.NoError(t, sendExecFailed(child, 2))
	_, err = expectSyncMsg(parent, msgProcReady, time.Second)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrExecFailed, kind)
}

func TestReadSyncMsgTimeout(t *testing.T) {
	parent, child, err := syncSocketpair()
	require.NoError(t, err)
	defer parent.Close()
	defer child.Close()

	_, err = readSyncMsg(parent, 10*time.Millisecond)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrSyncTimeout, kind)
}

func TestConfigBlobRoundTrip(t *testing.T) {
	parent, child, err := syncSocketpair()
	require.NoError(t, err)
	defer parent.Close()
	defer child.Close()

	want := &Spec{Argv: []string{"/bin/sh", "-c", "true"}, Env: []string{"PATH=/bin"}, Cwd: "/", TTY: true}
	require.NoError(t, writeConfigBlob(child, want))

	got, err := readConfigBlob(parent, time.Second)
	require.NoError(t, err)
	assert.Equal(t, want.Argv, got.Argv)
	assert.Equal(t, want.Env, got.Env)
	assert.Equal(t, want.TTY, got.TTY)
}
