// +build linux

package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"

	lc "github.com/runcellio/runcell/libcontainer"
)

func newTestContext(t *testing.T, setup func(*flag.FlagSet), args []string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	if setup != nil {
		setup(set)
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(nil, set, nil)
}

func TestCheckArgsExact(t *testing.T) {
	ctx := newTestContext(t, nil, []string{"a", "b"})
	assert.NoError(t, checkArgs(ctx, 2, exactArgs))
	assert.Error(t, checkArgs(ctx, 1, exactArgs))
}

func TestCheckArgsMin(t *testing.T) {
	ctx := newTestContext(t, nil, []string{"a", "b", "c"})
	assert.NoError(t, checkArgs(ctx, 2, minArgs))
	assert.Error(t, checkArgs(ctx, 4, minArgs))
}

func TestSpecFromContextDefaultsToShell(t *testing.T) {
	ctx := newTestContext(t, func(set *flag.FlagSet) {
		set.String("id", "", "")
		set.String("memory", "", "")
	}, nil)

	spec, err := specFromContext(ctx, false, false, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/sh"}, spec.Argv)
}

func TestSpecFromContextParsesMemory(t *testing.T) {
	ctx := newTestContext(t, func(set *flag.FlagSet) {
		set.String("id", "", "")
		set.String("memory", "256m", "")
	}, nil)

	spec, err := specFromContext(ctx, false, false, false)
	require.NoError(t, err)
	assert.Equal(t, int64(256*1024*1024), spec.Cgroup.MemoryLimitBytes)
}

func TestSpecFromContextRejectsBadMemory(t *testing.T) {
	ctx := newTestContext(t, func(set *flag.FlagSet) {
		set.String("id", "", "")
		set.String("memory", "not-a-size", "")
	}, nil)

	_, err := specFromContext(ctx, false, false, false)
	require.Error(t, err)
	kind, ok := lc.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, lc.ErrInvalidArgument, kind)
}

func TestStorageUnsupported(t *testing.T) {
	err := storageUnsupported(newTestContext(t, nil, nil))
	require.Error(t, err)
	kind, ok := lc.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, lc.ErrInvalidArgument, kind)
}

func TestWithAliasRenames(t *testing.T) {
	cmd := withAlias(deleteCommand, "rm")
	assert.Equal(t, "rm", cmd.Name)
	assert.Equal(t, "delete", deleteCommand.Name)
}
