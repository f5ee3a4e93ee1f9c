// +build linux

package main

import (
	"flag"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli"

	lc "github.com/runcellio/runcell/libcontainer"
)

func TestExitCodeForGenericError(t *testing.T) {
	assert.Equal(t, 1, exitCodeFor(fmt.Errorf("plain")))
}

func TestExitCodeForSignaledExecFailed(t *testing.T) {
	err := &lc.Error{Kind: lc.ErrExecFailed, Status: 137}
	assert.Equal(t, 137, exitCodeFor(err))
}

func TestExitCodeForLowStatusFallsBackToOne(t *testing.T) {
	err := lc.NewExecFailed(2)
	assert.Equal(t, 1, exitCodeFor(err))
}

func TestConfigureLoggingDefaultsToWarn(t *testing.T) {
	t.Setenv("RUNCELL_LOG", "")

	app := cli.NewApp()
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "log-level"},
		cli.BoolFlag{Name: "verbose, v"},
	}
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("log-level", "", "")
	set.Bool("verbose", false, "")
	ctx := cli.NewContext(app, set, nil)

	assert.NoError(t, configureLogging(ctx))
}

func TestConfigureLoggingVerboseOverridesToDebug(t *testing.T) {
	t.Setenv("RUNCELL_LOG", "warn")

	app := cli.NewApp()
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "log-level"},
		cli.BoolFlag{Name: "verbose, v"},
	}
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("log-level", "", "")
	set.Bool("verbose", true, "")
	ctx := cli.NewContext(app, set, nil)

	assert.NoError(t, configureLogging(ctx))
}
