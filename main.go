// +build linux

package main

import (
	"fmt"
	"os"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	lc "github.com/runcellio/runcell/libcontainer"
)

const usage = `runcell is a lightweight Linux container runtime.

runcell creates and runs containers according to the OCI bundle
convention, using namespaces, cgroups and a pivot_root'd rootfs for
isolation. It does not build images or manage networking beyond an
isolated network namespace.`

func main() {
	// main() must special-case the bootstrap re-exec before any CLI
	// parsing happens, exactly like runc's own main() special-cases its
	// "init" re-exec: by this point we may already be inside freshly
	// unshared namespaces, and constructing a cli.App (which touches
	// os.Args, flag state, etc.) is unnecessary and a needless risk.
	if lc.IsBootstrap() {
		lc.RunBootstrap()
		return
	}
	if lc.IsExecBootstrap() {
		lc.RunExecBootstrap()
		return
	}

	app := cli.NewApp()
	app.Name = "runcell"
	app.Usage = usage
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log-level",
			Value: "",
			Usage: "set the logging level (trace, debug, info, warn, error); overrides RUNCELL_LOG",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "shorthand for --log-level debug",
		},
		cli.StringFlag{
			Name:  "profile",
			Usage: "write a pprof profile on exit: cpu, mem, or block",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		return configureLogging(ctx)
	}

	app.Commands = []cli.Command{
		containerCommand,
		ctrCommand,
		storageCommand,
	}

	if stop := startProfile(); stop != nil {
		defer stop.Stop()
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// startProfile inspects os.Args directly rather than ctx.String("profile")
// because it must run before app.Run parses flags (it wraps the entire
// invocation, including app.Before and the command Action). --profile is a
// debug aid for development, not part of spec.md's CLI surface; it is
// declared in app.Flags so the parser accepts it and --help lists it, and
// its value is acted on only here.
func startProfile() interface{ Stop() } {
	var mode string
	args := os.Args[1:]
	for i, arg := range args {
		switch {
		case arg == "--profile" && i+1 < len(args):
			mode = args[i+1]
		case len(arg) > len("--profile=") && arg[:len("--profile=")] == "--profile=":
			mode = arg[len("--profile="):]
		}
	}
	switch mode {
	case "cpu":
		return profile.Start(profile.CPUProfile)
	case "mem":
		return profile.Start(profile.MemProfile)
	case "block":
		return profile.Start(profile.BlockProfile)
	default:
		return nil
	}
}

// configureLogging wires logrus the way the teacher's runtime does:
// RUNCELL_LOG (env) sets a baseline, -v/--verbose and --log-level
// override it. A text formatter is used rather than JSON since runcell
// is primarily driven from an interactive shell, matching the teacher's
// own default.
func configureLogging(ctx *cli.Context) error {
	level := os.Getenv("RUNCELL_LOG")
	if v := ctx.GlobalString("log-level"); v != "" {
		level = v
	}
	if ctx.GlobalBool("verbose") {
		level = "debug"
	}
	if level == "" {
		level = "warn"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// exitCodeFor maps a taxonomy-tagged error to the exit code contract:
// 0 success, 1 generic failure, 128+signum for a container killed by
// signal (spec.md §6).
func exitCodeFor(err error) int {
	kind, ok := lc.KindOf(err)
	if !ok {
		return 1
	}
	if kind == lc.ErrExecFailed || kind == lc.ErrChildCrashed {
		if e, ok := err.(*lc.Error); ok && e.Status >= 128 {
			return e.Status
		}
	}
	return 1
}
