// +build linux

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli"

	lc "github.com/runcellio/runcell/libcontainer"
	"github.com/runcellio/runcell/libcontainer/cgroups"
	"github.com/runcellio/runcell/lifecycle"
)

const minArgs = "min"
const exactArgs = "exact"

// checkArgs enforces argc against n the way runc's own command files do
// ("exact" for a fixed arity, "min" for "at least").
func checkArgs(ctx *cli.Context, n int, mode string) error {
	argc := len(ctx.Args())
	switch mode {
	case exactArgs:
		if argc != n {
			return fmt.Errorf("exactly %d arguments required, got %d", n, argc)
		}
	case minArgs:
		if argc < n {
			return fmt.Errorf("at least %d arguments required, got %d", n, argc)
		}
	}
	return nil
}

// defaultNamespaces is what CLI-driven containers request absent a
// config.json editing step; spec.md §4.2's full set minus user/cgroup.
var defaultNamespaces = []lc.NsKind{lc.NsMount, lc.NsPID, lc.NsNet, lc.NsIPC, lc.NsUTS}

func specFromContext(ctx *cli.Context, tty, interactive, detach bool) (*lc.Spec, error) {
	argv := []string(ctx.Args())
	if len(argv) == 0 {
		argv = []string{"/bin/sh"}
	}

	var limits lc.CgroupLimits
	if m := ctx.String("memory"); m != "" {
		bytes, err := cgroups.ParseMemory(m)
		if err != nil {
			return nil, lc.NewError(lc.ErrInvalidArgument, "parse --memory", err)
		}
		limits.MemoryLimitBytes = bytes
	}

	return &lc.Spec{
		Argv:        argv,
		Env:         append(os.Environ(), "TERM=xterm"),
		Cwd:         "/",
		TTY:         tty,
		Interactive: interactive,
		Detach:      detach,
		Namespaces:  defaultNamespaces,
		Cgroup:      limits,
		Hostname:    ctx.String("id"),
	}, nil
}

var containerFlags = []cli.Flag{
	cli.StringFlag{Name: "id", Usage: "container ID"},
}

var runCreateFlags = []cli.Flag{
	cli.BoolFlag{Name: "tty, t", Usage: "allocate a pseudo-TTY"},
	cli.BoolFlag{Name: "interactive, i", Usage: "keep stdin open"},
	cli.BoolFlag{Name: "detach, d", Usage: "run in the background"},
	cli.StringFlag{Name: "memory, m", Usage: "memory limit (e.g. 256m)"},
}

var runCommand = cli.Command{
	Name:      "run",
	Usage:     "create and start a container, attaching unless detached",
	ArgsUsage: "[CMD ARGS...]",
	Flags:     append(append([]cli.Flag{}, containerFlags...), append(runCreateFlags, cli.StringFlag{Name: "image", Usage: "image source: file://, dir://, or a plain rootfs path"})...),
	Action: func(ctx *cli.Context) error {
		id := ctx.String("id")
		if id == "" {
			return lc.NewError(lc.ErrInvalidArgument, "run", fmt.Errorf("--id is required"))
		}
		spec, err := specFromContext(ctx, ctx.Bool("tty"), ctx.Bool("interactive"), ctx.Bool("detach"))
		if err != nil {
			return err
		}
		status, err := lifecycle.New().Run(id, ctx.String("image"), spec)
		if err != nil {
			return err
		}
		os.Exit(status)
		return nil
	},
}

var createCommand = cli.Command{
	Name:      "create",
	Usage:     "create a container without starting it",
	ArgsUsage: " ",
	Flags: append(append([]cli.Flag{}, containerFlags...),
		cli.StringFlag{Name: "rootfs", Usage: "path to the prepared rootfs"},
		cli.StringFlag{Name: "bundle", Usage: "directory used as the rootfs when --rootfs is not given (not read as an OCI bundle)"},
	),
	Action: func(ctx *cli.Context) error {
		id := ctx.String("id")
		if id == "" {
			return lc.NewError(lc.ErrInvalidArgument, "create", fmt.Errorf("--id is required"))
		}
		src := ctx.String("rootfs")
		if src == "" {
			src = ctx.String("bundle")
		}
		if src == "" {
			return lc.NewError(lc.ErrInvalidArgument, "create", fmt.Errorf("--rootfs or --bundle is required"))
		}
		spec, err := specFromContext(ctx, false, false, false)
		if err != nil {
			return err
		}
		return lifecycle.New().Create(id, src, spec)
	},
}

var startCommand = cli.Command{
	Name:      "start",
	Usage:     "start a previously created container",
	ArgsUsage: " ",
	Flags:     containerFlags,
	Action: func(ctx *cli.Context) error {
		if err := checkArgs(ctx, 0, exactArgs); err != nil {
			return err
		}
		id := ctx.String("id")
		if id == "" {
			return lc.NewError(lc.ErrInvalidArgument, "start", fmt.Errorf("--id is required"))
		}
		return lifecycle.New().Start(id)
	},
}

var execCommand = cli.Command{
	Name:      "exec",
	Usage:     "execute a command inside a running container",
	ArgsUsage: "[CMD ARGS...]",
	Flags: append(append([]cli.Flag{}, containerFlags...),
		cli.BoolFlag{Name: "tty, t", Usage: "allocate a pseudo-TTY"},
		cli.BoolFlag{Name: "interactive, i", Usage: "keep stdin open"},
	),
	Action: func(ctx *cli.Context) error {
		id := ctx.String("id")
		if id == "" {
			return lc.NewError(lc.ErrInvalidArgument, "exec", fmt.Errorf("--id is required"))
		}
		spec, err := specFromContext(ctx, ctx.Bool("tty"), ctx.Bool("interactive"), false)
		if err != nil {
			return err
		}
		status, err := lifecycle.New().Exec(id, spec)
		if err != nil {
			return err
		}
		os.Exit(status)
		return nil
	},
}

var deleteCommand = cli.Command{
	Name:      "delete",
	Usage:     "remove a container's state, bundle and cgroup",
	ArgsUsage: " ",
	Flags:     containerFlags,
	Action: func(ctx *cli.Context) error {
		if err := checkArgs(ctx, 0, exactArgs); err != nil {
			return err
		}
		id := ctx.String("id")
		if id == "" {
			return lc.NewError(lc.ErrInvalidArgument, "delete", fmt.Errorf("--id is required"))
		}
		return lifecycle.New().Delete(id)
	},
}

var listCommand = cli.Command{
	Name:      "list",
	Usage:     "list containers",
	ArgsUsage: " ",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "all, a", Usage: "include non-running containers"},
		cli.StringFlag{Name: "format, f", Value: "table", Usage: "output format: table or json"},
	},
	Action: func(ctx *cli.Context) error {
		if err := checkArgs(ctx, 0, exactArgs); err != nil {
			return err
		}
		states, err := lifecycle.New().List(ctx.Bool("all"))
		if err != nil {
			return err
		}
		if ctx.String("format") == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "\t")
			return enc.Encode(states)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPID\tBUNDLE")
		for _, st := range states {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", st.ID, st.Status, st.InitPID, st.BundlePath)
		}
		return w.Flush()
	},
}

// storageCommand stubs spec.md §6's "storage pull|mount|umount|cleanup"
// group. Registry pulls and layered/overlay storage are explicit
// Non-goals; resolveImage already covers the tar/dir/bare-path sources
// this runtime actually supports, so each of these verbs reports the
// unsupported scheme rather than silently doing nothing.
var storageCommand = cli.Command{
	Name:  "storage",
	Usage: "image storage operations (pull/mount/umount/cleanup not implemented)",
	Subcommands: []cli.Command{
		{Name: "pull", Usage: "not supported: use --image file://, dir://, or a rootfs path", Action: storageUnsupported},
		{Name: "mount", Usage: "not supported: use --image dir://<path>", Action: storageUnsupported},
		{Name: "umount", Usage: "not supported", Action: storageUnsupported},
		{Name: "cleanup", Usage: "not supported", Action: storageUnsupported},
	},
}

func storageUnsupported(ctx *cli.Context) error {
	return lc.NewError(lc.ErrInvalidArgument, "storage", fmt.Errorf("registry/layered image storage is not supported; pass --image file://<tar>, dir://<path>, or a plain rootfs path"))
}

// containerCommand is the stable "container <verb>" surface; ctrCommand
// below is its alias tree (spec.md §6: "container run (ctr run) ...").
var containerCommand = cli.Command{
	Name:        "container",
	Usage:       "manage containers",
	Subcommands: []cli.Command{runCommand, createCommand, startCommand, execCommand, deleteCommand, listCommand},
}

var ctrCommand = cli.Command{
	Name:  "ctr",
	Usage: "manage containers (alias for container)",
	Subcommands: []cli.Command{
		runCommand,
		createCommand,
		startCommand,
		execCommand,
		withAlias(deleteCommand, "rm"),
		withAlias(listCommand, "ls"),
	},
}

func withAlias(cmd cli.Command, alias string) cli.Command {
	cmd.Name = alias
	return cmd
}
