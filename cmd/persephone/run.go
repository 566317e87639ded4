package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fgeck/persephone/internal/services/command"
	"github.com/fgeck/persephone/internal/services/fleet"
	"github.com/fgeck/persephone/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	runOpts          command.Options
	runDir           string
	runTempDir       string
	runTarget        string
	runInitIfMissing bool
	runNotify        bool
)

var runCmd = &cobra.Command{
	Use:   "run <operation> [-- command...]",
	Short: "Run one repository operation",
	Long: `Run one borg or restic operation against the configured repository.

Operations: ` + operationNames() + `

A create names the archive <host>-<timestamp>-<suffix>. With --target the
operation runs on that fleet host over SSH, using the target's overrides.
For with-lock, the command to run follows "--".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOperation,
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runOpts.DryRun, "dry-run", false, "show what would change without changing it")
	f.StringVar(&runOpts.Archive, "archive", "", "archive name or snapshot ID")
	f.StringVar(&runOpts.Archive2, "archive2", "", "second archive for diff")
	f.StringVar(&runOpts.NewName, "new-name", "", "new archive name for rename")
	f.StringVar(&runOpts.MountPoint, "mount-point", "", "mount point for mount and unmount")
	f.StringVar(&runOpts.Destination, "dest", "", "restore target or benchmark scratch directory")
	f.StringSliceVar(&runOpts.Paths, "path", nil, "paths for extract or serve")
	f.StringVar(&runOpts.TarFile, "tar-file", "", "tarball for import-tar and export-tar")
	f.StringVar(&runOpts.KeyFile, "key-file", "", "key file for key-export and key-import")
	f.BoolVar(&runOpts.VerifyData, "verify-data", false, "check: read and verify all data")
	f.StringVar(&runDir, "dir", "", "working directory for the tool (borg extract restores here)")
	f.StringVar(&runTempDir, "temp-dir", "", "temporary directory checked for free space")
	f.StringVar(&runTarget, "target", "", "run on this fleet target over SSH")
	f.BoolVar(&runInitIfMissing, "init-if-missing", false, "initialize a missing repository and retry")
	f.BoolVar(&runNotify, "notify", true, "send a Telegram summary when configured")
}

func operationNames() string {
	ops := command.Operations()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = string(op)
	}
	return strings.Join(names, ", ")
}

func runOperation(cmd *cobra.Command, args []string) error {
	op, err := command.ParseOperation(args[0])
	if err != nil {
		return err
	}
	opts := runOpts
	if op == command.OpWithLock {
		opts.Command = args[1:]
	} else if len(args) > 1 {
		return fmt.Errorf("%s takes no positional arguments, got %q", op, args[1:])
	}

	a := newApp()
	profile, err := a.loadProfile()
	if err != nil {
		return err
	}

	req := runner.Request{
		Operation:     op,
		Options:       opts,
		Dir:           runDir,
		TempDir:       runTempDir,
		InitIfMissing: runInitIfMissing,
		Notify:        runNotify,
	}
	if runTarget != "" {
		cfg, err := loadFleet()
		if err != nil {
			return err
		}
		target, err := fleet.Select(*cfg, runTarget)
		if err != nil {
			return err
		}
		overlaid := fleet.Overlay(*profile, target)
		overlaid.Telegram = profile.Telegram
		profile = &overlaid
		req.Target = &target
	}

	log.Info().
		Str("operation", string(op)).
		Str("tool", string(profile.Tool)).
		Str("target", runTarget).
		Msg("starting operation")

	result, err := a.runner.Run(cmd.Context(), profile, req)
	if result != nil && result.Exec != nil {
		fmt.Fprint(os.Stdout, result.Exec.Stdout)
		fmt.Fprint(os.Stderr, result.Exec.Stderr)
	}
	if err != nil {
		log.Error().Err(err).Str("operation", string(op)).Msg("operation failed")
		return err
	}

	event := log.Info().Str("operation", string(op)).Bool("initialized", result.Initialized)
	if result.Archive != "" {
		event = event.Str("archive", result.Archive)
	}
	if result.Volumes != nil {
		event = event.Int("volumes_exported", len(result.Volumes.Archives))
	}
	event.Msg("operation completed successfully")
	return nil
}
