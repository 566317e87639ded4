package main

import (
	"fmt"
	"time"

	"github.com/fgeck/persephone/internal/services/fleet"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	fleetDest          string
	fleetDryRun        bool
	fleetInitIfMissing bool
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Operate on every host of the fleet file",
}

var fleetRetrieveCmd = &cobra.Command{
	Use:   "retrieve [target]",
	Short: "Copy configuration files from fleet hosts over SFTP",
	Long: `Copy each target's configured files into the destination directory
as <host>_<basename>. A failing host never stops the others.`,
	Args: cobra.MaximumNArgs(1),
	RunE: fleetRetrieve,
}

var fleetBackupCmd = &cobra.Command{
	Use:   "backup [target]",
	Short: "Run create on fleet hosts over SSH",
	Long: `Run a create on each target over SSH, one host after the other,
using the local profile with the target's overrides. Targets with a
wake section are woken first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: fleetBackup,
}

func init() {
	fleetRetrieveCmd.Flags().StringVar(&fleetDest, "dest", ".", "directory the files are written to")
	fleetBackupCmd.Flags().BoolVar(&fleetDryRun, "dry-run", false, "show what would be backed up")
	fleetBackupCmd.Flags().BoolVar(&fleetInitIfMissing, "init-if-missing", false, "initialize missing repositories")

	fleetCmd.AddCommand(fleetRetrieveCmd)
	fleetCmd.AddCommand(fleetBackupCmd)
}

func targetArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func fleetRetrieve(cmd *cobra.Command, args []string) error {
	cfg, err := loadFleet()
	if err != nil {
		return err
	}
	targets, err := selectTargets(cfg, targetArg(args))
	if err != nil {
		return err
	}

	report := newApp().fleet.Retrieve(cmd.Context(), targets, fleetDest)
	printReport(report)
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d targets failed", len(failed), len(report.Results))
	}
	return nil
}

func fleetBackup(cmd *cobra.Command, args []string) error {
	a := newApp()
	profile, err := a.loadProfile()
	if err != nil {
		return err
	}
	cfg, err := loadFleet()
	if err != nil {
		return err
	}
	targets, err := selectTargets(cfg, targetArg(args))
	if err != nil {
		return err
	}

	started := time.Now()
	report := a.fleet.Backup(cmd.Context(), targets, *profile, fleet.BackupOptions{
		DryRun:        fleetDryRun,
		InitIfMissing: fleetInitIfMissing,
	})
	printReport(report)
	a.fleet.Notify(cmd.Context(), profile.Telegram, report, started)

	if failed := report.Failed(); len(failed) > 0 {
		err := fmt.Errorf("%d of %d targets failed", len(failed), len(report.Results))
		log.Error().Err(err).Msg("fleet backup finished with failures")
		return err
	}
	return nil
}
