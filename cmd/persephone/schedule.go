package main

import (
	"fmt"

	"github.com/fgeck/persephone/internal/config"
	"github.com/fgeck/persephone/internal/models"
	"github.com/fgeck/persephone/internal/services/scheduler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	scheduleExpr      string
	scheduleRandomize bool
	scheduleReplace   bool
	scheduleBackupDir string
	scheduleLogFile   string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage the crontab entry for scheduled backups",
}

var scheduleInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Add a crontab entry running create",
	Long: `Add a crontab entry that runs "persephone run create" for this
configuration file. The current crontab is backed up first.`,
	Args: cobra.NoArgs,
	RunE: scheduleInstall,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove persephone entries from the crontab",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := scheduler.New(log.Logger).Remove(cmd.Context(), scheduleBackupDir, scheduler.DefaultMarker)
		if err != nil {
			return err
		}
		fmt.Printf("Crontab backed up to %s.\n", result.BackupFile)
		fmt.Printf("Removed %d entries.\n", len(result.Removed))
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persephone entries in the crontab",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, err := scheduler.New(log.Logger).List(cmd.Context(), scheduler.DefaultMarker)
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Println(l)
		}
		return nil
	},
}

func init() {
	scheduleCmd.PersistentFlags().StringVar(&scheduleBackupDir, "backup-dir", "", "directory for crontab backups (current directory when empty)")

	f := scheduleInstallCmd.Flags()
	f.StringVar(&scheduleExpr, "schedule", "0 3 * * *", "five cron fields")
	f.BoolVar(&scheduleRandomize, "randomize", false, "pick a random minute to spread load across hosts")
	f.BoolVar(&scheduleReplace, "replace", false, "remove existing persephone entries first")
	f.StringVar(&scheduleLogFile, "cron-log", config.DefaultLogPath, "JSON log of the scheduled run, console output goes to a -cron sibling file")

	scheduleCmd.AddCommand(scheduleInstallCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
}

func scheduleInstall(cmd *cobra.Command, args []string) error {
	fields, err := scheduler.ParseFields(scheduleExpr)
	if err != nil {
		return err
	}

	result, err := scheduler.New(log.Logger).Install(cmd.Context(), scheduler.InstallRequest{
		Entry: models.ScheduleEntry{
			TimeFields:  fields,
			CommandLine: scheduler.CommandLine(executable(), configFile, scheduleLogFile),
		},
		BackupDir:       scheduleBackupDir,
		RandomizeMinute: scheduleRandomize,
		ConfirmRemoval:  func([]string) bool { return scheduleReplace },
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to install crontab entry")
		return err
	}

	fmt.Printf("Crontab backed up to %s.\n", result.BackupFile)
	if result.DuplicateWarning {
		fmt.Println("Warning: existing entries were kept, backups may run more than once. Use --replace to remove them.")
	}
	fmt.Printf("Added: %s\n", result.Line)
	return nil
}
