package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fgeck/persephone/internal/config"
	"github.com/fgeck/persephone/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	fleetFile  string
	logFile    string
	verbose    bool
	quiet      bool
	jsonOutput bool

	logOutput io.Closer
)

// Profile edit flags, applied without entering the menu.
var (
	editTool           string
	editRepo           string
	editPassphrase     string
	editPassphraseFile string
	editEncryption     string
	editCompression    string
	editPaths          []string
	editExcludes       []string
	editKeepDaily      int
	editKeepWeekly     int
	editKeepMonthly    int
	editKeepYearly     int
	editRSH            string
	editVolumeDir      string
)

var rootCmd = &cobra.Command{
	Use:   "persephone",
	Short: "A borg and restic backup orchestrator",
	Long: `persephone drives borg or restic from one configuration file:
  - Interactive menu for every repository operation
  - Non-interactive runs for cron and scripts
  - Crontab installation for scheduled backups
  - Config retrieval and backups across a fleet of SSH hosts
  - Telegram notifications

Without arguments the interactive menu starts. Passing any of the
configuration flags (--repo, --paths, ...) updates the configuration
file instead.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE:          runRoot,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", config.DefaultConfigPath, "configuration file (.yaml or flat KEY=\"value\")")
	pf.StringVar(&fleetFile, "fleet", config.DefaultFleetPath, "fleet file listing backup targets")
	pf.StringVar(&logFile, "log-file", config.DefaultLogPath, "append JSON logs to this file, empty disables")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	pf.BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	f := rootCmd.Flags()
	f.StringVar(&editTool, "tool", "", "backup tool (borg, restic)")
	f.StringVar(&editRepo, "repo", "", "repository location")
	f.StringVar(&editPassphrase, "passphrase", "", "repository passphrase")
	f.StringVar(&editPassphraseFile, "passphrase-file", "", "file holding the repository passphrase")
	f.StringVar(&editEncryption, "encryption", "", "encryption mode (none, repokey, keyfile)")
	f.StringVar(&editCompression, "compression", "", "compression, e.g. lz4, zstd or zstd,10")
	f.StringSliceVar(&editPaths, "paths", nil, "directories to back up")
	f.StringSliceVar(&editExcludes, "exclude", nil, "exclude patterns")
	f.IntVar(&editKeepDaily, "keep-daily", 0, "daily archives to keep")
	f.IntVar(&editKeepWeekly, "keep-weekly", 0, "weekly archives to keep")
	f.IntVar(&editKeepMonthly, "keep-monthly", 0, "monthly archives to keep")
	f.IntVar(&editKeepYearly, "keep-yearly", 0, "yearly archives to keep")
	f.StringVar(&editRSH, "rsh", "", "remote shell command for borg (BORG_RSH)")
	f.StringVar(&editVolumeDir, "docker-volume-dir", "", "export Docker volumes here before each backup, empty disables")

	rootCmd.AddCommand(menuCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(fleetCmd)
	rootCmd.AddCommand(volumesCmd)
}

func setupLogging() {
	var console io.Writer
	if jsonOutput {
		console = os.Stdout
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		console = output
	}

	writers := []io.Writer{console}
	var fileErr error
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			fileErr = err
		} else {
			writers = append(writers, f)
			logOutput = f
		}
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if fileErr != nil {
		log.Warn().Err(fileErr).Str("file", logFile).Msg("cannot open log file, logging to console only")
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	edit, err := profileEdit(cmd)
	if err != nil {
		return err
	}
	if edit.IsEmpty() {
		return runMenu(cmd, args)
	}
	return applyEdit(edit)
}

// profileEdit collects the edit flags that were set on the command line.
//
//nolint:gocyclo // one branch per flag
func profileEdit(cmd *cobra.Command) (config.Edit, error) {
	var e config.Edit
	f := cmd.Flags()

	if f.Changed("tool") {
		tool, err := models.ParseTool(editTool)
		if err != nil {
			return e, err
		}
		e.Tool = &tool
	}
	if f.Changed("encryption") {
		enc, err := models.ParseEncryptionMode(editEncryption)
		if err != nil {
			return e, err
		}
		e.Encryption = &enc
	}
	if f.Changed("repo") {
		e.Repository = &editRepo
	}
	if f.Changed("passphrase") {
		e.Passphrase = &editPassphrase
	}
	if f.Changed("passphrase-file") {
		e.PassphraseFile = &editPassphraseFile
	}
	if f.Changed("compression") {
		e.Compression = &editCompression
	}
	if f.Changed("rsh") {
		e.RSH = &editRSH
	}
	if f.Changed("docker-volume-dir") {
		e.DockerVolumeDir = &editVolumeDir
	}
	if f.Changed("paths") {
		e.IncludePaths = nonNil(editPaths)
	}
	if f.Changed("exclude") {
		e.ExcludePatterns = nonNil(editExcludes)
	}
	if f.Changed("keep-daily") {
		e.KeepDaily = &editKeepDaily
	}
	if f.Changed("keep-weekly") {
		e.KeepWeekly = &editKeepWeekly
	}
	if f.Changed("keep-monthly") {
		e.KeepMonthly = &editKeepMonthly
	}
	if f.Changed("keep-yearly") {
		e.KeepYearly = &editKeepYearly
	}
	return e, nil
}

// nonNil keeps an explicitly emptied list distinct from an unset one.
func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func applyEdit(edit config.Edit) error {
	store := config.NewStore(configFile, log.Logger)

	profile := config.Defaults()
	if store.Exists() {
		loaded, err := store.Load()
		if err != nil {
			log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
			return err
		}
		profile = *loaded
	}

	if err := config.ApplyEdit(&profile, edit); err != nil {
		log.Error().Err(err).Msg("configuration change rejected")
		return err
	}
	if err := store.Save(profile); err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to save config")
		return err
	}

	fmt.Printf("Configuration saved to %s.\n", configFile)
	if missing := config.Validate(profile); len(missing) > 0 {
		fmt.Println("Still missing:")
		for _, m := range missing {
			fmt.Printf("  - %s\n", m)
		}
	}
	return nil
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		log.Error().Err(err).Msg("persephone failed")
	}
	if logOutput != nil {
		_ = logOutput.Close()
	}
	return err
}
