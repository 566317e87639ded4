// Package menu implements the interactive numbered menu.
package menu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/persephone/internal/config"
	"github.com/fgeck/persephone/internal/models"
	"github.com/fgeck/persephone/internal/services/command"
	"github.com/fgeck/persephone/internal/services/dockervolumes"
	"github.com/fgeck/persephone/internal/services/fleet"
	"github.com/fgeck/persephone/internal/services/runner"
	"github.com/fgeck/persephone/internal/services/scheduler"
	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
)

// RemediationPrompt is asked when an operation hits a missing repository.
const RemediationPrompt = "Repository is not initialized. Initialize it now and retry? (y/N)"

// ProfileStore loads and saves the backup profile.
type ProfileStore interface {
	Path() string
	Exists() bool
	Load() (*models.BackupProfile, error)
	Save(profile models.BackupProfile) error
}

// Deps are the services the menu dispatches to.
type Deps struct {
	Store     ProfileStore
	Runner    runner.Service
	Scheduler scheduler.Service
	Fleet     fleet.Service
	Volumes   dockervolumes.Service
	LoadFleet func() (*models.FleetConfig, error)

	Binary      string // persephone executable used in the cron line
	LogFile     string // JSON log of scheduled runs
	CrontabDir  string // crontab backups
	RetrieveDir string // fleet retrieval destination
	TempDir     string
}

// Menu is the interactive choice loop.
type Menu struct {
	deps   Deps
	prompt *Prompter
	logger zerolog.Logger

	profile *models.BackupProfile
}

// New creates a menu.
func New(logger zerolog.Logger, prompt *Prompter, deps Deps) *Menu {
	return &Menu{deps: deps, prompt: prompt, logger: logger}
}

type action struct {
	key   string
	label string
	run   func(m *Menu, ctx context.Context) error
}

var actions = []action{
	{"N", "Run backup (N)ow", (*Menu).backupNow},
	{"D", "(D)ry-run backup", (*Menu).dryRun},
	{"C", "(C)onfigure", (*Menu).configure},
	{"V", "(V)alidate configuration", (*Menu).validate},
	{"A", "(A)utomate backup (add to crontab)", (*Menu).automate},
	{"R", "(R)etrieve configs from all fleet targets", (*Menu).retrieveAll},
	{"T", "Retrieve configs from one (T)arget", (*Menu).retrieveOne},
	{"B", "Fleet (B)ackup", (*Menu).fleetBackup},
	{"X", "E(x)port Docker volumes", (*Menu).exportVolumes},
	{"H", "Tool (H)elp", (*Menu).help},
}

// Run shows the menu until the user exits, input ends or ctx is cancelled.
func (m *Menu) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		m.show()

		choice, err := m.prompt.Line("Select an option or command number: ")
		if errors.Is(err, io.EOF) {
			m.prompt.Printf("\n")
			return nil
		}
		if err != nil {
			return err
		}

		choice = strings.ToUpper(choice)
		if choice == "E" {
			return nil
		}

		run, ok := m.lookup(choice)
		if !ok {
			m.prompt.Printf("Invalid choice %q, please try again.\n", choice)
			continue
		}
		if err := m.dispatch(ctx, choice, run); errors.Is(err, io.EOF) {
			m.prompt.Printf("\n")
			return nil
		}
	}
}

func (m *Menu) show() {
	m.prompt.Printf("\npersephone (%s)\n\n", m.deps.Store.Path())
	for _, a := range actions {
		m.prompt.Printf("(%s) %s\n", a.key, a.label)
	}
	m.prompt.Printf("(E) (E)xit\n\n")
	for i, op := range command.Operations() {
		m.prompt.Printf("(%d) %-12s %s\n", i+1, op, op.Description())
	}
	m.prompt.Printf("\n")
}

func (m *Menu) lookup(choice string) (func(m *Menu, ctx context.Context) error, bool) {
	for _, a := range actions {
		if a.key == choice {
			return a.run, true
		}
	}
	n, err := strconv.Atoi(choice)
	ops := command.Operations()
	if err != nil || n < 1 || n > len(ops) {
		return nil, false
	}
	op := ops[n-1]
	return func(m *Menu, ctx context.Context) error { return m.operation(ctx, op) }, true
}

// dispatch runs one handler. Errors and panics are logged and shown; the
// loop always continues.
func (m *Menu) dispatch(ctx context.Context, choice string, run func(m *Menu, ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("choice", choice).Msg("menu handler panicked")
			m.prompt.Printf("Internal error: %v\n", r)
			err = nil
		}
	}()

	err = run(m, ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		m.logger.Error().Err(err).Str("choice", choice).Msg("menu action failed")
		m.prompt.Printf("Error: %v\n", err)
	}
	return err
}

// loadProfile returns the cached profile, loading it or running first setup.
func (m *Menu) loadProfile() (*models.BackupProfile, error) {
	if m.profile != nil {
		return m.profile, nil
	}
	if !m.deps.Store.Exists() {
		m.prompt.Printf("No configuration found at %s, starting setup.\n", m.deps.Store.Path())
		profile := config.Defaults()
		if err := m.edit(&profile); err != nil {
			return nil, err
		}
		m.profile = &profile
		return m.profile, nil
	}
	profile, err := m.deps.Store.Load()
	if err != nil {
		return nil, err
	}
	m.profile = profile
	return m.profile, nil
}

func (m *Menu) backupNow(ctx context.Context) error {
	return m.runOperation(ctx, command.OpCreate, command.Options{}, "")
}

func (m *Menu) dryRun(ctx context.Context) error {
	return m.runOperation(ctx, command.OpCreate, command.Options{DryRun: true}, "")
}

func (m *Menu) configure(ctx context.Context) error {
	if m.profile == nil && !m.deps.Store.Exists() {
		_, err := m.loadProfile()
		return err
	}

	profile, err := m.loadProfile()
	if err != nil {
		if !isRecoverableLoadError(err) {
			return err
		}
		m.prompt.Printf("Existing configuration could not be read (%v), starting from defaults.\n", err)
		defaults := config.Defaults()
		profile = &defaults
	}

	edited := profile.Clone()
	if err := m.edit(&edited); err != nil {
		return err
	}
	m.profile = &edited
	return nil
}

func isRecoverableLoadError(err error) bool {
	var parseErr *models.ConfigParseError
	return errors.As(err, &parseErr)
}

// edit walks through every field, saving once at the end.
//
//nolint:gocognit,gocyclo // one prompt per field
func (m *Menu) edit(profile *models.BackupProfile) error {
	var e config.Edit
	p := m.prompt

	if profile.Initialized {
		p.Printf("Repository %s (%s, %s) is initialized and cannot be changed here.\n",
			profile.RepositoryLocator, profile.Tool, profile.EncryptionMode)
	} else {
		var tool models.Tool
		for {
			answer, err := p.Default("Backup tool (borg, restic)", string(profile.Tool))
			if err != nil {
				return err
			}
			if tool, err = models.ParseTool(answer); err == nil {
				break
			}
			p.Printf("%v\n", err)
		}
		e.Tool = &tool

		repo, err := p.Default("Repository", profile.RepositoryLocator)
		if err != nil {
			return err
		}
		e.Repository = &repo

		var enc models.EncryptionMode
		for {
			answer, err := p.Default("Encryption (none, repokey, keyfile)", string(profile.EncryptionMode))
			if err != nil {
				return err
			}
			if enc, err = models.ParseEncryptionMode(answer); err == nil {
				break
			}
			p.Printf("%v\n", err)
		}
		e.Encryption = &enc
	}

	passphrase, err := p.Secret("Passphrase", profile.Passphrase)
	if err != nil {
		return err
	}
	e.Passphrase = &passphrase

	rsh, err := p.Default("Remote shell command (BORG_RSH)", profile.RSH)
	if err != nil {
		return err
	}
	e.RSH = &rsh

	if e.IncludePaths, err = p.List("Directories to back up", profile.IncludePaths); err != nil {
		return err
	}
	if e.ExcludePatterns, err = p.List("Exclude patterns", profile.ExcludePatterns); err != nil {
		return err
	}

	compression, err := p.Default("Compression (lz4, zstd, zstd,10, auto)", profile.Compression)
	if err != nil {
		return err
	}
	e.Compression = &compression

	keep := []struct {
		label string
		cur   int
		dst   **int
	}{
		{"Daily archives to keep", profile.Retention.Daily, &e.KeepDaily},
		{"Weekly archives to keep", profile.Retention.Weekly, &e.KeepWeekly},
		{"Monthly archives to keep", profile.Retention.Monthly, &e.KeepMonthly},
		{"Yearly archives to keep", profile.Retention.Yearly, &e.KeepYearly},
	}
	for _, k := range keep {
		n, err := p.Int(k.label, k.cur)
		if err != nil {
			return err
		}
		*k.dst = &n
	}

	if err := config.ApplyEdit(profile, e); err != nil {
		return err
	}
	if err := m.deps.Store.Save(*profile); err != nil {
		return err
	}

	m.logger.Info().Str("path", m.deps.Store.Path()).Msg("configuration saved")
	p.Printf("Configuration saved to %s.\n", m.deps.Store.Path())
	return nil
}

func (m *Menu) validate(ctx context.Context) error {
	profile, err := m.loadProfile()
	if err != nil {
		return err
	}
	missing := config.Validate(*profile)
	if len(missing) == 0 {
		m.prompt.Printf("Configuration is complete.\n")
		return nil
	}
	m.prompt.Printf("Missing configuration values:\n")
	for _, f := range missing {
		m.prompt.Printf("  - %s\n", f)
	}
	return nil
}

func (m *Menu) automate(ctx context.Context) error {
	p := m.prompt
	p.Printf("Enter the schedule as five cron fields, e.g. \"0 3 * * *\".\n")

	var fields [5]string
	for {
		expr, err := p.Default("Schedule", "0 3 * * *")
		if err != nil {
			return err
		}
		fields, err = scheduler.ParseFields(expr)
		if err == nil {
			break
		}
		p.Printf("%v\n", err)
	}

	randomize, err := p.Confirm("Randomize the minute to spread load across hosts? (y/N)")
	if err != nil {
		return err
	}

	var confirmErr error
	result, err := m.deps.Scheduler.Install(ctx, scheduler.InstallRequest{
		Entry: models.ScheduleEntry{
			TimeFields:  fields,
			CommandLine: scheduler.CommandLine(m.deps.Binary, m.deps.Store.Path(), m.deps.LogFile),
		},
		BackupDir:       m.deps.CrontabDir,
		RandomizeMinute: randomize,
		ConfirmRemoval: func(lines []string) bool {
			p.Printf("Existing persephone entries:\n")
			for _, l := range lines {
				p.Printf("  %s\n", l)
			}
			ok, err := p.Confirm("Remove them before adding the new entry? (y/N)")
			if err != nil {
				confirmErr = err
			}
			return ok
		},
	})
	if confirmErr != nil {
		return confirmErr
	}
	if err != nil {
		return err
	}

	p.Printf("Crontab backed up to %s.\n", result.BackupFile)
	if result.DuplicateWarning {
		p.Printf("Warning: existing entries were kept, backups may run more than once.\n")
	}
	p.Printf("Added: %s\n", result.Line)
	return nil
}

func (m *Menu) loadFleet() (*models.FleetConfig, error) {
	if m.deps.LoadFleet == nil {
		return nil, errors.New("no fleet configuration available")
	}
	return m.deps.LoadFleet()
}

func (m *Menu) retrieveAll(ctx context.Context) error {
	cfg, err := m.loadFleet()
	if err != nil {
		return err
	}
	m.printReport(m.deps.Fleet.Retrieve(ctx, *cfg, m.deps.RetrieveDir))
	return nil
}

func (m *Menu) retrieveOne(ctx context.Context) error {
	cfg, err := m.loadFleet()
	if err != nil {
		return err
	}
	for i, t := range cfg.Targets {
		m.prompt.Printf("(%d) %s (%s)\n", i+1, t.Name, t.Host)
	}
	answer, err := m.prompt.Required("Target name or number")
	if err != nil {
		return err
	}

	var target models.RemoteTarget
	if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(cfg.Targets) {
		target = cfg.Targets[n-1]
	} else if target, err = fleet.Select(*cfg, answer); err != nil {
		return err
	}

	one := models.FleetConfig{Targets: []models.RemoteTarget{target}}
	m.printReport(m.deps.Fleet.Retrieve(ctx, one, m.deps.RetrieveDir))
	return nil
}

func (m *Menu) fleetBackup(ctx context.Context) error {
	profile, err := m.loadProfile()
	if err != nil {
		return err
	}
	cfg, err := m.loadFleet()
	if err != nil {
		return err
	}
	dryRun, err := m.prompt.Confirm("Dry run only? (y/N)")
	if err != nil {
		return err
	}
	initMissing, err := m.prompt.Confirm("Initialize repositories that do not exist yet? (y/N)")
	if err != nil {
		return err
	}

	started := time.Now()
	report := m.deps.Fleet.Backup(ctx, *cfg, *profile, fleet.BackupOptions{DryRun: dryRun, InitIfMissing: initMissing})
	m.printReport(report)
	m.deps.Fleet.Notify(ctx, profile.Telegram, report, started)
	return nil
}

func (m *Menu) exportVolumes(ctx context.Context) error {
	if m.deps.Volumes == nil {
		return errors.New("docker volume export is not available")
	}

	dir := config.DefaultVolumeDir
	if m.profile != nil || m.deps.Store.Exists() {
		if profile, err := m.loadProfile(); err == nil && profile.DockerVolumeDir != "" {
			dir = profile.DockerVolumeDir
		}
	}
	m.prompt.Printf("All containers must be stopped before their volumes are exported.\n")
	dir, err := m.prompt.Default("Export directory", dir)
	if err != nil {
		return err
	}

	result, err := m.deps.Volumes.Export(ctx, dir)
	if err != nil {
		return err
	}
	if result.Error != nil {
		return result.Error
	}
	if len(result.Archives) == 0 {
		m.prompt.Printf("No Docker volumes found.\n")
		return nil
	}
	for _, a := range result.Archives {
		m.prompt.Printf("  %s -> %s\n", a.Volume, a.Path)
	}
	m.prompt.Printf("%d volumes exported to %s.\n", len(result.Archives), result.Dir)
	return nil
}

func (m *Menu) printReport(report *models.FleetReport) {
	m.prompt.Printf("\n%s:\n", report.Operation)
	for _, r := range report.Results {
		if r.Err != nil {
			m.prompt.Printf("  FAIL %s (%s): %v\n", r.Name, r.Host, r.Err)
			continue
		}
		m.prompt.Printf("  OK   %s (%s) %s\n", r.Name, r.Host, strings.Join(r.Files, ", "))
	}
	m.prompt.Printf("%d succeeded, %d failed\n", len(report.Succeeded()), len(report.Failed()))
}

func (m *Menu) help(ctx context.Context) error {
	m.prompt.Printf("Commands run against the configured repository:\n\n")
	for _, op := range command.Operations() {
		m.prompt.Printf("  %-12s %s\n", op, op.Description())
	}
	m.prompt.Printf("\nConfiguration: %s\n", m.deps.Store.Path())
	m.prompt.Printf("Run 'persephone run <command> --help' for non-interactive use.\n")
	return nil
}

func (m *Menu) operation(ctx context.Context, op command.Operation) error {
	profile, err := m.loadProfile()
	if err != nil {
		return err
	}
	opts, dir, err := m.askOptions(op, profile.Tool)
	if err != nil {
		return err
	}
	return m.runOperation(ctx, op, opts, dir)
}

func (m *Menu) runOperation(ctx context.Context, op command.Operation, opts command.Options, dir string) error {
	profile, err := m.loadProfile()
	if err != nil {
		return err
	}

	var promptErr error
	result, err := m.deps.Runner.Run(ctx, profile, runner.Request{
		Operation: op,
		Options:   opts,
		Dir:       dir,
		TempDir:   m.deps.TempDir,
		Remediate: func() bool {
			ok, err := m.prompt.Confirm(RemediationPrompt)
			if err != nil {
				promptErr = err
			}
			return ok
		},
	})
	if result != nil && result.Exec != nil {
		m.prompt.Printf("%s", result.Exec.Stdout)
		m.prompt.Printf("%s", result.Exec.Stderr)
	}
	if promptErr != nil {
		return promptErr
	}
	if err != nil {
		var missing *models.MissingConfigError
		if errors.As(err, &missing) {
			m.prompt.Printf("Configuration is incomplete, choose (C) to configure it.\n")
		}
		return err
	}

	if result.Archive != "" {
		m.prompt.Printf("%s finished: %s\n", op, result.Archive)
	} else {
		m.prompt.Printf("%s finished.\n", op)
	}
	return nil
}

// askOptions prompts for the arguments op needs. dir is the working
// directory for borg extract, which restores into the current directory.
//
//nolint:gocyclo // one case per operation
func (m *Menu) askOptions(op command.Operation, tool models.Tool) (command.Options, string, error) {
	var opts command.Options
	var dir string
	var err error
	p := m.prompt

	switch op {
	case command.OpCreate, command.OpPrune, command.OpUpgrade:
		opts.DryRun, err = p.Confirm("Dry run? (y/N)")
	case command.OpCheck:
		opts.VerifyData, err = p.Confirm("Verify all data (slow)? (y/N)")
	case command.OpList, command.OpInfo, command.OpRecreate:
		opts.Archive, err = p.Default("Archive (empty for whole repository)", "")
	case command.OpExtract:
		if opts.Archive, err = p.Required("Archive"); err != nil {
			break
		}
		if opts.Destination, err = p.Default("Restore into directory", "."); err != nil {
			break
		}
		if tool != models.ToolRestic {
			dir = opts.Destination
		}
		opts.Paths, err = p.List("Paths to extract (empty for all)", nil)
	case command.OpDelete:
		if opts.Archive, err = p.Required("Archive to delete"); err != nil {
			break
		}
		var ok bool
		if ok, err = p.Confirm(fmt.Sprintf("Really delete %s? (y/N)", opts.Archive)); err == nil && !ok {
			opts.DryRun = true
			p.Printf("Running as dry run.\n")
		}
	case command.OpRename:
		if opts.Archive, err = p.Required("Archive"); err != nil {
			break
		}
		opts.NewName, err = p.Required("New name")
	case command.OpMount:
		if opts.MountPoint, err = p.Required("Mount point"); err != nil {
			break
		}
		opts.Archive, err = p.Default("Archive (empty for whole repository)", "")
	case command.OpUnmount:
		opts.MountPoint, err = p.Required("Mount point")
	case command.OpKeyExport:
		opts.KeyFile, err = p.Default("Export key to file (empty prints it)", "")
	case command.OpKeyImport:
		opts.KeyFile, err = p.Required("Key file")
	case command.OpWithLock:
		var line string
		if line, err = p.Required("Command to run with the lock held"); err != nil {
			break
		}
		opts.Command, err = shellquote.Split(line)
	case command.OpImportTar, command.OpExportTar:
		if opts.Archive, err = p.Required("Archive"); err != nil {
			break
		}
		opts.TarFile, err = p.Required("Tar file")
	case command.OpDiff:
		if opts.Archive, err = p.Required("First archive"); err != nil {
			break
		}
		opts.Archive2, err = p.Required("Second archive")
	case command.OpServe:
		opts.Paths, err = p.List("Restrict to paths", nil)
	case command.OpBenchmark:
		opts.Destination, err = p.Default("Scratch directory", os.TempDir())
	}

	return opts, dir, err
}
