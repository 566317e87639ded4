// Package runner is the boundary every backup tool invocation passes through.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/persephone/internal/config"
	"github.com/fgeck/persephone/internal/models"
	"github.com/fgeck/persephone/internal/services/command"
	"github.com/fgeck/persephone/internal/services/diskcheck"
	"github.com/fgeck/persephone/internal/services/dockervolumes"
	"github.com/fgeck/persephone/internal/services/executor"
	"github.com/fgeck/persephone/internal/services/objectstore"
	"github.com/fgeck/persephone/internal/services/telegram"
	"github.com/rs/zerolog"
)

// Step names reported in failure notifications.
const (
	StepValidate  = "validate"
	StepPreflight = "preflight"
	StepBuild     = "build"
	StepVolumes   = "volumes"
	StepInit      = "init"
	StepPersist   = "persist"
)

// ErrInitDeclined is returned when a missing repository was not created.
var ErrInitDeclined = errors.New("repository is not initialized")

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, profile *models.BackupProfile, req Request) (*Result, error)
}

// ProfileSaver persists a profile after the repository was initialized.
type ProfileSaver interface {
	Save(profile models.BackupProfile) error
}

// Request describes one operation run.
type Request struct {
	Operation command.Operation
	Options   command.Options
	Dir       string               // working directory for local runs
	Target    *models.RemoteTarget // nil runs locally
	TempDir   string               // checked before local runs, diskcheck.DefaultTempDir when empty

	// InitIfMissing creates a missing repository without asking.
	InitIfMissing bool
	// Remediate is asked whether a missing repository may be created and
	// the operation retried. A nil func declines.
	Remediate func() bool
	// Notify sends a Telegram summary when the profile configures one.
	Notify bool
}

// Result reports what a run did.
type Result struct {
	Exec        *models.ExecResult
	Archive     string // set for create
	Initialized bool   // the repository was created during this run
	Disk        *models.DiskUsage
	Volumes     *models.VolumeExportResult // set when Docker volumes were exported before create
}

// Impl implements the runner Service interface.
type Impl struct {
	executor    executor.Service
	disk        diskcheck.Service
	objects     objectstore.Service
	volumes     dockervolumes.Service
	telegramSvc telegram.Service
	saver       ProfileSaver
	lookPath    func(file string) (string, error)
	now         func() time.Time
	logger      zerolog.Logger
}

// New creates a new runner service. saver may be nil when the profile is not
// backed by a file.
func New(logger zerolog.Logger, execSvc executor.Service, saver ProfileSaver) *Impl {
	return NewWithServices(logger, execSvc, diskcheck.New(logger), objectstore.New(logger),
		dockervolumes.New(logger), telegram.New(logger), saver)
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	execSvc executor.Service,
	disk diskcheck.Service,
	objects objectstore.Service,
	volumes dockervolumes.Service,
	telegramSvc telegram.Service,
	saver ProfileSaver,
) *Impl {
	return &Impl{
		executor:    execSvc,
		disk:        disk,
		objects:     objects,
		volumes:     volumes,
		telegramSvc: telegramSvc,
		saver:       saver,
		lookPath:    exec.LookPath,
		now:         time.Now,
		logger:      logger,
	}
}

// Run validates the profile, runs the preflight checks and executes the
// operation. A missing repository may be initialized and the operation
// retried once. On success after an init the profile is marked initialized
// and saved.
//
//nolint:gocognit,gocyclo // the run has multiple steps
func (s *Impl) Run(ctx context.Context, profile *models.BackupProfile, req Request) (*Result, error) {
	startTime := s.now()
	result := &Result{}
	var failedStep string
	var runErr error

	log := s.logger.With().
		Str("operation", string(req.Operation)).
		Str("tool", string(profile.Tool)).
		Logger()
	if req.Target != nil {
		log = log.With().Str("target", req.Target.Name).Logger()
	}

	defer func() {
		if req.Notify && profile.Telegram != nil {
			s.sendNotification(ctx, *profile, req, result, startTime, failedStep, runErr)
		}
	}()

	failedStep = StepValidate
	if err := config.Check(*profile); err != nil {
		runErr = err
		log.Error().Err(err).Msg("profile is incomplete")
		return result, err
	}

	failedStep = StepPreflight
	env := command.Env(*profile)
	if req.Target == nil {
		disk, err := s.disk.Check(ctx, req.TempDir)
		if err != nil {
			runErr = err
			log.Error().Err(err).Msg("temp dir check failed")
			return result, err
		}
		if disk != nil {
			result.Disk = disk
			env = append(env, "TMPDIR="+disk.Path)
			if disk.Low {
				log.Warn().Float64("used_percent", disk.UsedPercent).Msg("temp dir is almost full")
			}
		}
	}
	if profile.IsObjectStorage() && req.Operation != command.OpDebug {
		if _, err := s.objects.CheckBucket(ctx, *profile); err != nil {
			runErr = err
			log.Error().Err(err).Msg("object storage check failed")
			return result, err
		}
	}

	opts := req.Options
	if req.Operation == command.OpCreate {
		if opts.Now.IsZero() {
			opts.Now = startTime
		}
		if opts.Suffix == "" {
			opts.Suffix = command.NewSuffix()
		}
		if req.Target != nil && opts.Hostname == "" {
			opts.Hostname = req.Target.Name
		}
		result.Archive = opts.ArchiveFor(*profile)
	}

	exportVolumes := req.Operation == command.OpCreate && req.Target == nil &&
		!opts.DryRun && profile.DockerVolumeDir != ""
	buildProfile := *profile
	if exportVolumes {
		buildProfile.IncludePaths = withPath(profile.IncludePaths, profile.DockerVolumeDir)
	}

	failedStep = StepBuild
	argv, err := command.Build(buildProfile, req.Operation, opts)
	if err != nil {
		runErr = err
		log.Error().Err(err).Msg("failed to build command")
		return result, err
	}

	// Remote targets resolve the tool on their own PATH.
	if req.Target == nil {
		failedStep = StepPreflight
		if _, err := s.lookPath(argv[0]); err != nil {
			runErr = fmt.Errorf("%w: %s: %w", models.ErrToolNotInstalled, argv[0], err)
			log.Error().Err(err).Str("binary", argv[0]).Msg("backup tool not found, install it to proceed")
			return result, runErr
		}
	}

	if exportVolumes {
		failedStep = StepVolumes
		result.Volumes, err = s.volumes.Export(ctx, profile.DockerVolumeDir)
		if err == nil && result.Volumes.Error != nil {
			err = result.Volumes.Error
		}
		if err != nil {
			runErr = err
			log.Error().Err(err).Str("dir", profile.DockerVolumeDir).Msg("Docker volume export failed")
			return result, err
		}
	}

	failedStep = string(req.Operation)
	execReq := models.ExecRequest{
		Operation: string(req.Operation),
		Argv:      argv,
		Env:       env,
		Dir:       req.Dir,
		Target:    req.Target,
	}
	result.Exec, err = s.executor.Execute(ctx, execReq)

	if err != nil && req.Operation != command.OpInit && models.IsNotInitialized(err) {
		if !req.InitIfMissing && (req.Remediate == nil || !req.Remediate()) {
			runErr = fmt.Errorf("%w: %w", ErrInitDeclined, err)
			log.Warn().Msg("repository is not initialized, initialization declined")
			return result, runErr
		}

		failedStep = StepInit
		if err := s.initRepository(ctx, profile, execReq); err != nil {
			runErr = err
			log.Error().Err(err).Msg("repository initialization failed")
			return result, err
		}
		result.Initialized = true

		failedStep = string(req.Operation)
		log.Info().Msg("retrying after initialization")
		result.Exec, err = s.executor.Execute(ctx, execReq)
	}
	if err != nil {
		runErr = err
		log.Error().Err(err).Msg("operation failed")
		return result, err
	}

	if req.Operation == command.OpInit {
		result.Initialized = true
	}
	if result.Initialized && !profile.Initialized {
		failedStep = StepPersist
		if err := s.markInitialized(profile, req.Target); err != nil {
			runErr = err
			log.Error().Err(err).Msg("failed to save profile")
			return result, err
		}
	}

	failedStep = ""
	log.Info().
		Dur("duration", s.now().Sub(startTime)).
		Str("archive", result.Archive).
		Msg("operation completed")

	return result, nil
}

func (s *Impl) initRepository(ctx context.Context, profile *models.BackupProfile, failed models.ExecRequest) error {
	argv, err := command.Build(*profile, command.OpInit, command.Options{})
	if err != nil {
		return fmt.Errorf("init failed: %w", err)
	}

	s.logger.Info().
		Str("repository", profile.RepositoryLocator).
		Str("encryption", string(profile.EncryptionMode)).
		Msg("initializing repository")

	req := failed
	req.Operation = string(command.OpInit)
	req.Argv = argv
	if _, err := s.executor.Execute(ctx, req); err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	return nil
}

func (s *Impl) markInitialized(profile *models.BackupProfile, target *models.RemoteTarget) error {
	// Fleet targets have their own repositories; the shared profile stays as it is.
	if target != nil {
		return nil
	}
	profile.Initialized = true
	if s.saver == nil {
		return nil
	}
	return s.saver.Save(*profile)
}

func (s *Impl) sendNotification(
	ctx context.Context,
	profile models.BackupProfile,
	req Request,
	result *Result,
	startTime time.Time,
	failedStep string,
	runErr error,
) {
	msg := models.TelegramMessage{
		Success:    runErr == nil,
		Operation:  string(req.Operation),
		Host:       notificationHost(profile, req),
		Repository: profile.RepositoryLocator,
		Archive:    result.Archive,
		StartTime:  startTime,
		Duration:   s.now().Sub(startTime),
	}
	if result.Disk != nil {
		msg.FreeBytes = result.Disk.Free
	}
	if runErr != nil {
		msg.FailedStep = failedStep
		msg.ErrorMessage = runErr.Error()
	}

	sent, err := s.telegramSvc.SendNotification(ctx, *profile.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if sent.Error != nil {
		s.logger.Error().Err(sent.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}

func notificationHost(profile models.BackupProfile, req Request) string {
	switch {
	case req.Target != nil:
		return req.Target.Name
	case profile.Host != "":
		return profile.Host
	case req.Options.Hostname != "":
		return req.Options.Hostname
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "localhost"
}

// withPath returns paths with dir appended unless dir already lies below one of them.
func withPath(paths []string, dir string) []string {
	clean := filepath.Clean(dir)
	for _, p := range paths {
		rel, err := filepath.Rel(filepath.Clean(p), clean)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return paths
		}
	}
	return append(append([]string(nil), paths...), clean)
}
