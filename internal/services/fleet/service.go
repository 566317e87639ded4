// Package fleet runs retrieval and backup across the hosts of the fleet
// document, one target after the other.
package fleet

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/persephone/internal/config"
	"github.com/fgeck/persephone/internal/models"
	"github.com/fgeck/persephone/internal/services/command"
	"github.com/fgeck/persephone/internal/services/runner"
	"github.com/fgeck/persephone/internal/services/ssh"
	"github.com/fgeck/persephone/internal/services/telegram"
	"github.com/fgeck/persephone/internal/services/wol"
	"github.com/rs/zerolog"
)

// Operation names used in reports and notifications.
const (
	OpRetrieve = "fleet retrieve"
	OpBackup   = "fleet backup"
)

// Service defines the interface for fleet operations.
type Service interface {
	Retrieve(ctx context.Context, fleet models.FleetConfig, destDir string) *models.FleetReport
	Backup(ctx context.Context, fleet models.FleetConfig, base models.BackupProfile, opts BackupOptions) *models.FleetReport
	Notify(ctx context.Context, cfg *models.TelegramConfig, report *models.FleetReport, started time.Time)
}

// BackupOptions controls a fleet-wide backup.
type BackupOptions struct {
	DryRun        bool
	InitIfMissing bool
}

// TargetFunc processes one target and returns the files it produced.
type TargetFunc func(ctx context.Context, target models.RemoteTarget) ([]string, error)

// Impl implements the fleet Service interface.
type Impl struct {
	sshSvc      ssh.Service
	runnerSvc   runner.Service
	wolSvc      wol.Service
	telegramSvc telegram.Service
	now         func() time.Time
	logger      zerolog.Logger
}

// New creates a new fleet service.
func New(logger zerolog.Logger, sshSvc ssh.Service, runnerSvc runner.Service) *Impl {
	return NewWithServices(logger, sshSvc, runnerSvc, wol.New(logger), telegram.New(logger))
}

// NewWithServices creates a new fleet service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	sshSvc ssh.Service,
	runnerSvc runner.Service,
	wolSvc wol.Service,
	telegramSvc telegram.Service,
) *Impl {
	return &Impl{
		sshSvc:      sshSvc,
		runnerSvc:   runnerSvc,
		wolSvc:      wolSvc,
		telegramSvc: telegramSvc,
		now:         time.Now,
		logger:      logger,
	}
}

// Perform runs fn for every target in order. A failing target never stops
// the ones after it; every target gets exactly one result.
func (s *Impl) Perform(ctx context.Context, operation string, targets []models.RemoteTarget, fn TargetFunc) *models.FleetReport {
	report := &models.FleetReport{Operation: operation}

	s.logger.Info().
		Str("operation", operation).
		Int("targets", len(targets)).
		Msg("starting fleet operation")

	for i, target := range targets {
		start := s.now()
		log := s.logger.With().
			Str("target", target.Name).
			Str("host", target.Host).
			Int("index", i+1).
			Logger()

		res := models.TargetResult{Name: target.Name, Host: target.Host}
		if err := ctx.Err(); err != nil {
			res.Err = err
		} else if err := s.wake(ctx, target); err != nil {
			res.Err = err
		} else {
			res.Files, res.Err = fn(ctx, target)
		}
		res.Duration = s.now().Sub(start)

		if res.Err != nil {
			log.Error().Err(res.Err).Msg("target failed")
		} else {
			log.Info().Int("files", len(res.Files)).Dur("duration", res.Duration).Msg("target done")
		}
		report.Results = append(report.Results, res)
	}

	failed := report.Failed()
	s.logger.Info().
		Str("operation", operation).
		Int("succeeded", len(report.Results)-len(failed)).
		Int("failed", len(failed)).
		Msg("fleet operation finished")

	return report
}

// Retrieve copies every target's configuration files into destDir.
func (s *Impl) Retrieve(ctx context.Context, fleet models.FleetConfig, destDir string) *models.FleetReport {
	return s.Perform(ctx, OpRetrieve, fleet.Targets, func(ctx context.Context, target models.RemoteTarget) ([]string, error) {
		if len(target.RemoteFilePaths) == 0 {
			return nil, fmt.Errorf("no files configured for %s", target.Name)
		}
		return s.sshSvc.Retrieve(ctx, target, destDir)
	})
}

// Backup runs a create on every target over SSH, using base with the
// target's overrides applied.
func (s *Impl) Backup(ctx context.Context, fleet models.FleetConfig, base models.BackupProfile, opts BackupOptions) *models.FleetReport {
	return s.Perform(ctx, OpBackup, fleet.Targets, func(ctx context.Context, target models.RemoteTarget) ([]string, error) {
		profile := Overlay(base, target)
		result, err := s.runnerSvc.Run(ctx, &profile, runner.Request{
			Operation:     command.OpCreate,
			Options:       command.Options{DryRun: opts.DryRun},
			Target:        &target,
			InitIfMissing: opts.InitIfMissing,
		})
		if err != nil {
			return nil, err
		}
		if result.Archive == "" {
			return nil, nil
		}
		return []string{result.Archive}, nil
	})
}

// Overlay returns base with the target's backup overrides applied. The
// archive host is always the target name.
func Overlay(base models.BackupProfile, target models.RemoteTarget) models.BackupProfile {
	profile := base.Clone()
	profile.Host = target.Name
	profile.Telegram = nil
	profile.Initialized = false
	if target.Repository != "" {
		profile.RepositoryLocator = target.Repository
	}
	if len(target.Paths) > 0 {
		profile.IncludePaths = append([]string(nil), target.Paths...)
	}
	if len(target.ExcludePatterns) > 0 {
		profile.ExcludePatterns = append([]string(nil), target.ExcludePatterns...)
	}
	if target.Compression != "" {
		profile.Compression = target.Compression
	}
	return profile
}

// Select returns the target with the given name.
func Select(fleet models.FleetConfig, name string) (models.RemoteTarget, error) {
	var names []string
	for _, t := range fleet.Targets {
		if t.Name == name {
			return t, nil
		}
		names = append(names, t.Name)
	}
	return models.RemoteTarget{}, fmt.Errorf("unknown target %q (known: %s)", name, strings.Join(names, ", "))
}

// Notify sends a fleet summary.
func (s *Impl) Notify(ctx context.Context, cfg *models.TelegramConfig, report *models.FleetReport, started time.Time) {
	if cfg == nil {
		return
	}

	failed := report.Failed()
	msg := models.TelegramMessage{
		Success:      len(failed) == 0,
		Operation:    report.Operation,
		StartTime:    started,
		Duration:     s.now().Sub(started),
		TargetsTotal: len(report.Results),
	}
	if h, err := os.Hostname(); err == nil {
		msg.Host = h
	}
	for _, r := range failed {
		msg.TargetsFailed = append(msg.TargetsFailed, r.Name)
	}
	if len(failed) > 0 {
		msg.ErrorMessage = fmt.Sprintf("%d of %d targets failed", len(failed), len(report.Results))
	}

	result, err := s.telegramSvc.SendNotification(ctx, *cfg, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
	}
}

func (s *Impl) wake(ctx context.Context, target models.RemoteTarget) error {
	if target.Wake == nil {
		return nil
	}

	port := target.Port
	if port == 0 {
		port = config.DefaultSSHPort
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(port))

	result, err := s.wolSvc.Wake(ctx, *target.Wake, addr)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}
	if !result.TargetReady {
		return fmt.Errorf("target %s did not become ready after WOL", target.Name)
	}

	s.logger.Info().
		Str("target", target.Name).
		Dur("wait_duration", result.WaitDuration).
		Msg("target woke up")
	return nil
}
