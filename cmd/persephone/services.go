package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fgeck/persephone/internal/config"
	"github.com/fgeck/persephone/internal/models"
	"github.com/fgeck/persephone/internal/services/dockervolumes"
	"github.com/fgeck/persephone/internal/services/executor"
	"github.com/fgeck/persephone/internal/services/fleet"
	"github.com/fgeck/persephone/internal/services/runner"
	"github.com/fgeck/persephone/internal/services/scheduler"
	"github.com/fgeck/persephone/internal/services/ssh"
	"github.com/rs/zerolog/log"
)

// app holds the services a command needs, built once from the flags.
type app struct {
	store     *config.Store
	runner    *runner.Impl
	fleet     *fleet.Impl
	scheduler *scheduler.Impl
	volumes   *dockervolumes.Impl
}

func newApp() *app {
	logger := log.Logger
	store := config.NewStore(configFile, logger)
	sshSvc := ssh.New(logger)
	runnerSvc := runner.New(logger, executor.New(logger, sshSvc), store)

	return &app{
		store:     store,
		runner:    runnerSvc,
		fleet:     fleet.New(logger, sshSvc, runnerSvc),
		scheduler: scheduler.New(logger),
		volumes:   dockervolumes.New(logger),
	}
}

// loadProfile reads the configuration file, pointing at setup when it is missing.
func (a *app) loadProfile() (*models.BackupProfile, error) {
	profile, err := a.store.Load()
	if err != nil {
		if errors.Is(err, models.ErrConfigNotFound) {
			return nil, fmt.Errorf("%w (run persephone without arguments to set it up)", err)
		}
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	log.Debug().
		Str("config", configFile).
		Str("tool", string(profile.Tool)).
		Str("repository", profile.RepositoryLocator).
		Msg("configuration loaded")
	return profile, nil
}

func loadFleet() (*models.FleetConfig, error) {
	cfg, err := config.LoadFleet(fleetFile)
	if err != nil {
		log.Error().Err(err).Str("file", fleetFile).Msg("failed to load fleet")
		return nil, err
	}
	return cfg, nil
}

// selectTargets narrows cfg to the named target, or keeps all when name is empty.
func selectTargets(cfg *models.FleetConfig, name string) (models.FleetConfig, error) {
	if name == "" {
		return *cfg, nil
	}
	target, err := fleet.Select(*cfg, name)
	if err != nil {
		return models.FleetConfig{}, err
	}
	return models.FleetConfig{Targets: []models.RemoteTarget{target}}, nil
}

func printReport(report *models.FleetReport) {
	fmt.Printf("%s:\n", report.Operation)
	for _, r := range report.Results {
		if r.Err != nil {
			fmt.Printf("  FAIL %s (%s): %v\n", r.Name, r.Host, r.Err)
			continue
		}
		fmt.Printf("  OK   %s (%s) %v\n", r.Name, r.Host, r.Files)
	}
	fmt.Printf("%d succeeded, %d failed\n", len(report.Succeeded()), len(report.Failed()))
}

func executable() string {
	path, err := os.Executable()
	if err != nil {
		return "persephone"
	}
	return path
}
