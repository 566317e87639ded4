// Package executor runs external tool invocations locally or on a remote target.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fgeck/persephone/internal/models"
	"github.com/fgeck/persephone/internal/services/command"
	"github.com/fgeck/persephone/internal/services/ssh"
	"github.com/rs/zerolog"
)

// Service defines the interface for running one external tool invocation.
type Service interface {
	Execute(ctx context.Context, req models.ExecRequest) (*models.ExecResult, error)
}

// CommandRunner allows mocking exec.Command in tests.
type CommandRunner interface {
	Run(ctx context.Context, dir string, env []string, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)
}

// DefaultRunner is the default command runner using os/exec.
type DefaultRunner struct{}

// Run starts the command with os.Environ plus env and waits for it. A non-zero
// exit is reported through exitCode with a nil error.
func (r *DefaultRunner) Run(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

// Impl implements the Service interface.
type Impl struct {
	runner CommandRunner
	remote ssh.Service
	logger zerolog.Logger
}

// New creates a new executor service.
func New(logger zerolog.Logger, remote ssh.Service) *Impl {
	return &Impl{
		runner: &DefaultRunner{},
		remote: remote,
		logger: logger,
	}
}

// NewWithRunner creates a new executor service with a custom runner (for testing).
func NewWithRunner(logger zerolog.Logger, runner CommandRunner, remote ssh.Service) *Impl {
	return &Impl{
		runner: runner,
		remote: remote,
		logger: logger,
	}
}

// Execute runs the request and returns its result. A non-zero exit yields the
// result together with a *models.OperationFailedError; nothing is retried.
func (s *Impl) Execute(ctx context.Context, req models.ExecRequest) (*models.ExecResult, error) {
	if len(req.Argv) == 0 {
		return nil, fmt.Errorf("%s: empty command", req.Operation)
	}

	logEvent := s.logger.Info().
		Str("operation", req.Operation).
		Strs("argv", req.Argv).
		Strs("env", command.EnvNames(req.Env))
	if req.Target != nil {
		logEvent = logEvent.Str("host", req.Target.Host)
	}
	logEvent.Msg("running command")

	var (
		result *models.ExecResult
		err    error
	)
	if req.Target != nil {
		if s.remote == nil {
			return nil, fmt.Errorf("%s: no remote executor configured", req.Operation)
		}
		result, err = s.remote.Run(ctx, *req.Target, req.Argv, req.Env)
	} else {
		result, err = s.runLocal(ctx, req)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("operation", req.Operation).Msg("command could not be run")
		return nil, err
	}
	result.Operation = req.Operation

	if result.ExitCode != 0 {
		s.logger.Error().
			Str("operation", req.Operation).
			Int("exit_code", result.ExitCode).
			Str("stderr", result.Stderr).
			Dur("duration", result.Duration).
			Msg("command failed")
		return result, &models.OperationFailedError{
			Operation: req.Operation,
			ExitCode:  result.ExitCode,
			Stderr:    result.Stderr,
		}
	}

	s.logger.Info().
		Str("operation", req.Operation).
		Dur("duration", result.Duration).
		Msg("command completed")
	return result, nil
}

func (s *Impl) runLocal(ctx context.Context, req models.ExecRequest) (*models.ExecResult, error) {
	start := time.Now()
	stdout, stderr, code, err := s.runner.Run(ctx, req.Dir, req.Env, req.Argv[0], req.Argv[1:]...)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", req.Argv[0], err)
	}
	return &models.ExecResult{
		ExitCode: code,
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		Duration: time.Since(start),
	}, nil
}
