// Package dockervolumes exports Docker volumes to tar files so they can be
// picked up by the next backup.
package dockervolumes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/persephone/internal/models"
	"github.com/rs/zerolog"
)

// BackupImage writes the content of the volume mounted at /volume to stdout as a tar stream.
const BackupImage = "loomchild/volume-backup"

// Service defines the interface for Docker volume exports.
type Service interface {
	Export(ctx context.Context, dir string) (*models.VolumeExportResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	ExecuteToFile(ctx context.Context, outputPath string, name string, args ...string) error
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Output runs a command and returns its stdout.
func (e *DefaultExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, commandError(name, args, err, stderr.String())
	}
	return out, nil
}

// ExecuteToFile runs a command and writes its stdout to outputPath.
func (e *DefaultExecutor) ExecuteToFile(ctx context.Context, outputPath string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	output, err := os.Create(outputPath) //nolint:gosec // outputPath is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = output.Close() }()

	var stderr bytes.Buffer
	cmd.Stdout = output
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return commandError(name, args, err, stderr.String())
	}
	return output.Sync()
}

func commandError(name string, args []string, err error, stderr string) error {
	cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))
	if msg := strings.TrimSpace(stderr); msg != "" {
		return fmt.Errorf("%s failed: %w: %s", cmdline, err, msg)
	}
	return fmt.Errorf("%s failed: %w", cmdline, err)
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new Docker volume export service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new Docker volume export service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Export writes every Docker volume to <dir>/<volume>.tar. It refuses to run
// while any container is running and stops at the first failed volume.
func (s *Impl) Export(ctx context.Context, dir string) (*models.VolumeExportResult, error) {
	s.logger.Info().Str("dir", dir).Msg("starting Docker volume export")

	start := time.Now()
	result := &models.VolumeExportResult{Dir: dir}
	fail := func(err error) (*models.VolumeExportResult, error) {
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil
	}

	running, err := s.lines(ctx, "ps", "-q")
	if err != nil {
		return fail(err)
	}
	if len(running) > 0 {
		return fail(fmt.Errorf("%w (%d running)", models.ErrContainersRunning, len(running)))
	}

	volumes, err := s.lines(ctx, "volume", "ls", "--format", "{{.Name}}")
	if err != nil {
		return fail(err)
	}
	if len(volumes) == 0 {
		s.logger.Info().Msg("no Docker volumes found")
		result.Duration = time.Since(start)
		return result, nil
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fail(fmt.Errorf("failed to create output directory: %w", err))
	}

	for _, volume := range volumes {
		if volume != filepath.Base(volume) || volume == "." || volume == ".." {
			return fail(fmt.Errorf("unexpected volume name %q", volume))
		}
		outputPath := filepath.Join(dir, volume+".tar")

		s.logger.Debug().Str("volume", volume).Str("output", outputPath).Msg("exporting volume")
		execErr := s.executor.ExecuteToFile(ctx, outputPath, "docker",
			"run", "-v", volume+":/volume", "--rm", "--log-driver", "none", BackupImage, "backup")
		if execErr != nil {
			// Clean up partial file
			_ = os.Remove(outputPath)
			return fail(fmt.Errorf("exporting volume %s: %w", volume, execErr))
		}

		archive := models.VolumeArchive{Volume: volume, Path: outputPath}
		if info, err := os.Stat(outputPath); err == nil {
			archive.SizeBytes = info.Size()
		}
		result.Archives = append(result.Archives, archive)
	}

	result.Duration = time.Since(start)

	s.logger.Info().
		Int("volumes", len(result.Archives)).
		Dur("duration", result.Duration).
		Msg("Docker volume export completed")

	return result, nil
}

// lines runs a docker command and returns its non-empty output lines.
func (s *Impl) lines(ctx context.Context, args ...string) ([]string, error) {
	out, err := s.executor.Output(ctx, "docker", args...)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("docker is not installed: %w", err)
		}
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
