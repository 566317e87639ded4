// Package diskcheck inspects free space in the directory the backup tools use
// for temporary files.
package diskcheck

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fgeck/persephone/internal/models"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultTempDir is checked when no directory is given.
const DefaultTempDir = "/tmp"

// DefaultWarnPercent marks the temp filesystem as low on space.
const DefaultWarnPercent = 90.0

// Service defines the interface for temp-dir checks.
type Service interface {
	Check(ctx context.Context, dir string) (*models.DiskUsage, error)
}

// UsageFunc returns filesystem statistics for path.
type UsageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// Impl implements the Service interface.
type Impl struct {
	usage       UsageFunc
	stat        func(name string) (os.FileInfo, error)
	warnPercent float64
	logger      zerolog.Logger
}

// New creates a new disk check service.
func New(logger zerolog.Logger) *Impl {
	return NewWithUsage(logger, disk.UsageWithContext)
}

// NewWithUsage creates a new disk check service with a custom usage source (for testing).
func NewWithUsage(logger zerolog.Logger, usage UsageFunc) *Impl {
	return &Impl{
		usage:       usage,
		stat:        os.Stat,
		warnPercent: DefaultWarnPercent,
		logger:      logger,
	}
}

// Check fails when dir is missing. A failing usage query is only logged and
// reported as a nil result.
func (s *Impl) Check(ctx context.Context, dir string) (*models.DiskUsage, error) {
	if dir == "" {
		dir = DefaultTempDir
	}

	info, err := s.stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &models.IOError{Op: "stat", Path: dir, Err: fmt.Errorf("temporary directory does not exist: %w", err)}
		}
		return nil, &models.IOError{Op: "stat", Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &models.IOError{Op: "stat", Path: dir, Err: errors.New("not a directory")}
	}

	stat, err := s.usage(ctx, dir)
	if err != nil {
		s.logger.Error().Err(err).Str("path", dir).Msg("disk space check failed")
		return nil, nil //nolint:nilnil // usage is informational
	}

	result := &models.DiskUsage{
		Path:        dir,
		Total:       stat.Total,
		Free:        stat.Free,
		UsedPercent: stat.UsedPercent,
		Low:         stat.UsedPercent >= s.warnPercent,
	}

	event := s.logger.Info()
	if result.Low {
		event = s.logger.Warn()
	}
	event.
		Str("path", dir).
		Uint64("free_bytes", result.Free).
		Uint64("total_bytes", result.Total).
		Float64("used_percent", result.UsedPercent).
		Msg("temp dir disk usage")

	return result, nil
}
