// Package scheduler maintains the persephone entry in the user's crontab.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/persephone/internal/models"
	"github.com/fgeck/persephone/internal/safefs"
	"github.com/kballard/go-shellquote"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultMarker identifies lines managed by persephone.
const DefaultMarker = "persephone"

// BackupFileLayout is the timestamp layout of crontab backup file names.
const BackupFileLayout = "20060102_150405"

var fieldParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Service defines the interface for crontab management.
type Service interface {
	Install(ctx context.Context, req InstallRequest) (*Result, error)
	Remove(ctx context.Context, backupDir, marker string) (*Result, error)
	List(ctx context.Context, marker string) ([]string, error)
}

// Crontab reads and replaces the current user's cron table.
type Crontab interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, content string) error
}

// DefaultCrontab drives the crontab binary.
type DefaultCrontab struct{}

// Read returns the current table; a user without a crontab has an empty one.
func (c *DefaultCrontab) Read(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "crontab", "-l")
	output, err := cmd.CombinedOutput()
	if err != nil {
		lower := strings.ToLower(string(output))
		if strings.Contains(lower, "no crontab for") {
			return "", nil
		}
		return "", fmt.Errorf("crontab -l failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Write replaces the whole table with content in one crontab invocation.
func (c *DefaultCrontab) Write(ctx context.Context, content string) error {
	cmd := exec.CommandContext(ctx, "crontab", "-")
	cmd.Stdin = strings.NewReader(content)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("crontab update failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// InstallRequest describes one schedule installation.
type InstallRequest struct {
	Entry           models.ScheduleEntry
	BackupDir       string // where the pre-change copy is written, "." when empty
	Marker          string // DefaultMarker when empty
	RandomizeMinute bool

	// ConfirmRemoval is asked whether existing marker lines may be deleted.
	// A nil func keeps them.
	ConfirmRemoval func(lines []string) bool
}

// Result reports what a crontab change did.
type Result struct {
	BackupFile       string
	Removed          []string
	DuplicateWarning bool   // marker lines were kept alongside the new entry
	Line             string // the appended line
	Table            string // the table as written
}

// Impl implements the Service interface.
type Impl struct {
	crontab    Crontab
	now        func() time.Time
	randMinute func() int
	logger     zerolog.Logger
}

// New creates a new scheduler service.
func New(logger zerolog.Logger) *Impl {
	return NewWithCrontab(logger, &DefaultCrontab{})
}

// NewWithCrontab creates a new scheduler service with a custom crontab (for testing).
func NewWithCrontab(logger zerolog.Logger, crontab Crontab) *Impl {
	return &Impl{
		crontab:    crontab,
		now:        time.Now,
		randMinute: func() int { return rand.Intn(60) },
		logger:     logger,
	}
}

// Install backs up the table, optionally removes existing marker lines and
// appends exactly one new entry.
func (s *Impl) Install(ctx context.Context, req InstallRequest) (*Result, error) {
	fields := req.Entry.TimeFields
	if req.RandomizeMinute {
		fields[0] = strconv.Itoa(s.randMinute())
	}
	if err := ValidateFields(fields); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Entry.CommandLine) == "" {
		return nil, errors.New("schedule command line is empty")
	}
	marker := req.Marker
	if marker == "" {
		marker = DefaultMarker
	}

	current, backupFile, err := s.readAndBackup(ctx, req.BackupDir)
	if err != nil {
		return nil, err
	}

	kept, matched := splitMarked(current, marker)
	result := &Result{BackupFile: backupFile}

	lines := splitLines(current)
	if len(matched) > 0 {
		if req.ConfirmRemoval != nil && req.ConfirmRemoval(matched) {
			lines = kept
			result.Removed = matched
			s.logger.Info().Strs("lines", matched).Msg("removing existing schedule entries")
		} else {
			result.DuplicateWarning = true
			s.logger.Warn().
				Strs("lines", matched).
				Msg("existing schedule entries kept, backups may run more than once")
		}
	}

	result.Line = strings.Join(fields[:], " ") + " " + req.Entry.CommandLine
	lines = append(lines, result.Line)
	result.Table = strings.Join(lines, "\n") + "\n"

	if err := s.crontab.Write(ctx, result.Table); err != nil {
		return nil, err
	}

	s.logger.Info().Str("entry", result.Line).Str("backup", backupFile).Msg("schedule installed")
	return result, nil
}

// Remove deletes every non-comment line containing marker.
func (s *Impl) Remove(ctx context.Context, backupDir, marker string) (*Result, error) {
	if marker == "" {
		marker = DefaultMarker
	}

	current, backupFile, err := s.readAndBackup(ctx, backupDir)
	if err != nil {
		return nil, err
	}

	kept, matched := splitMarked(current, marker)
	result := &Result{BackupFile: backupFile, Removed: matched}
	if len(matched) == 0 {
		result.Table = current
		return result, nil
	}

	result.Table = ""
	if len(kept) > 0 {
		result.Table = strings.Join(kept, "\n") + "\n"
	}
	if err := s.crontab.Write(ctx, result.Table); err != nil {
		return nil, err
	}

	s.logger.Info().Int("removed", len(matched)).Msg("schedule entries removed")
	return result, nil
}

// List returns the non-comment lines containing marker.
func (s *Impl) List(ctx context.Context, marker string) ([]string, error) {
	if marker == "" {
		marker = DefaultMarker
	}
	current, err := s.crontab.Read(ctx)
	if err != nil {
		return nil, err
	}
	_, matched := splitMarked(current, marker)
	return matched, nil
}

func (s *Impl) readAndBackup(ctx context.Context, backupDir string) (string, string, error) {
	current, err := s.crontab.Read(ctx)
	if err != nil {
		return "", "", err
	}

	if backupDir == "" {
		backupDir = "."
	}
	backupFile := filepath.Join(backupDir, "crontab_backup_"+s.now().Format(BackupFileLayout)+".txt")
	if err := safefs.WriteFileAtomic(backupFile, []byte(current), 0o600); err != nil {
		return "", "", &models.IOError{Op: "write", Path: backupFile, Err: err}
	}
	s.logger.Info().Str("file", backupFile).Msg("crontab backed up")
	return current, backupFile, nil
}

// ValidateFields checks the five cron time fields.
func ValidateFields(fields [5]string) error {
	for i, f := range fields {
		if strings.TrimSpace(f) == "" || strings.ContainsAny(f, " \t") {
			return fmt.Errorf("invalid cron field %d: %q", i+1, f)
		}
	}
	if _, err := fieldParser.Parse(strings.Join(fields[:], " ")); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}
	return nil
}

// ParseFields splits a "m h dom mon dow" expression into its five fields.
func ParseFields(expr string) ([5]string, error) {
	var fields [5]string
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return fields, fmt.Errorf("cron schedule needs exactly 5 fields, got %d", len(parts))
	}
	copy(fields[:], parts)
	return fields, ValidateFields(fields)
}

// CommandLine renders the cron command for a non-interactive backup run. The
// run writes its JSON log to logFile; console and tool output go to
// OutputPath(logFile) so the two streams never share a file.
func CommandLine(binary, configPath, logFile string) string {
	args := []string{binary, "run", "create", "--config", configPath}
	if logFile != "" {
		args = append(args, "--log-file", logFile)
	}
	line := shellquote.Join(args...)
	if logFile != "" {
		line += " >> " + shellquote.Join(OutputPath(logFile)) + " 2>&1"
	}
	// cron turns an unescaped % into a newline.
	return strings.ReplaceAll(line, "%", `\%`)
}

// OutputPath returns the file receiving console output of scheduled runs
// logging to logFile, e.g. /var/log/persephone-cron.log for /var/log/persephone.log.
func OutputPath(logFile string) string {
	ext := filepath.Ext(logFile)
	return strings.TrimSuffix(logFile, ext) + "-cron" + ext
}

func splitLines(table string) []string {
	normalized := strings.ReplaceAll(table, "\r\n", "\n")
	if strings.TrimSpace(normalized) == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(normalized, "\n"), "\n")
}

// splitMarked separates lines carrying marker from the rest. Comments and
// blank lines are never treated as matches.
func splitMarked(table, marker string) (kept, matched []string) {
	for _, line := range splitLines(table) {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") && strings.Contains(line, marker) {
			matched = append(matched, line)
			continue
		}
		kept = append(kept, line)
	}
	return kept, matched
}
