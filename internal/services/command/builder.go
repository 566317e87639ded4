package command

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/persephone/internal/models"
	"github.com/google/uuid"
)

// ArchiveTimeFormat is the timestamp layout used in archive names.
const ArchiveTimeFormat = "2006-01-02T15:04:05"

// Options carries per-invocation arguments. Fields irrelevant to an operation
// are ignored.
type Options struct {
	DryRun      bool
	Archive     string   // archive name or snapshot ID
	Archive2    string   // second archive for diff
	NewName     string   // rename target
	MountPoint  string   // mount and unmount
	Destination string   // restic restore target, benchmark scratch dir
	Paths       []string // extract subset, serve restrictions
	TarFile     string   // import-tar and export-tar
	KeyFile     string   // key-export and key-import
	Command     []string // with-lock
	VerifyData  bool     // check

	// Archive naming for create. A profile host overrides Hostname; empty
	// values fall back to the machine hostname and the current time.
	Hostname string
	Now      time.Time
	Suffix   string
}

// Build returns the argv for running op against the profile's repository.
// Every value is a separate element; nothing is interpreted by a shell.
func Build(profile models.BackupProfile, op Operation, opts Options) ([]string, error) {
	if _, ok := descriptions[op]; !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownOperation, op)
	}
	switch profile.Tool {
	case models.ToolRestic:
		return buildRestic(profile, op, opts)
	case models.ToolBorg, "":
		return buildBorg(profile, op, opts)
	default:
		return nil, fmt.Errorf("unknown tool %q", profile.Tool)
	}
}

// ArchiveName joins host, timestamp and an optional suffix.
func ArchiveName(host string, now time.Time, suffix string) string {
	name := host + "-" + now.Format(ArchiveTimeFormat)
	if suffix != "" {
		name += "-" + suffix
	}
	return name
}

// NewSuffix returns a short random token that keeps two archives created
// within the same second apart.
func NewSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ArchiveFor returns the name create gives the new archive.
func (o Options) ArchiveFor(profile models.BackupProfile) string {
	host := profile.Host
	if host == "" {
		host = o.resolveHostname()
	}
	now := o.Now
	if now.IsZero() {
		now = time.Now()
	}
	return ArchiveName(host, now, o.Suffix)
}

func (o Options) resolveHostname() string {
	if o.Hostname != "" {
		return o.Hostname
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "localhost"
}

func missing(op Operation, option string) error {
	return fmt.Errorf("%w: %s needs %s", models.ErrMissingOption, op, option)
}

func unsupported(tool models.Tool, op Operation) error {
	return fmt.Errorf("%w: %s has no %s", models.ErrUnsupportedOperation, tool, op)
}
