package command

import (
	"strings"

	"github.com/fgeck/persephone/internal/models"
)

func buildRestic(profile models.BackupProfile, op Operation, opts Options) ([]string, error) {
	repo := []string{"--repo", profile.RepositoryLocator}
	args := []string{"restic"}

	switch op {
	case OpInit:
		args = append(args, "init")
		args = append(args, repo...)

	case OpCreate:
		args = append(args, "backup")
		args = append(args, repo...)
		args = append(args, "--verbose", "--host", hostFor(profile, opts))
		for _, tag := range profile.Tags {
			args = append(args, "--tag", tag)
		}
		args = append(args, profile.IncludePaths...)
		args = append(args, "--compression", resticCompression(profile.Compression))
		for _, p := range profile.ExcludePatterns {
			args = append(args, "--exclude", p)
		}
		if opts.DryRun {
			args = append(args, "--dry-run")
		}

	case OpPrune:
		args = append(args, "forget")
		args = append(args, repo...)
		args = append(args, "--prune")
		args = append(args, keepFlags(profile.Retention)...)
		if opts.DryRun {
			args = append(args, "--dry-run")
		}

	case OpCheck:
		args = append(args, "check")
		args = append(args, repo...)
		if opts.VerifyData {
			args = append(args, "--read-data")
		}

	case OpList:
		args = append(args, "snapshots")
		args = append(args, repo...)
		if opts.Archive != "" {
			args = append(args, opts.Archive)
		}

	case OpInfo:
		args = append(args, "stats")
		args = append(args, repo...)
		if opts.Archive != "" {
			args = append(args, opts.Archive)
		}

	case OpExtract:
		if opts.Destination == "" {
			return nil, missing(op, "a destination directory")
		}
		snapshot := opts.Archive
		if snapshot == "" {
			snapshot = "latest"
		}
		args = append(args, "restore")
		args = append(args, repo...)
		args = append(args, snapshot, "--target", opts.Destination)
		for _, p := range opts.Paths {
			args = append(args, "--include", p)
		}
		if opts.DryRun {
			args = append(args, "--dry-run")
		}

	case OpDelete:
		if opts.Archive == "" {
			return nil, missing(op, "a snapshot ID")
		}
		args = append(args, "forget")
		args = append(args, repo...)
		if opts.DryRun {
			args = append(args, "--dry-run")
		}
		args = append(args, opts.Archive)

	case OpMount:
		if opts.MountPoint == "" {
			return nil, missing(op, "a mount point")
		}
		args = append(args, "mount")
		args = append(args, repo...)
		args = append(args, opts.MountPoint)

	case OpDiff:
		if opts.Archive == "" || opts.Archive2 == "" {
			return nil, missing(op, "two snapshot IDs")
		}
		args = append(args, "diff")
		args = append(args, repo...)
		args = append(args, opts.Archive, opts.Archive2)

	case OpRecreate:
		args = append(args, "rewrite")
		args = append(args, repo...)
		for _, p := range profile.ExcludePatterns {
			args = append(args, "--exclude", p)
		}
		if opts.DryRun {
			args = append(args, "--dry-run")
		}
		if opts.Archive != "" {
			args = append(args, opts.Archive)
		}

	case OpBreakLock:
		args = append(args, "unlock")
		args = append(args, repo...)

	case OpCompact:
		args = append(args, "prune")
		args = append(args, repo...)
		if opts.DryRun {
			args = append(args, "--dry-run")
		}

	case OpUpgrade:
		args = append(args, "migrate")
		args = append(args, repo...)

	default:
		return nil, unsupported(models.ToolRestic, op)
	}

	return args, nil
}

func hostFor(profile models.BackupProfile, opts Options) string {
	if profile.Host != "" {
		return profile.Host
	}
	return opts.resolveHostname()
}

// resticCompression maps borg-style algorithm names onto restic's modes.
func resticCompression(c string) string {
	algo, _, _ := strings.Cut(strings.ToLower(c), ",")
	switch algo {
	case "off", "none":
		return "off"
	case "max", "fastest", "auto":
		return algo
	default:
		return "auto"
	}
}
