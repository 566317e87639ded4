package command

import (
	"strconv"

	"github.com/fgeck/persephone/internal/models"
)

func buildBorg(profile models.BackupProfile, op Operation, opts Options) ([]string, error) {
	repo := profile.RepositoryLocator
	args := []string{"borg"}

	switch op {
	case OpInit:
		args = append(args, "init", "--encryption", string(profile.EncryptionMode), repo)

	case OpCreate:
		args = append(args, "create", "--verbose", "--list", "--show-rc", "--exclude-caches")
		if !opts.DryRun {
			args = append(args, "--stats")
		}
		args = append(args, repo+"::"+opts.ArchiveFor(profile))
		args = append(args, profile.IncludePaths...)
		args = append(args, "--compression", profile.Compression)
		for _, p := range profile.ExcludePatterns {
			args = append(args, "--exclude", p)
		}
		if opts.DryRun {
			args = append(args, "--dry-run")
		}

	case OpPrune:
		args = append(args, "prune", "--list")
		args = append(args, keepFlags(profile.Retention)...)
		if opts.DryRun {
			args = append(args, "--dry-run")
		}
		args = append(args, repo)

	case OpCheck:
		args = append(args, "check", "--show-rc")
		if opts.VerifyData {
			args = append(args, "--verify-data")
		}
		args = append(args, repoOrArchive(repo, opts.Archive))

	case OpList:
		args = append(args, "list", repoOrArchive(repo, opts.Archive))

	case OpInfo:
		args = append(args, "info", repoOrArchive(repo, opts.Archive))

	case OpExtract:
		if opts.Archive == "" {
			return nil, missing(op, "an archive name")
		}
		args = append(args, "extract", "--list")
		if opts.DryRun {
			args = append(args, "--dry-run")
		}
		args = append(args, repo+"::"+opts.Archive)
		args = append(args, opts.Paths...)

	case OpDelete:
		if opts.Archive == "" {
			return nil, missing(op, "an archive name")
		}
		args = append(args, "delete", "--stats")
		if opts.DryRun {
			args = append(args, "--dry-run")
		}
		args = append(args, repo+"::"+opts.Archive)

	case OpRename:
		if opts.Archive == "" || opts.NewName == "" {
			return nil, missing(op, "an archive name and a new name")
		}
		args = append(args, "rename", repo+"::"+opts.Archive, opts.NewName)

	case OpMount:
		if opts.MountPoint == "" {
			return nil, missing(op, "a mount point")
		}
		args = append(args, "mount", repoOrArchive(repo, opts.Archive), opts.MountPoint)

	case OpUnmount:
		if opts.MountPoint == "" {
			return nil, missing(op, "a mount point")
		}
		args = append(args, "umount", opts.MountPoint)

	case OpKeyExport:
		args = append(args, "key", "export", repo)
		if opts.KeyFile != "" {
			args = append(args, opts.KeyFile)
		}

	case OpKeyImport:
		if opts.KeyFile == "" {
			return nil, missing(op, "a key file")
		}
		args = append(args, "key", "import", repo, opts.KeyFile)

	case OpWithLock:
		if len(opts.Command) == 0 {
			return nil, missing(op, "a command")
		}
		args = append(args, "with-lock", repo)
		args = append(args, opts.Command...)

	case OpImportTar, OpExportTar:
		if opts.Archive == "" || opts.TarFile == "" {
			return nil, missing(op, "an archive name and a tar file")
		}
		args = append(args, string(op), repo+"::"+opts.Archive, opts.TarFile)

	case OpDiff:
		if opts.Archive == "" || opts.Archive2 == "" {
			return nil, missing(op, "two archive names")
		}
		args = append(args, "diff", repo+"::"+opts.Archive, opts.Archive2)

	case OpRecreate:
		args = append(args, "recreate", "--list", "--compression", profile.Compression)
		for _, p := range profile.ExcludePatterns {
			args = append(args, "--exclude", p)
		}
		if opts.DryRun {
			args = append(args, "--dry-run")
		}
		args = append(args, repoOrArchive(repo, opts.Archive))

	case OpServe:
		args = append(args, "serve")
		for _, p := range opts.Paths {
			args = append(args, "--restrict-to-path", p)
		}

	case OpBenchmark:
		if opts.Destination == "" {
			return nil, missing(op, "a scratch directory")
		}
		args = append(args, "benchmark", "crud", repo, opts.Destination)

	case OpBreakLock:
		args = append(args, "break-lock", repo)

	case OpCompact:
		args = append(args, "compact", "--progress", repo)

	case OpUpgrade:
		args = append(args, "upgrade")
		if opts.DryRun {
			args = append(args, "--dry-run")
		}
		args = append(args, repo)

	case OpDebug:
		args = append(args, "debug", "info")

	default:
		return nil, unsupported(models.ToolBorg, op)
	}

	return args, nil
}

// keepFlags renders one --keep-<period> flag per non-zero retention count.
func keepFlags(r models.RetentionPolicy) []string {
	var flags []string
	for _, k := range []struct {
		flag string
		n    int
	}{
		{"--keep-daily", r.Daily},
		{"--keep-weekly", r.Weekly},
		{"--keep-monthly", r.Monthly},
		{"--keep-yearly", r.Yearly},
	} {
		if k.n > 0 {
			flags = append(flags, k.flag, strconv.Itoa(k.n))
		}
	}
	return flags
}

func repoOrArchive(repo, archive string) string {
	if archive == "" {
		return repo
	}
	return repo + "::" + archive
}
