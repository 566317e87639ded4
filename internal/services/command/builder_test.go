package command

import (
	"fmt"
	"testing"
	"time"

	"github.com/fgeck/persephone/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 9, 2, 30, 5, 0, time.UTC)

func borgProfile() models.BackupProfile {
	return models.BackupProfile{
		Tool:              models.ToolBorg,
		RepositoryLocator: "backup@nas:/srv/borg",
		Passphrase:        "secret",
		EncryptionMode:    models.EncryptionRepoKey,
		Compression:       "zstd",
		IncludePaths:      []string{"/etc", "/home"},
		ExcludePatterns:   []string{"var/tmp/*"},
		Retention:         models.RetentionPolicy{Daily: 7, Weekly: 4, Monthly: 6},
		Host:              "web01",
	}
}

func resticProfile() models.BackupProfile {
	p := borgProfile()
	p.Tool = models.ToolRestic
	p.RepositoryLocator = "s3:https://s3.example.com/bucket/web01"
	p.Tags = []string{"nightly"}
	return p
}

func countToken(argv []string, token string) int {
	n := 0
	for _, a := range argv {
		if a == token {
			n++
		}
	}
	return n
}

func valuesAfter(argv []string, flag string) []string {
	var out []string
	for i := 0; i < len(argv)-1; i++ {
		if argv[i] == flag {
			out = append(out, argv[i+1])
		}
	}
	return out
}

func TestBuild_BorgCreate_Scenario(t *testing.T) {
	argv, err := Build(borgProfile(), OpCreate, Options{})

	require.NoError(t, err)
	require.GreaterOrEqual(t, len(argv), 6)
	assert.Equal(t, []string{"borg", "create"}, argv[:2])
	assert.Equal(t, []string{"/etc", "/home", "--compression", "zstd", "--exclude", "var/tmp/*"}, argv[len(argv)-6:])
}

func TestBuild_BorgCreate_ArchiveName(t *testing.T) {
	argv, err := Build(borgProfile(), OpCreate, Options{Now: fixedNow, Suffix: "a1b2c3d4"})

	require.NoError(t, err)
	assert.Equal(t, []string{
		"borg", "create", "--verbose", "--list", "--show-rc", "--exclude-caches", "--stats",
		"backup@nas:/srv/borg::web01-2024-03-09T02:30:05-a1b2c3d4",
		"/etc", "/home",
		"--compression", "zstd",
		"--exclude", "var/tmp/*",
	}, argv)
}

func TestBuild_BorgCreate_HostnameFallback(t *testing.T) {
	p := borgProfile()
	p.Host = ""

	argv, err := Build(p, OpCreate, Options{Now: fixedNow, Hostname: "nas02"})

	require.NoError(t, err)
	assert.Contains(t, argv, "backup@nas:/srv/borg::nas02-2024-03-09T02:30:05")
}

func TestBuild_BorgCreate_DryRunDropsStats(t *testing.T) {
	argv, err := Build(borgProfile(), OpCreate, Options{DryRun: true})

	require.NoError(t, err)
	assert.Equal(t, "--dry-run", argv[len(argv)-1])
	assert.NotContains(t, argv, "--stats")
}

func TestBuild_Create_OneExcludePerPatternInOrder(t *testing.T) {
	patternSets := [][]string{
		{"a"},
		{"home/*/.cache/*", "var/tmp/*", "*.iso"},
		{"with space/*", "$(rm -rf /)", "quote'd", "--exclude"},
	}

	for _, tool := range []models.Tool{models.ToolBorg, models.ToolRestic} {
		for i, patterns := range patternSets {
			t.Run(fmt.Sprintf("%s/%d", tool, i), func(t *testing.T) {
				p := borgProfile()
				p.Tool = tool
				p.ExcludePatterns = patterns

				argv, err := Build(p, OpCreate, Options{})

				require.NoError(t, err)
				assert.Equal(t, patterns, valuesAfter(argv, "--exclude"))
				literal := 0
				for _, pat := range patterns {
					if pat == "--exclude" {
						literal++
					}
				}
				assert.Equal(t, len(patterns)+literal, countToken(argv, "--exclude"))
			})
		}
	}
}

func TestBuild_Prune_OmitsZeroKeeps(t *testing.T) {
	policies := []models.RetentionPolicy{
		{Weekly: 4},
		{Weekly: 4, Monthly: 6, Yearly: 1},
		{Yearly: 3},
	}

	for _, tool := range []models.Tool{models.ToolBorg, models.ToolRestic} {
		for _, policy := range policies {
			t.Run(fmt.Sprintf("%s/%+v", tool, policy), func(t *testing.T) {
				p := borgProfile()
				p.Tool = tool
				p.Retention = policy

				argv, err := Build(p, OpPrune, Options{})

				require.NoError(t, err)
				assert.NotContains(t, argv, "--keep-daily")
				assert.Equal(t, policy.Weekly > 0, countToken(argv, "--keep-weekly") == 1)
				assert.Equal(t, policy.Monthly > 0, countToken(argv, "--keep-monthly") == 1)
				assert.Equal(t, policy.Yearly > 0, countToken(argv, "--keep-yearly") == 1)
			})
		}
	}
}

func TestBuild_BorgPrune(t *testing.T) {
	argv, err := Build(borgProfile(), OpPrune, Options{DryRun: true})

	require.NoError(t, err)
	assert.Equal(t, []string{
		"borg", "prune", "--list",
		"--keep-daily", "7", "--keep-weekly", "4", "--keep-monthly", "6",
		"--dry-run", "backup@nas:/srv/borg",
	}, argv)
}

func TestBuild_Borg(t *testing.T) {
	repo := "backup@nas:/srv/borg"
	tests := []struct {
		op   Operation
		opts Options
		want []string
	}{
		{OpInit, Options{}, []string{"borg", "init", "--encryption", "repokey", repo}},
		{OpCheck, Options{VerifyData: true}, []string{"borg", "check", "--show-rc", "--verify-data", repo}},
		{OpList, Options{}, []string{"borg", "list", repo}},
		{OpList, Options{Archive: "a1"}, []string{"borg", "list", repo + "::a1"}},
		{OpInfo, Options{}, []string{"borg", "info", repo}},
		{OpExtract, Options{Archive: "a1", Paths: []string{"etc/hosts"}}, []string{"borg", "extract", "--list", repo + "::a1", "etc/hosts"}},
		{OpDelete, Options{Archive: "a1"}, []string{"borg", "delete", "--stats", repo + "::a1"}},
		{OpRename, Options{Archive: "a1", NewName: "a2"}, []string{"borg", "rename", repo + "::a1", "a2"}},
		{OpMount, Options{MountPoint: "/mnt/borg"}, []string{"borg", "mount", repo, "/mnt/borg"}},
		{OpUnmount, Options{MountPoint: "/mnt/borg"}, []string{"borg", "umount", "/mnt/borg"}},
		{OpKeyExport, Options{KeyFile: "/root/key.txt"}, []string{"borg", "key", "export", repo, "/root/key.txt"}},
		{OpKeyExport, Options{}, []string{"borg", "key", "export", repo}},
		{OpKeyImport, Options{KeyFile: "/root/key.txt"}, []string{"borg", "key", "import", repo, "/root/key.txt"}},
		{OpWithLock, Options{Command: []string{"rsync", "-a", "src", "dst"}}, []string{"borg", "with-lock", repo, "rsync", "-a", "src", "dst"}},
		{OpImportTar, Options{Archive: "a1", TarFile: "in.tar"}, []string{"borg", "import-tar", repo + "::a1", "in.tar"}},
		{OpExportTar, Options{Archive: "a1", TarFile: "out.tar"}, []string{"borg", "export-tar", repo + "::a1", "out.tar"}},
		{OpDiff, Options{Archive: "a1", Archive2: "a2"}, []string{"borg", "diff", repo + "::a1", "a2"}},
		{OpRecreate, Options{DryRun: true}, []string{"borg", "recreate", "--list", "--compression", "zstd", "--exclude", "var/tmp/*", "--dry-run", repo}},
		{OpServe, Options{Paths: []string{"/srv/borg"}}, []string{"borg", "serve", "--restrict-to-path", "/srv/borg"}},
		{OpBenchmark, Options{Destination: "/tmp/bench"}, []string{"borg", "benchmark", "crud", repo, "/tmp/bench"}},
		{OpBreakLock, Options{}, []string{"borg", "break-lock", repo}},
		{OpCompact, Options{}, []string{"borg", "compact", "--progress", repo}},
		{OpUpgrade, Options{}, []string{"borg", "upgrade", repo}},
		{OpDebug, Options{}, []string{"borg", "debug", "info"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			argv, err := Build(borgProfile(), tt.op, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, argv)
		})
	}
}

func TestBuild_Restic(t *testing.T) {
	repo := []string{"--repo", "s3:https://s3.example.com/bucket/web01"}
	with := func(parts ...[]string) []string {
		var out []string
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	tests := []struct {
		op   Operation
		opts Options
		want []string
	}{
		{OpInit, Options{}, with([]string{"restic", "init"}, repo)},
		{OpCreate, Options{DryRun: true}, with(
			[]string{"restic", "backup"}, repo,
			[]string{"--verbose", "--host", "web01", "--tag", "nightly", "/etc", "/home",
				"--compression", "auto", "--exclude", "var/tmp/*", "--dry-run"},
		)},
		{OpPrune, Options{}, with([]string{"restic", "forget"}, repo,
			[]string{"--prune", "--keep-daily", "7", "--keep-weekly", "4", "--keep-monthly", "6"})},
		{OpCheck, Options{VerifyData: true}, with([]string{"restic", "check"}, repo, []string{"--read-data"})},
		{OpList, Options{}, with([]string{"restic", "snapshots"}, repo)},
		{OpInfo, Options{Archive: "abc123"}, with([]string{"restic", "stats"}, repo, []string{"abc123"})},
		{OpExtract, Options{Destination: "/restore"}, with([]string{"restic", "restore"}, repo,
			[]string{"latest", "--target", "/restore"})},
		{OpDelete, Options{Archive: "abc123"}, with([]string{"restic", "forget"}, repo, []string{"abc123"})},
		{OpMount, Options{MountPoint: "/mnt/restic"}, with([]string{"restic", "mount"}, repo, []string{"/mnt/restic"})},
		{OpDiff, Options{Archive: "a", Archive2: "b"}, with([]string{"restic", "diff"}, repo, []string{"a", "b"})},
		{OpRecreate, Options{}, with([]string{"restic", "rewrite"}, repo, []string{"--exclude", "var/tmp/*"})},
		{OpBreakLock, Options{}, with([]string{"restic", "unlock"}, repo)},
		{OpCompact, Options{}, with([]string{"restic", "prune"}, repo)},
		{OpUpgrade, Options{}, with([]string{"restic", "migrate"}, repo)},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			argv, err := Build(resticProfile(), tt.op, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, argv)
		})
	}
}

func TestBuild_Restic_Unsupported(t *testing.T) {
	for _, op := range []Operation{OpRename, OpUnmount, OpKeyExport, OpKeyImport, OpWithLock,
		OpImportTar, OpExportTar, OpServe, OpBenchmark, OpDebug} {
		t.Run(string(op), func(t *testing.T) {
			_, err := Build(resticProfile(), op, Options{
				Archive: "a", Archive2: "b", NewName: "c", MountPoint: "/mnt", TarFile: "t.tar",
				KeyFile: "k", Command: []string{"true"}, Destination: "/tmp",
			})
			assert.ErrorIs(t, err, models.ErrUnsupportedOperation)
		})
	}
}

func TestBuild_UnknownOperation(t *testing.T) {
	_, err := Build(borgProfile(), Operation("config"), Options{})

	assert.ErrorIs(t, err, models.ErrUnknownOperation)
}

func TestBuild_MissingOptions(t *testing.T) {
	tests := []struct {
		tool models.Tool
		op   Operation
	}{
		{models.ToolBorg, OpExtract},
		{models.ToolBorg, OpDelete},
		{models.ToolBorg, OpRename},
		{models.ToolBorg, OpMount},
		{models.ToolBorg, OpUnmount},
		{models.ToolBorg, OpKeyImport},
		{models.ToolBorg, OpWithLock},
		{models.ToolBorg, OpImportTar},
		{models.ToolBorg, OpExportTar},
		{models.ToolBorg, OpDiff},
		{models.ToolBorg, OpBenchmark},
		{models.ToolRestic, OpExtract},
		{models.ToolRestic, OpDelete},
		{models.ToolRestic, OpMount},
		{models.ToolRestic, OpDiff},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.tool, tt.op), func(t *testing.T) {
			p := borgProfile()
			p.Tool = tt.tool
			_, err := Build(p, tt.op, Options{})
			assert.ErrorIs(t, err, models.ErrMissingOption)
		})
	}
}

func TestBuild_EveryOperationHasBorgMapping(t *testing.T) {
	opts := Options{
		Archive: "a", Archive2: "b", NewName: "c", MountPoint: "/mnt", TarFile: "t.tar",
		KeyFile: "k", Command: []string{"true"}, Destination: "/tmp",
	}
	for _, op := range Operations() {
		argv, err := Build(borgProfile(), op, opts)
		require.NoError(t, err, op)
		assert.Equal(t, "borg", argv[0])
		assert.NotContains(t, argv, "secret", "passphrase must never reach argv")
	}
}

func TestResticCompression(t *testing.T) {
	tests := map[string]string{
		"zstd":    "auto",
		"zstd,10": "auto",
		"lz4":     "auto",
		"none":    "off",
		"off":     "off",
		"max":     "max",
		"AUTO":    "auto",
		"fastest": "fastest",
	}
	for in, want := range tests {
		assert.Equal(t, want, resticCompression(in), in)
	}
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "web01-2024-03-09T02:30:05", ArchiveName("web01", fixedNow, ""))
	assert.Equal(t, "web01-2024-03-09T02:30:05-deadbeef", ArchiveName("web01", fixedNow, "deadbeef"))
}

func TestNewSuffix(t *testing.T) {
	a, b := NewSuffix(), NewSuffix()

	assert.Len(t, a, 8)
	assert.Regexp(t, `^[0-9a-f]{8}$`, a)
	assert.NotEqual(t, a, b)
}

func TestOperations(t *testing.T) {
	ops := Operations()

	assert.Len(t, ops, 24)
	seen := map[Operation]bool{}
	for _, op := range ops {
		assert.False(t, seen[op], "duplicate %s", op)
		seen[op] = true
		assert.NotEmpty(t, op.Description())
	}
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation(" Create ")
	require.NoError(t, err)
	assert.Equal(t, OpCreate, op)

	op, err = ParseOperation("umount")
	require.NoError(t, err)
	assert.Equal(t, OpUnmount, op)

	_, err = ParseOperation("config")
	assert.ErrorIs(t, err, models.ErrUnknownOperation)
}
