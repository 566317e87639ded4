// Package command maps a backup profile and an operation onto the argv and
// environment of the external backup tool. It performs no I/O.
package command

import (
	"fmt"
	"strings"

	"github.com/fgeck/persephone/internal/models"
)

// Operation names one action of the external tool.
type Operation string

// Supported operations.
const (
	OpBenchmark Operation = "benchmark"
	OpBreakLock Operation = "break-lock"
	OpCheck     Operation = "check"
	OpCompact   Operation = "compact"
	OpCreate    Operation = "create"
	OpDebug     Operation = "debug"
	OpDelete    Operation = "delete"
	OpDiff      Operation = "diff"
	OpExportTar Operation = "export-tar"
	OpExtract   Operation = "extract"
	OpImportTar Operation = "import-tar"
	OpInfo      Operation = "info"
	OpInit      Operation = "init"
	OpKeyExport Operation = "key-export"
	OpKeyImport Operation = "key-import"
	OpList      Operation = "list"
	OpMount     Operation = "mount"
	OpPrune     Operation = "prune"
	OpRecreate  Operation = "recreate"
	OpRename    Operation = "rename"
	OpServe     Operation = "serve"
	OpUnmount   Operation = "unmount"
	OpUpgrade   Operation = "upgrade"
	OpWithLock  Operation = "with-lock"
)

// operations is the menu order; the menu numbers entries from 1.
var operations = []Operation{
	OpBenchmark, OpBreakLock, OpCheck, OpCompact, OpCreate, OpDebug,
	OpDelete, OpDiff, OpExportTar, OpExtract, OpImportTar, OpInfo,
	OpInit, OpKeyExport, OpKeyImport, OpList, OpMount, OpPrune,
	OpRecreate, OpRename, OpServe, OpUnmount, OpUpgrade, OpWithLock,
}

var descriptions = map[Operation]string{
	OpBenchmark: "Benchmark repository performance",
	OpBreakLock: "Break a stale repository lock",
	OpCheck:     "Verify repository consistency",
	OpCompact:   "Free unused repository space",
	OpCreate:    "Create a new archive",
	OpDebug:     "Show debugging information",
	OpDelete:    "Delete an archive",
	OpDiff:      "Compare two archives",
	OpExportTar: "Export an archive as a tarball",
	OpExtract:   "Extract an archive",
	OpImportTar: "Import a tarball as an archive",
	OpInfo:      "Show repository or archive details",
	OpInit:      "Initialize the repository",
	OpKeyExport: "Export the repository key",
	OpKeyImport: "Import a repository key",
	OpList:      "List archives",
	OpMount:     "Mount the repository or an archive",
	OpPrune:     "Apply the retention policy",
	OpRecreate:  "Recreate archives with current excludes",
	OpRename:    "Rename an archive",
	OpServe:     "Start a repository server",
	OpUnmount:   "Unmount a mounted repository",
	OpUpgrade:   "Upgrade the repository format",
	OpWithLock:  "Run a command while holding the repository lock",
}

// Operations returns every supported operation in menu order.
func Operations() []Operation {
	return append([]Operation(nil), operations...)
}

// Description returns a one-line summary for menus and help output.
func (o Operation) Description() string {
	return descriptions[o]
}

// ParseOperation resolves an operation name. "umount" is accepted for unmount.
func ParseOperation(s string) (Operation, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "umount" {
		name = string(OpUnmount)
	}
	op := Operation(name)
	if _, ok := descriptions[op]; !ok {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownOperation, s)
	}
	return op, nil
}
