package models

import (
	"errors"
	"time"
)

// ErrContainersRunning is returned when volumes are exported while containers still use them.
var ErrContainersRunning = errors.New("containers are running, stop them before exporting volumes")

// VolumeArchive is one exported Docker volume.
type VolumeArchive struct {
	Volume    string
	Path      string
	SizeBytes int64
}

// VolumeExportResult holds the result of exporting Docker volumes to tar files.
type VolumeExportResult struct {
	Dir      string
	Archives []VolumeArchive
	Duration time.Duration
	Error    error
}
