package models

import "time"

// FleetConfig is the central document enumerating remote hosts.
type FleetConfig struct {
	Targets []RemoteTarget
}

// RemoteTarget is one host taking part in fleet retrieval or backup.
type RemoteTarget struct {
	Name            string
	Host            string
	Port            int
	User            string
	SSHKeyPath      string
	PrivateKey      []byte // loaded from SSHKeyPath when nil
	RemoteFilePaths []string

	// Optional per-host backup overrides for fleet backups.
	Repository      string
	Paths           []string
	ExcludePatterns []string
	Compression     string

	Wake *WakeConfig // nil if the host is always on
}

// TargetResult holds the outcome of processing one target.
type TargetResult struct {
	Name     string
	Host     string
	Files    []string // retrieved local paths, or the archive a backup created
	Duration time.Duration
	Err      error
}

// FleetReport collects per-target results in processing order.
type FleetReport struct {
	Operation string
	Results   []TargetResult
}

// Succeeded returns the results without an error.
func (r FleetReport) Succeeded() []TargetResult {
	var out []TargetResult
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the results carrying an error.
func (r FleetReport) Failed() []TargetResult {
	var out []TargetResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// ScheduleEntry is one line in the cron table.
type ScheduleEntry struct {
	TimeFields  [5]string
	CommandLine string
}
