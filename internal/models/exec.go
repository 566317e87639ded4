package models

import "time"

// ExecRequest describes one external tool invocation.
type ExecRequest struct {
	Operation string
	Argv      []string
	Env       []string      // KEY=VALUE overlay; values may be secret
	Dir       string        // working directory for local runs, empty for current
	Target    *RemoteTarget // nil runs locally
}

// ExecResult holds the outcome of one invocation.
type ExecResult struct {
	Operation string
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
}
