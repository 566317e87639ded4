package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrImmutableField is returned when an edit touches a field fixed by repository initialization.
	ErrImmutableField = errors.New("field cannot be changed after the repository was initialized")

	// ErrUnknownOperation is returned for operation names outside the supported set.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrUnsupportedOperation is returned when the selected tool has no equivalent operation.
	ErrUnsupportedOperation = errors.New("operation not supported by tool")

	// ErrMissingOption is returned when an operation needs an argument that was not given.
	ErrMissingOption = errors.New("missing required option")

	// ErrToolNotInstalled is returned when the backup tool binary is not on PATH.
	ErrToolNotInstalled = errors.New("backup tool is not installed")
)

// ConfigParseError reports a malformed configuration file.
type ConfigParseError struct {
	Path string
	Err  error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("parsing config %s: %v", e.Path, e.Err)
}

func (e *ConfigParseError) Unwrap() error { return e.Err }

// MissingConfigError lists every required field absent from a profile.
type MissingConfigError struct {
	Fields []MissingField
}

func (e *MissingConfigError) Error() string {
	keys := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		keys[i] = f.Key
	}
	return "missing configuration values: " + strings.Join(keys, ", ")
}

// OperationFailedError reports a non-zero exit of the external tool.
type OperationFailedError struct {
	Operation string
	ExitCode  int
	Stderr    string
}

func (e *OperationFailedError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s failed with exit code %d", e.Operation, e.ExitCode)
	}
	return fmt.Sprintf("%s failed with exit code %d: %s", e.Operation, e.ExitCode, msg)
}

// notInitializedMarkers match lower-cased stderr lines borg and restic print
// for a missing repository. "does not exist" alone also covers missing
// archives and paths, so it only counts on a line about the repository.
var notInitializedMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*(fatal: )?repository\b.*\bdoes not exist`),
	regexp.MustCompile(`is not a valid repository`),
	regexp.MustCompile(`is there a repository at the following location`),
	regexp.MustCompile(`unable to open config file`),
}

// NotInitialized reports whether stderr indicates the repository was never created.
func (e *OperationFailedError) NotInitialized() bool {
	lower := strings.ToLower(e.Stderr)
	for _, m := range notInitializedMarkers {
		if m.MatchString(lower) {
			return true
		}
	}
	return false
}

// IsNotInitialized reports whether err is an OperationFailedError for a missing repository.
func IsNotInitialized(err error) bool {
	var opErr *OperationFailedError
	return errors.As(err, &opErr) && opErr.NotInitialized()
}

// ConnectionError reports an SSH or SFTP session failure for one host.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IOError reports a local file read or write failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
