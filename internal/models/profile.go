// Package models contains the data structures used throughout persephone.
package models

import (
	"fmt"
	"strings"
)

// Tool identifies the external backup program a profile drives.
type Tool string

// Supported backup tools.
const (
	ToolBorg   Tool = "borg"
	ToolRestic Tool = "restic"
)

// ParseTool converts a config value into a Tool.
func ParseTool(s string) (Tool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "borg", "borgbackup":
		return ToolBorg, nil
	case "restic":
		return ToolRestic, nil
	default:
		return "", fmt.Errorf("unknown tool %q (expected borg or restic)", s)
	}
}

// EncryptionMode is chosen once at repository creation.
type EncryptionMode string

// Encryption modes understood by borg init. restic always encrypts.
const (
	EncryptionNone    EncryptionMode = "none"
	EncryptionRepoKey EncryptionMode = "repokey"
	EncryptionKeyFile EncryptionMode = "keyfile"
)

// ParseEncryptionMode accepts the borg spelling and the hyphenated aliases.
func ParseEncryptionMode(s string) (EncryptionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return EncryptionNone, nil
	case "repokey", "repo-key":
		return EncryptionRepoKey, nil
	case "keyfile", "key-file":
		return EncryptionKeyFile, nil
	default:
		return "", fmt.Errorf("unknown encryption mode %q (expected none, repokey or keyfile)", s)
	}
}

// BackupProfile holds one backup destination and its policy.
type BackupProfile struct {
	Tool              Tool
	RepositoryLocator string         `validate:"required"`
	Passphrase        string         // never logged
	PassphraseFile    string         // alternative to Passphrase
	EncryptionMode    EncryptionMode `validate:"required"`
	Compression       string         `validate:"required"`
	IncludePaths      []string       `validate:"min=1"`
	ExcludePatterns   []string       `validate:"min=1"`
	Retention         RetentionPolicy

	RSH             string // BORG_RSH, e.g. "ssh -i /root/.ssh/id_ed25519"
	AccessKeyID     string // object storage repositories
	SecretAccessKey string // never logged
	Host            string // archive/snapshot host name; hostname when empty
	Tags            []string
	DockerVolumeDir string // volumes are exported here before create when set
	Initialized     bool   // set after the first successful init

	Telegram *TelegramConfig // nil if not configured
}

// RetentionPolicy defines how many archives to keep per period.
type RetentionPolicy struct {
	Daily   int `validate:"gte=0"`
	Weekly  int `validate:"gte=0"`
	Monthly int `validate:"gte=0"`
	Yearly  int `validate:"gte=0"`
}

// IsZero reports whether no generation would be kept at all.
func (r RetentionPolicy) IsZero() bool {
	return r.Daily == 0 && r.Weekly == 0 && r.Monthly == 0 && r.Yearly == 0
}

// HasCredential reports whether a passphrase or passphrase file is configured.
func (p BackupProfile) HasCredential() bool {
	return p.Passphrase != "" || p.PassphraseFile != ""
}

// IsObjectStorage reports whether the repository lives in an S3-compatible bucket.
func (p BackupProfile) IsObjectStorage() bool {
	return strings.HasPrefix(p.RepositoryLocator, "s3:")
}

// Clone returns a deep copy so edits never alias the original slices.
func (p BackupProfile) Clone() BackupProfile {
	c := p
	c.IncludePaths = append([]string(nil), p.IncludePaths...)
	c.ExcludePatterns = append([]string(nil), p.ExcludePatterns...)
	c.Tags = append([]string(nil), p.Tags...)
	if p.Telegram != nil {
		t := *p.Telegram
		c.Telegram = &t
	}
	return c
}

// MissingField names a required configuration value that is absent.
type MissingField struct {
	Key         string // config key, e.g. "repository.locator"
	Description string
}

func (f MissingField) String() string {
	return fmt.Sprintf("%s (%s)", f.Key, f.Description)
}
