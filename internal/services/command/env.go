package command

import (
	"sort"
	"strings"

	"github.com/fgeck/persephone/internal/models"
	"github.com/kballard/go-shellquote"
)

// Env returns the KEY=VALUE overlay carrying the profile's credentials. The
// result is sorted so callers and tests see a stable order.
func Env(profile models.BackupProfile) []string {
	var env []string
	add := func(k, v string) {
		if v != "" {
			env = append(env, k+"="+v)
		}
	}

	switch profile.Tool {
	case models.ToolRestic:
		if profile.Passphrase != "" {
			add("RESTIC_PASSWORD", profile.Passphrase)
		} else {
			add("RESTIC_PASSWORD_FILE", profile.PassphraseFile)
		}
	default:
		if profile.Passphrase != "" {
			add("BORG_PASSPHRASE", profile.Passphrase)
		} else if profile.PassphraseFile != "" {
			add("BORG_PASSCOMMAND", shellquote.Join("cat", profile.PassphraseFile))
		}
		add("BORG_RSH", profile.RSH)
		if profile.EncryptionMode == models.EncryptionNone {
			add("BORG_UNKNOWN_UNENCRYPTED_REPO_ACCESS_IS_OK", "yes")
		}
	}

	add("AWS_ACCESS_KEY_ID", profile.AccessKeyID)
	add("AWS_SECRET_ACCESS_KEY", profile.SecretAccessKey)

	sort.Strings(env)
	return env
}

// EnvNames returns only the variable names of an overlay, for logging.
func EnvNames(env []string) []string {
	names := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		names = append(names, name)
	}
	return names
}
