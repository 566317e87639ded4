package config

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fgeck/persephone/internal/models"
	"github.com/joho/godotenv"
)

// Keys of the flat KEY="value" format.
const (
	keyTool            = "TOOL"
	keyRepository      = "REPOSITORY"
	keyPassphrase      = "PASSPHRASE"
	keyPassphraseFile  = "PASSPHRASE_FILE"
	keyEncryption      = "ENCRYPTION"
	keyCompression     = "COMPRESSION"
	keyBackupPaths     = "BACKUP_PATHS"
	keyExcludePatterns = "EXCLUDE_PATTERNS"
	keyKeepDaily       = "KEEP_DAILY"
	keyKeepWeekly      = "KEEP_WEEKLY"
	keyKeepMonthly     = "KEEP_MONTHLY"
	keyKeepYearly      = "KEEP_YEARLY"
	keyRSH             = "RSH"
	keyAccessKeyID     = "AWS_ACCESS_KEY_ID"
	keySecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	keyHost            = "BACKUP_HOST"
	keyTags            = "BACKUP_TAGS"
	keyDockerVolumeDir = "DOCKER_VOLUME_DIR"
	keyInitialized     = "INITIALIZED"
	keyTelegramToken   = "TELEGRAM_BOT_TOKEN"
	keyTelegramChatID  = "TELEGRAM_CHAT_ID"
)

// legacyKeys maps names used by the older shell-script configs.
var legacyKeys = map[string]string{
	"BACKUP_PATHS_STR": keyBackupPaths,
	"PERS_PASSWD_FILE": keyPassphraseFile,
}

// ParseEnvFile reads a flat profile. Comments and blank lines are ignored.
func ParseEnvFile(r io.Reader) (*models.BackupProfile, error) {
	values, err := godotenv.Parse(r)
	if err != nil {
		return nil, err
	}
	for legacy, key := range legacyKeys {
		if v, ok := values[legacy]; ok {
			if _, exists := values[key]; !exists {
				values[key] = v
			}
		}
	}

	profile := &models.BackupProfile{}

	tool, err := models.ParseTool(values[keyTool])
	if err != nil {
		return nil, err
	}
	profile.Tool = tool

	profile.RepositoryLocator = values[keyRepository]
	profile.Passphrase = values[keyPassphrase]
	profile.PassphraseFile = values[keyPassphraseFile]
	profile.RSH = values[keyRSH]
	profile.AccessKeyID = values[keyAccessKeyID]
	profile.SecretAccessKey = values[keySecretAccessKey]
	profile.Host = values[keyHost]
	profile.IncludePaths = splitList(values[keyBackupPaths])
	profile.ExcludePatterns = splitList(values[keyExcludePatterns])
	profile.Tags = splitList(values[keyTags])
	profile.DockerVolumeDir = values[keyDockerVolumeDir]

	if raw, ok := values[keyInitialized]; ok && raw != "" {
		profile.Initialized, err = strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keyInitialized, err)
		}
	}

	profile.EncryptionMode = DefaultEncryption
	if raw, ok := values[keyEncryption]; ok {
		profile.EncryptionMode = ""
		if raw != "" {
			if profile.EncryptionMode, err = models.ParseEncryptionMode(raw); err != nil {
				return nil, err
			}
		}
	}

	profile.Compression = DefaultCompression
	if raw, ok := values[keyCompression]; ok {
		profile.Compression = raw
	}

	profile.Retention = DefaultRetention
	if hasAny(values, keyKeepDaily, keyKeepWeekly, keyKeepMonthly, keyKeepYearly) {
		var r models.RetentionPolicy
		for key, dst := range map[string]*int{
			keyKeepDaily:   &r.Daily,
			keyKeepWeekly:  &r.Weekly,
			keyKeepMonthly: &r.Monthly,
			keyKeepYearly:  &r.Yearly,
		} {
			raw := values[key]
			if raw == "" {
				continue
			}
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
		profile.Retention = r
	}

	token, chatID := values[keyTelegramToken], values[keyTelegramChatID]
	if token != "" || chatID != "" {
		if token == "" || chatID == "" {
			return nil, fmt.Errorf("%s and %s must be set together", keyTelegramToken, keyTelegramChatID)
		}
		profile.Telegram = &models.TelegramConfig{BotToken: token, ChatID: chatID}
	}

	return profile, nil
}

// MarshalEnvFile renders a profile in the flat format with sorted keys.
func MarshalEnvFile(profile models.BackupProfile) []byte {
	values := map[string]string{
		keyTool:            string(profile.Tool),
		keyRepository:      profile.RepositoryLocator,
		keyEncryption:      string(profile.EncryptionMode),
		keyCompression:     profile.Compression,
		keyBackupPaths:     joinList(profile.IncludePaths),
		keyExcludePatterns: joinList(profile.ExcludePatterns),
		keyKeepDaily:       strconv.Itoa(profile.Retention.Daily),
		keyKeepWeekly:      strconv.Itoa(profile.Retention.Weekly),
		keyKeepMonthly:     strconv.Itoa(profile.Retention.Monthly),
		keyKeepYearly:      strconv.Itoa(profile.Retention.Yearly),
		keyInitialized:     strconv.FormatBool(profile.Initialized),
	}
	optional := map[string]string{
		keyPassphrase:      profile.Passphrase,
		keyPassphraseFile:  profile.PassphraseFile,
		keyRSH:             profile.RSH,
		keyAccessKeyID:     profile.AccessKeyID,
		keySecretAccessKey: profile.SecretAccessKey,
		keyHost:            profile.Host,
		keyTags:            joinList(profile.Tags),
		keyDockerVolumeDir: profile.DockerVolumeDir,
	}
	for k, v := range optional {
		if v != "" {
			values[k] = v
		}
	}
	if profile.Telegram != nil {
		values[keyTelegramToken] = profile.Telegram.BotToken
		values[keyTelegramChatID] = profile.Telegram.ChatID
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// godotenv.Marshal writes integer-looking values unquoted, which would turn a
	// passphrase like "0123" into 123, so every value is quoted here.
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=\"%s\"\n", k, quoteEscaper.Replace(values[k]))
	}
	return []byte(b.String())
}

// quoteEscaper mirrors the escaping godotenv undoes for double-quoted values.
var quoteEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	`"`, `\"`,
	`!`, `\!`,
	`$`, `\$`,
	"`", "\\`",
)

// joinList terminates every element with a newline so a single entry
// containing spaces is not split again on load.
func joinList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return strings.Join(items, "\n") + "\n"
}

// splitList accepts newline-separated values (as written by MarshalEnvFile) or
// the whitespace-separated form used by hand-written files.
func splitList(raw string) []string {
	var parts []string
	if strings.Contains(raw, "\n") {
		parts = strings.Split(raw, "\n")
	} else {
		parts = strings.Fields(raw)
	}

	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hasAny(values map[string]string, keys ...string) bool {
	for _, k := range keys {
		if _, ok := values[k]; ok {
			return true
		}
	}
	return false
}
