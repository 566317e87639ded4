// Package config provides configuration file parsing and persistence.
package config

import (
	"fmt"
	"strings"

	"github.com/fgeck/persephone/internal/models"
	"github.com/spf13/viper"
)

// Documented locations.
const (
	DefaultConfigPath = "/etc/persephone/config.yaml"
	DefaultFleetPath  = "/etc/persephone/fleet.yaml"
	DefaultLogPath    = "/var/log/persephone.log"
	DefaultVolumeDir  = "/var/backups/docker-volumes"
)

// Default values applied when a key is absent from the file.
const (
	DefaultEncryption  = models.EncryptionRepoKey
	DefaultCompression = "zstd"
)

// DefaultRetention is used when the file has no prune section.
var DefaultRetention = models.RetentionPolicy{Daily: 7, Weekly: 4, Monthly: 6}

// Parser handles YAML profile parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads a profile from a YAML file path.
func (p *Parser) LoadFile(path string) (*models.BackupProfile, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads a profile from YAML content (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupProfile, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

func (p *Parser) parse() (*models.BackupProfile, error) {
	profile := &models.BackupProfile{}

	tool, err := models.ParseTool(p.v.GetString("repository.tool"))
	if err != nil {
		return nil, err
	}
	profile.Tool = tool

	profile.RepositoryLocator = p.v.GetString("repository.locator")
	profile.Passphrase = p.v.GetString("repository.passphrase")
	profile.PassphraseFile = p.v.GetString("repository.passphrase_file")
	profile.RSH = p.v.GetString("repository.rsh")
	profile.AccessKeyID = p.v.GetString("repository.access_key_id")
	profile.SecretAccessKey = p.v.GetString("repository.secret_access_key")
	profile.Initialized = p.v.GetBool("repository.initialized")

	// Absent keys take defaults; keys present with an empty value stay empty so
	// Validate can report them.
	profile.EncryptionMode = DefaultEncryption
	if p.v.IsSet("repository.encryption") {
		raw := p.v.GetString("repository.encryption")
		if raw == "" {
			profile.EncryptionMode = ""
		} else {
			mode, err := models.ParseEncryptionMode(raw)
			if err != nil {
				return nil, err
			}
			profile.EncryptionMode = mode
		}
	}

	profile.Compression = DefaultCompression
	if p.v.IsSet("backup.compression") {
		profile.Compression = p.v.GetString("backup.compression")
	}

	profile.IncludePaths = p.stringSlice("backup.paths")
	profile.ExcludePatterns = p.stringSlice("backup.exclude_patterns")
	profile.Tags = p.stringSlice("backup.tags")
	profile.Host = p.v.GetString("backup.host")
	profile.DockerVolumeDir = p.v.GetString("backup.docker_volume_dir")

	profile.Retention = DefaultRetention
	if p.v.IsSet("backup.prune") {
		profile.Retention = models.RetentionPolicy{
			Daily:   p.v.GetInt("backup.prune.daily"),
			Weekly:  p.v.GetInt("backup.prune.weekly"),
			Monthly: p.v.GetInt("backup.prune.monthly"),
			Yearly:  p.v.GetInt("backup.prune.yearly"),
		}
	}

	if p.v.IsSet("notify.telegram") {
		profile.Telegram = &models.TelegramConfig{
			BotToken: p.v.GetString("notify.telegram.bot_token"),
			ChatID:   p.v.GetString("notify.telegram.chat_id"),
		}

		if profile.Telegram.BotToken == "" {
			return nil, fmt.Errorf("notify.telegram.bot_token is required when telegram is configured")
		}
		if profile.Telegram.ChatID == "" {
			return nil, fmt.Errorf("notify.telegram.chat_id is required when telegram is configured")
		}
	}

	return profile, nil
}

// stringSlice returns nil for absent or empty lists so round trips compare equal.
func (p *Parser) stringSlice(key string) []string {
	values := p.v.GetStringSlice(key)
	if len(values) == 0 {
		return nil
	}
	return values
}

// Defaults returns the suggestions offered during first-run setup.
func Defaults() models.BackupProfile {
	return models.BackupProfile{
		Tool:              models.ToolBorg,
		RepositoryLocator: "user@backup-hostname:/path/to/borgRepo",
		EncryptionMode:    DefaultEncryption,
		Compression:       DefaultCompression,
		RSH:               "ssh -i /root/.ssh/id_ed25519",
		IncludePaths:      []string{"/var", "/etc", "/home", "/root", "/opt", "/mnt", "/usr"},
		ExcludePatterns:   []string{"home/*/.cache/*", "var/tmp/*"},
		Retention:         models.RetentionPolicy{Daily: 7, Weekly: 4, Monthly: 6, Yearly: 1},
	}
}
