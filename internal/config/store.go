package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fgeck/persephone/internal/models"
	"github.com/fgeck/persephone/internal/safefs"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ConfigFilePerm keeps credentials readable by the owner only.
const ConfigFilePerm = 0o600

// Store loads and persists a BackupProfile at a fixed path. The format follows
// the file extension: .yaml/.yml is YAML, anything else is flat KEY="value".
type Store struct {
	path   string
	logger zerolog.Logger
}

// NewStore creates a store for the given path.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the configuration file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the configuration file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// IsFlat reports whether the store uses the flat KEY="value" format.
func (s *Store) IsFlat() bool {
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yaml", ".yml":
		return false
	default:
		return true
	}
}

// Load reads the profile. A missing file yields ErrConfigNotFound and malformed
// content a *models.ConfigParseError; no partial profile is returned in either case.
func (s *Store) Load() (*models.BackupProfile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrConfigNotFound, s.path)
		}
		return nil, &models.IOError{Op: "read", Path: s.path, Err: err}
	}

	var profile *models.BackupProfile
	if s.IsFlat() {
		profile, err = ParseEnvFile(bytes.NewReader(data))
	} else {
		profile, err = NewParser().LoadReader(string(data))
	}
	if err != nil {
		return nil, &models.ConfigParseError{Path: s.path, Err: err}
	}

	s.logger.Debug().Str("file", s.path).Msg("configuration loaded")
	return profile, nil
}

// Save serializes the complete profile and atomically replaces the file.
func (s *Store) Save(profile models.BackupProfile) error {
	var data []byte
	if s.IsFlat() {
		data = MarshalEnvFile(profile)
	} else {
		var err error
		data, err = MarshalYAML(profile)
		if err != nil {
			return fmt.Errorf("encoding profile: %w", err)
		}
	}

	if err := safefs.WriteFileAtomic(s.path, data, ConfigFilePerm); err != nil {
		return &models.IOError{Op: "write", Path: s.path, Err: err}
	}

	s.logger.Info().Str("file", s.path).Msg("configuration saved")
	return nil
}

type profileDoc struct {
	Repository repositoryDoc `yaml:"repository"`
	Backup     backupDoc     `yaml:"backup"`
	Notify     *notifyDoc    `yaml:"notify,omitempty"`
}

type repositoryDoc struct {
	Tool            string `yaml:"tool"`
	Locator         string `yaml:"locator"`
	Passphrase      string `yaml:"passphrase,omitempty"`
	PassphraseFile  string `yaml:"passphrase_file,omitempty"`
	Encryption      string `yaml:"encryption"`
	RSH             string `yaml:"rsh,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	Initialized     bool   `yaml:"initialized"`
}

type backupDoc struct {
	Paths           []string `yaml:"paths"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	Compression     string   `yaml:"compression"`
	Host            string   `yaml:"host,omitempty"`
	Tags            []string `yaml:"tags,omitempty"`
	DockerVolumeDir string   `yaml:"docker_volume_dir,omitempty"`
	Prune           pruneDoc `yaml:"prune"`
}

type pruneDoc struct {
	Daily   int `yaml:"daily"`
	Weekly  int `yaml:"weekly"`
	Monthly int `yaml:"monthly"`
	Yearly  int `yaml:"yearly"`
}

type notifyDoc struct {
	Telegram *telegramDoc `yaml:"telegram,omitempty"`
}

type telegramDoc struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MarshalYAML renders a profile in the sectioned YAML layout read by Parser.
func MarshalYAML(profile models.BackupProfile) ([]byte, error) {
	doc := profileDoc{
		Repository: repositoryDoc{
			Tool:            string(profile.Tool),
			Locator:         profile.RepositoryLocator,
			Passphrase:      profile.Passphrase,
			PassphraseFile:  profile.PassphraseFile,
			Encryption:      string(profile.EncryptionMode),
			RSH:             profile.RSH,
			AccessKeyID:     profile.AccessKeyID,
			SecretAccessKey: profile.SecretAccessKey,
			Initialized:     profile.Initialized,
		},
		Backup: backupDoc{
			Paths:           profile.IncludePaths,
			ExcludePatterns: profile.ExcludePatterns,
			Compression:     profile.Compression,
			Host:            profile.Host,
			Tags:            profile.Tags,
			DockerVolumeDir: profile.DockerVolumeDir,
			Prune: pruneDoc{
				Daily:   profile.Retention.Daily,
				Weekly:  profile.Retention.Weekly,
				Monthly: profile.Retention.Monthly,
				Yearly:  profile.Retention.Yearly,
			},
		},
	}
	if profile.Telegram != nil {
		doc.Notify = &notifyDoc{Telegram: &telegramDoc{
			BotToken: profile.Telegram.BotToken,
			ChatID:   profile.Telegram.ChatID,
		}}
	}

	var buf bytes.Buffer
	buf.WriteString("# persephone backup profile\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
