package config

import (
	"errors"
	"fmt"

	"github.com/fgeck/persephone/internal/models"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// fieldKeys maps validator struct field names to config keys, in report order.
var fieldKeys = []struct {
	field       string
	key         string
	description string
}{
	{"RepositoryLocator", "repository.locator", "repository path, SSH location or object storage URI"},
	{"EncryptionMode", "repository.encryption", "none, repokey or keyfile"},
	{"IncludePaths", "backup.paths", "at least one path to back up"},
	{"ExcludePatterns", "backup.exclude_patterns", "at least one exclude pattern"},
	{"Compression", "backup.compression", "compression algorithm, e.g. zstd"},
}

// Validate enumerates every required value absent from the profile. An empty
// result means the profile is complete.
func Validate(profile models.BackupProfile) []models.MissingField {
	failed := map[string]bool{}
	retentionInvalid := profile.Retention.IsZero()

	if err := validate.Struct(profile); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []models.MissingField{{Key: "profile", Description: err.Error()}}
		}
		for _, fe := range verrs {
			failed[fe.StructField()] = true
			if fe.StructNamespace() != "BackupProfile."+fe.StructField() {
				retentionInvalid = true
			}
		}
	}

	var missing []models.MissingField
	for i, f := range fieldKeys {
		if failed[f.field] {
			missing = append(missing, models.MissingField{Key: f.key, Description: f.description})
		}
		if i == 0 && profile.EncryptionMode != models.EncryptionNone && !profile.HasCredential() {
			missing = append(missing, models.MissingField{
				Key:         "repository.passphrase",
				Description: "passphrase or passphrase_file",
			})
		}
	}
	if retentionInvalid {
		missing = append(missing, models.MissingField{
			Key:         "backup.prune",
			Description: "at least one non-negative keep count",
		})
	}
	return missing
}

// Check wraps Validate in a *models.MissingConfigError.
func Check(profile models.BackupProfile) error {
	if missing := Validate(profile); len(missing) > 0 {
		return &models.MissingConfigError{Fields: missing}
	}
	return nil
}

// Edit is a partial profile change. Nil fields are left untouched.
type Edit struct {
	Tool            *models.Tool
	Repository      *string
	Passphrase      *string
	PassphraseFile  *string
	Encryption      *models.EncryptionMode
	Compression     *string
	IncludePaths    []string
	ExcludePatterns []string
	KeepDaily       *int
	KeepWeekly      *int
	KeepMonthly     *int
	KeepYearly      *int
	RSH             *string
	Host            *string
	DockerVolumeDir *string
}

// IsEmpty reports whether the edit changes nothing.
func (e Edit) IsEmpty() bool {
	return e.Tool == nil && e.Repository == nil && e.Passphrase == nil && e.PassphraseFile == nil &&
		e.Encryption == nil && e.Compression == nil && e.IncludePaths == nil && e.ExcludePatterns == nil &&
		e.KeepDaily == nil && e.KeepWeekly == nil && e.KeepMonthly == nil && e.KeepYearly == nil &&
		e.RSH == nil && e.Host == nil && e.DockerVolumeDir == nil
}

// ApplyEdit applies e to profile. The repository identity (tool, locator and
// encryption) is fixed once the repository has been initialized; on error the
// profile is left unchanged.
func ApplyEdit(profile *models.BackupProfile, e Edit) error {
	if profile.Initialized {
		if e.Tool != nil && *e.Tool != profile.Tool {
			return fmt.Errorf("%w: repository.tool", models.ErrImmutableField)
		}
		if e.Repository != nil && *e.Repository != profile.RepositoryLocator {
			return fmt.Errorf("%w: repository.locator", models.ErrImmutableField)
		}
		if e.Encryption != nil && *e.Encryption != profile.EncryptionMode {
			return fmt.Errorf("%w: repository.encryption", models.ErrImmutableField)
		}
	}
	for _, n := range []*int{e.KeepDaily, e.KeepWeekly, e.KeepMonthly, e.KeepYearly} {
		if n != nil && *n < 0 {
			return fmt.Errorf("keep counts must not be negative: %d", *n)
		}
	}

	setString(&profile.RepositoryLocator, e.Repository)
	setString(&profile.Passphrase, e.Passphrase)
	setString(&profile.PassphraseFile, e.PassphraseFile)
	setString(&profile.Compression, e.Compression)
	setString(&profile.RSH, e.RSH)
	setString(&profile.Host, e.Host)
	setString(&profile.DockerVolumeDir, e.DockerVolumeDir)
	if e.Tool != nil {
		profile.Tool = *e.Tool
	}
	if e.Encryption != nil {
		profile.EncryptionMode = *e.Encryption
	}
	if e.IncludePaths != nil {
		profile.IncludePaths = append([]string(nil), e.IncludePaths...)
	}
	if e.ExcludePatterns != nil {
		profile.ExcludePatterns = append([]string(nil), e.ExcludePatterns...)
	}
	setInt(&profile.Retention.Daily, e.KeepDaily)
	setInt(&profile.Retention.Weekly, e.KeepWeekly)
	setInt(&profile.Retention.Monthly, e.KeepMonthly)
	setInt(&profile.Retention.Yearly, e.KeepYearly)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
