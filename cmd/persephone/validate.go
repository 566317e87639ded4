package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fgeck/persephone/internal/config"
	"github.com/fgeck/persephone/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without running the backup tool.
The fleet file is checked too when it exists.`,
	RunE: validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	profile, err := newApp().loadProfile()
	if err != nil {
		return err
	}

	if missing := config.Validate(*profile); len(missing) > 0 {
		fmt.Println("Missing configuration values:")
		for _, m := range missing {
			fmt.Printf("  - %s\n", m)
		}
		err := &models.MissingConfigError{Fields: missing}
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Tool: %s\n", profile.Tool)
	fmt.Printf("  Repository: %s\n", profile.RepositoryLocator)
	fmt.Printf("  Encryption: %s\n", profile.EncryptionMode)
	fmt.Printf("  Initialized: %v\n", profile.Initialized)
	fmt.Printf("  Compression: %s\n", profile.Compression)
	fmt.Printf("  Paths: %s\n", strings.Join(profile.IncludePaths, ", "))
	fmt.Printf("  Excludes: %s\n", strings.Join(profile.ExcludePatterns, ", "))
	if profile.Host != "" {
		fmt.Printf("  Host: %s\n", profile.Host)
	}
	fmt.Println()
	fmt.Println("Retention Policy:")
	fmt.Printf("  Keep daily: %d\n", profile.Retention.Daily)
	fmt.Printf("  Keep weekly: %d\n", profile.Retention.Weekly)
	fmt.Printf("  Keep monthly: %d\n", profile.Retention.Monthly)
	fmt.Printf("  Keep yearly: %d\n", profile.Retention.Yearly)
	fmt.Println()
	fmt.Printf("Telegram: %v\n", profile.Telegram != nil)

	if _, err := os.Stat(fleetFile); err != nil {
		return nil
	}
	cfg, err := loadFleet()
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Printf("Fleet (%s):\n", fleetFile)
	for _, t := range cfg.Targets {
		fmt.Printf("  %s: %s@%s:%d, %d file(s), WOL: %v\n", t.Name, t.User, t.Host, t.Port, len(t.RemoteFilePaths), t.Wake != nil)
	}
	return nil
}
