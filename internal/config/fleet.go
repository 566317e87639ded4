package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/persephone/internal/models"
	"github.com/spf13/viper"
)

// Fleet defaults.
const (
	DefaultSSHPort = 22
	DefaultSSHUser = "root"
)

// Default Wake-on-LAN timings.
const (
	DefaultWakeTimeout       = 5 * time.Minute
	DefaultWakePollInterval  = 10 * time.Second
	DefaultWakeStabilizeWait = 30 * time.Second
)

type fleetTargetDoc struct {
	Name            string   `mapstructure:"name"`
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	User            string   `mapstructure:"user"`
	SSHKeyPath      string   `mapstructure:"ssh_key_path"`
	Files           []string `mapstructure:"files"`
	Repository      string   `mapstructure:"repo_path"`
	Paths           []string `mapstructure:"paths"`
	ExcludePatterns []string `mapstructure:"exclude_patterns"`
	Compression     string   `mapstructure:"compression"`
	Wake            *wakeDoc `mapstructure:"wake"`
}

type wakeDoc struct {
	MACAddress    string        `mapstructure:"mac_address"`
	BroadcastIP   string        `mapstructure:"broadcast_ip"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	StabilizeWait time.Duration `mapstructure:"stabilize_wait"`
}

// LoadFleet reads the fleet document at path.
func LoadFleet(path string) (*models.FleetConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrConfigNotFound, path)
		}
		return nil, &models.IOError{Op: "stat", Path: path, Err: err}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, &models.ConfigParseError{Path: path, Err: err}
	}

	fleet, err := parseFleet(v)
	if err != nil {
		return nil, &models.ConfigParseError{Path: path, Err: err}
	}
	return fleet, nil
}

// LoadFleetReader parses fleet YAML content (useful for testing).
func LoadFleetReader(content string) (*models.FleetConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading fleet config: %w", err)
	}
	return parseFleet(v)
}

func parseFleet(v *viper.Viper) (*models.FleetConfig, error) {
	var docs []fleetTargetDoc
	if err := v.UnmarshalKey("backup_targets", &docs); err != nil {
		return nil, fmt.Errorf("decoding backup_targets: %w", err)
	}

	fleet := &models.FleetConfig{Targets: make([]models.RemoteTarget, 0, len(docs))}
	for i, d := range docs {
		if d.Name == "" {
			return nil, fmt.Errorf("backup_targets[%d].name is required", i)
		}
		if d.Host == "" {
			return nil, fmt.Errorf("backup_targets[%d].host is required", i)
		}

		target := models.RemoteTarget{
			Name:            d.Name,
			Host:            d.Host,
			Port:            d.Port,
			User:            d.User,
			SSHKeyPath:      d.SSHKeyPath,
			RemoteFilePaths: d.Files,
			Repository:      d.Repository,
			Paths:           d.Paths,
			ExcludePatterns: d.ExcludePatterns,
			Compression:     d.Compression,
		}
		if target.Port == 0 {
			target.Port = DefaultSSHPort
		}
		if target.User == "" {
			target.User = DefaultSSHUser
		}
		if len(target.RemoteFilePaths) == 0 {
			target.RemoteFilePaths = []string{DefaultConfigPath}
		}

		if d.Wake != nil {
			if d.Wake.MACAddress == "" {
				return nil, fmt.Errorf("backup_targets[%d].wake.mac_address is required", i)
			}
			wake := &models.WakeConfig{
				MACAddress:    d.Wake.MACAddress,
				BroadcastIP:   d.Wake.BroadcastIP,
				Timeout:       d.Wake.Timeout,
				PollInterval:  d.Wake.PollInterval,
				StabilizeWait: d.Wake.StabilizeWait,
			}
			if wake.BroadcastIP == "" {
				wake.BroadcastIP = "255.255.255.255"
			}
			if wake.Timeout == 0 {
				wake.Timeout = DefaultWakeTimeout
			}
			if wake.PollInterval == 0 {
				wake.PollInterval = DefaultWakePollInterval
			}
			if wake.StabilizeWait == 0 {
				wake.StabilizeWait = DefaultWakeStabilizeWait
			}
			target.Wake = wake
		}

		fleet.Targets = append(fleet.Targets, target)
	}
	return fleet, nil
}
