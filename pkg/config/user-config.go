package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	yamlv3 "gopkg.in/yaml.v3"
)

// UserConfig holds the user-editable sync settings, loaded from a YAML file
// and overridable via ARIA_SYNC_* environment variables.
type UserConfig struct {
	ConflictPolicy        string        `koanf:"conflict_policy" yaml:"conflict_policy" json:"conflict_policy" default:"keep_newest"`
	HardDelete            bool          `koanf:"hard_delete" yaml:"hard_delete" json:"hard_delete"`
	JobHistoryLimit       int           `koanf:"job_history_limit" yaml:"job_history_limit" json:"job_history_limit" default:"20"`
	ProcessingConcurrency int           `koanf:"processing_concurrency" yaml:"processing_concurrency" json:"processing_concurrency" default:"4"`
	ProgressCadence       int           `koanf:"progress_cadence" yaml:"progress_cadence" json:"progress_cadence" default:"10"`
	RetryBaseDelay        time.Duration `koanf:"retry_base_delay" yaml:"retry_base_delay" json:"retry_base_delay" default:"2s"`
	RetryCeiling          int           `koanf:"retry_ceiling" yaml:"retry_ceiling" json:"retry_ceiling" default:"3"`
	RetryMaxDelay         time.Duration `koanf:"retry_max_delay" yaml:"retry_max_delay" json:"retry_max_delay" default:"5m"`
	SyncIntervalMinutes   int           `koanf:"sync_interval_minutes" yaml:"sync_interval_minutes" json:"sync_interval_minutes" default:"60"`
	UnmeteredOnly         bool          `koanf:"unmetered_only" yaml:"unmetered_only" json:"unmetered_only"`
}

func userConfigFilePath() string {
	configDir := os.Getenv("CONFIG_DIRECTORY")
	if configDir == "" {
		configDir = "/config"
	}

	return filepath.Join(configDir, "config.yaml")
}

func loadUserConfig(configFilePath string) (*UserConfig, error) {
	userConfig := &UserConfig{}
	if err := defaults.Set(userConfig); err != nil {
		return nil, errors.WithStack(err)
	}

	k := koanf.New(".")

	err := k.Load(file.Provider(configFilePath), yaml.Parser())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.WithStack(err)
	}

	// Environment variables win over the file, e.g.
	// ARIA_SYNC_CONFLICT_POLICY=keep_both.
	err = k.Load(env.Provider("ARIA_SYNC_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "ARIA_SYNC_"))
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.Unmarshal("", userConfig); err != nil {
		return nil, errors.WithStack(err)
	}

	return userConfig, nil
}

func saveUserConfigFile(userConfig *UserConfig, userConfigFilePath string) error {
	// Ensure config directory exists.
	if err := os.MkdirAll(filepath.Dir(userConfigFilePath), 0755); err != nil {
		return errors.WithStack(err)
	}

	data, err := yamlv3.Marshal(userConfig)
	if err != nil {
		return errors.WithStack(err)
	}

	err = os.WriteFile(userConfigFilePath, data, 0644) //nolint:gosec
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
